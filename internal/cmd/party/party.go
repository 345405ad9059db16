// Package party parses party command flags and composes the session hub.
package party

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	entrypoint "github.com/wrenfield/partymode/internal/platform/cmd"
	server "github.com/wrenfield/partymode/internal/services/party/app"
	"github.com/wrenfield/partymode/internal/services/party/gamestate"
	"github.com/wrenfield/partymode/internal/services/party/queue"
	"github.com/wrenfield/partymode/internal/services/party/storage/sqlite"
	"github.com/wrenfield/partymode/internal/services/party/token"
)

// Config holds party command configuration.
type Config struct {
	HTTPAddr          string        `env:"PARTY_MODE_HTTP_ADDR"          envDefault:":8090"`
	DataDir           string        `env:"PARTY_MODE_DATA_DIR"           envDefault:"data"`
	Participants      string        `env:"PARTY_MODE_PARTICIPANTS"       envDefault:""`
	HeartbeatInterval time.Duration `env:"PARTY_MODE_HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"PARTY_MODE_HEARTBEAT_TIMEOUT"  envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"PARTY_MODE_SHUTDOWN_TIMEOUT"   envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "party HTTP listen address")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for session journals and the character database")
	fs.StringVar(&cfg.Participants, "participants", cfg.Participants, "comma-separated id:role pairs, e.g. alice:player,eve:dm")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "interval between websocket pings")
	fs.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "close connections silent for this long")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful HTTP shutdown budget")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseParticipants turns "alice:player,bob:player,eve:dm" into a role table.
// A pair without a role defaults to player.
func ParseParticipants(raw string) (gamestate.RoleTable, error) {
	roles := gamestate.RoleTable{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, roleName, _ := strings.Cut(pair, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("participant entry %q has no id", pair)
		}
		role := gamestate.RolePlayer
		switch strings.TrimSpace(roleName) {
		case "", "player":
		case "dm":
			role = gamestate.RoleDM
		case "observer":
			role = gamestate.RoleObserver
		default:
			return nil, fmt.Errorf("participant %s has unknown role %q", id, roleName)
		}
		roles[id] = role
	}
	return roles, nil
}

// Run builds the party session hub and serves until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceParty, func(context.Context) error {
		if err := serve(ctx, cfg); err != nil {
			return fmt.Errorf("serve party: %w", err)
		}
		return nil
	})
}

func serve(ctx context.Context, cfg Config) error {
	roles, err := ParseParticipants(cfg.Participants)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	actions, err := queue.OpenActionQueue(filepath.Join(cfg.DataDir, "actions.jsonl"))
	if err != nil {
		return fmt.Errorf("open action queue: %w", err)
	}
	defer func() {
		_ = actions.Close()
	}()

	responses, err := queue.OpenResponseQueue(filepath.Join(cfg.DataDir, "responses.jsonl"))
	if err != nil {
		return fmt.Errorf("open response queue: %w", err)
	}
	defer func() {
		_ = responses.Close()
	}()

	store, err := sqlite.Open(filepath.Join(cfg.DataDir, "characters.db"))
	if err != nil {
		return fmt.Errorf("open character store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	tokens := token.NewManager()
	for participantID := range roles {
		value, err := tokens.Generate(participantID)
		if err != nil {
			return fmt.Errorf("mint token for %s: %w", participantID, err)
		}
		log.Printf("session token for %s (%s): %s", participantID, roles.Role(participantID), value)
	}

	hub, err := server.Start(server.Config{
		HTTPAddr:          cfg.HTTPAddr,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}, server.Deps{
		Actions:     actions,
		Responses:   responses,
		Tokens:      tokens,
		Combat:      gamestate.NewStaticCombat(),
		Permissions: roles,
		Characters:  store,
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return hub.Stop()
}
