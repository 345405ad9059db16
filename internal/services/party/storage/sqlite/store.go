// Package sqlite provides the SQLite-backed character snapshot store the hub
// reads when building permission-gated character views and combat payloads.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/wrenfield/partymode/internal/platform/errors"
	sqlitemigrate "github.com/wrenfield/partymode/internal/platform/storage/sqlitemigrate"
	"github.com/wrenfield/partymode/internal/services/party/gamestate"
	"github.com/wrenfield/partymode/internal/services/party/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

// Store provides read-only character lookups plus the host-side upserts that
// keep them current.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Character returns the snapshot for a participant.
func (s *Store) Character(ctx context.Context, participantID string) (gamestate.Character, error) {
	if err := ctx.Err(); err != nil {
		return gamestate.Character{}, err
	}
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return gamestate.Character{}, fmt.Errorf("participant id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT participant_id, name, hp, max_hp, ac, conditions FROM characters WHERE participant_id = ?",
		participantID,
	)

	var character gamestate.Character
	var conditions string
	err := row.Scan(&character.ParticipantID, &character.Name, &character.HP, &character.MaxHP, &character.AC, &conditions)
	if err != nil {
		if err == sql.ErrNoRows {
			return gamestate.Character{}, errors.New(errors.CodeNotFound, fmt.Sprintf("character for %s not found", participantID))
		}
		return gamestate.Character{}, fmt.Errorf("query character: %w", err)
	}

	if conditions != "" {
		if err := json.Unmarshal([]byte(conditions), &character.Conditions); err != nil {
			return gamestate.Character{}, fmt.Errorf("decode conditions: %w", err)
		}
	}
	return character, nil
}

// UpsertCharacter writes or replaces a participant's snapshot.
func (s *Store) UpsertCharacter(ctx context.Context, character gamestate.Character) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(character.ParticipantID) == "" {
		return fmt.Errorf("participant id is required")
	}
	if strings.TrimSpace(character.Name) == "" {
		return fmt.Errorf("character name is required")
	}

	conditions := character.Conditions
	if conditions == nil {
		conditions = []string{}
	}
	encoded, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO characters (participant_id, name, hp, max_hp, ac, conditions, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(participant_id) DO UPDATE SET
    name = excluded.name,
    hp = excluded.hp,
    max_hp = excluded.max_hp,
    ac = excluded.ac,
    conditions = excluded.conditions,
    updated_at = excluded.updated_at
`,
		character.ParticipantID,
		character.Name,
		character.HP,
		character.MaxHP,
		character.AC,
		string(encoded),
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upsert character: %w", err)
	}
	return nil
}
