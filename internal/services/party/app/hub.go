package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wrenfield/partymode/internal/platform/errors"
	"github.com/wrenfield/partymode/internal/platform/timeouts"
	"github.com/wrenfield/partymode/internal/services/party/gamestate"
	"github.com/wrenfield/partymode/internal/services/party/queue"
	"github.com/wrenfield/partymode/internal/services/party/token"
)

// Lifecycle errors.
var (
	ErrAlreadyRunning = errors.New(errors.CodeHubAlreadyRunning, "party hub is already running")
	ErrNotRunning     = errors.New(errors.CodeHubNotRunning, "party hub is not running")
	ErrWorkerExited   = errors.New(errors.CodeHubWorkerExited, "party hub worker has exited")
)

const (
	stateStopped int32 = iota
	stateStarting
	stateRunning
	stateStopping
)

const taskBuffer = 128

// At most one hub runs per process. Start claims the slot, Stop releases it;
// the returned handle is the explicit dependency callers pass around.
var (
	slotMu    sync.Mutex
	activeHub *PartyServer
)

// Config defines the inputs for the party transport boundary.
type Config struct {
	HTTPAddr          string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	StopTimeout       time.Duration
}

func (c *Config) fillDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = timeouts.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = timeouts.HeartbeatTimeout
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = timeouts.Shutdown
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = timeouts.HubStop
	}
}

// CharacterStore provides read-only character snapshots for display.
type CharacterStore interface {
	Character(ctx context.Context, participantID string) (gamestate.Character, error)
}

// Deps are the collaborators the hub coordinates. Actions, Responses, and
// Tokens are required; the rest degrade gracefully when absent.
type Deps struct {
	Actions     *queue.ActionQueue
	Responses   *queue.ResponseQueue
	Tokens      *token.Manager
	Combat      gamestate.CombatProvider
	Permissions gamestate.PermissionResolver
	Characters  CharacterStore
}

// PartyServer owns the queues, tokens, and connection registry, and runs the
// network listener alongside one worker goroutine that owns all connection
// fan-out.
//
// Callers on other goroutines never touch connection state directly: their
// work is marshalled onto the worker through a bounded task channel.
type PartyServer struct {
	cfg         Config
	actions     *queue.ActionQueue
	responses   *queue.ResponseQueue
	tokens      *token.Manager
	combat      gamestate.CombatProvider
	permissions gamestate.PermissionResolver
	characters  CharacterStore

	conns    *connectionManager
	tasks    chan func()
	stopCh   chan struct{}
	loopDone chan struct{}
	state    atomic.Int32

	startedAt  time.Time
	httpServer *http.Server
	listener   net.Listener
}

// Start claims the process-wide hub slot, spawns the worker loop, and begins
// listening when cfg.HTTPAddr is set. The handle is published only after the
// loop is live, so no caller can schedule work before a loop exists.
func Start(cfg Config, deps Deps) (*PartyServer, error) {
	if deps.Actions == nil || deps.Responses == nil || deps.Tokens == nil {
		return nil, fmt.Errorf("action queue, response queue, and token manager are required")
	}
	cfg.fillDefaults()

	slotMu.Lock()
	defer slotMu.Unlock()
	if activeHub != nil {
		return nil, ErrAlreadyRunning
	}

	s := &PartyServer{
		cfg:         cfg,
		actions:     deps.Actions,
		responses:   deps.Responses,
		tokens:      deps.Tokens,
		combat:      deps.Combat,
		permissions: deps.Permissions,
		characters:  deps.Characters,
		conns:       newConnectionManager(),
		tasks:       make(chan func(), taskBuffer),
		stopCh:      make(chan struct{}),
		loopDone:    make(chan struct{}),
		startedAt:   time.Now(),
	}
	s.state.Store(stateStarting)

	deps.Responses.SetCallback(s.scheduleResponseBroadcast)

	ready := make(chan struct{})
	go s.run(ready)
	<-ready
	s.state.Store(stateRunning)

	if addr := strings.TrimSpace(cfg.HTTPAddr); addr != "" {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			s.shutdownWorker()
			s.state.Store(stateStopped)
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		s.listener = listener
		s.httpServer = &http.Server{
			Handler:           NewHandler(s),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}
		go func() {
			if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
				log.Printf("party: http serve: %v", err)
			}
		}()
		log.Printf("party server listening on %s", addr)
	}

	activeHub = s
	return s, nil
}

// Stop signals the worker, force-closes all live connections first so no
// handler blocks shutdown, and waits a bounded time for the worker to exit.
// It completes even if the worker previously died.
func (s *PartyServer) Stop() error {
	if !s.state.CompareAndSwap(stateRunning, stateStopping) {
		return ErrNotRunning
	}

	slotMu.Lock()
	if activeHub == s {
		activeHub = nil
	}
	slotMu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("party: http shutdown: %v", err)
		}
		cancel()
	}

	s.conns.closeAll()
	s.shutdownWorker()
	s.state.Store(stateStopped)
	return nil
}

func (s *PartyServer) shutdownWorker() {
	close(s.stopCh)
	select {
	case <-s.loopDone:
	case <-time.After(s.cfg.StopTimeout):
		log.Printf("party: hub worker did not exit within %s", s.cfg.StopTimeout)
	}
}

// Running reports whether the hub accepts work.
func (s *PartyServer) Running() bool {
	return s.state.Load() == stateRunning
}

// run is the worker loop. It alone executes connection fan-out: submitted
// tasks are drained between heartbeat ticks, and a panic in a task logs and
// ends the worker rather than corrupting hub state.
func (s *PartyServer) run(ready chan<- struct{}) {
	defer close(s.loopDone)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("party: hub worker exiting after panic: %v", r)
		}
	}()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	close(ready)
	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.tasks:
			task()
		case <-ticker.C:
			s.heartbeat()
		}
	}
}

// do marshals task onto the worker loop. It fails fast when the worker has
// exited so callers never block on a dead hub.
func (s *PartyServer) do(task func()) error {
	select {
	case <-s.loopDone:
		return ErrWorkerExited
	default:
	}
	select {
	case s.tasks <- task:
		return nil
	case <-s.loopDone:
		return ErrWorkerExited
	}
}

// heartbeat pings every live connection and closes participants that have
// not answered within the timeout.
func (s *PartyServer) heartbeat() {
	ping := wsFrame{
		Type:    framePing,
		Payload: mustJSON(pingPayload{Timestamp: time.Now().UTC().Format(wireTimeFormat)}),
	}
	s.conns.broadcast(ping)

	for _, participantID := range s.conns.stale(s.cfg.HeartbeatTimeout, time.Now()) {
		log.Printf("party: closing stale connections for %s", participantID)
		s.conns.closeParticipant(participantID)
	}
}

// PushResponse appends a host-produced response; the queue callback then
// schedules the personalized fan-out on the worker. Safe to call from any
// goroutine.
func (s *PartyServer) PushResponse(resp queue.Response) (string, error) {
	if !s.Running() {
		return "", ErrNotRunning
	}
	return s.responses.Push(resp)
}

func (s *PartyServer) scheduleResponseBroadcast(resp queue.Response) {
	if err := s.do(func() { s.broadcastResponse(resp) }); err != nil {
		log.Printf("party: response %s broadcast not scheduled: %v", resp.ID, err)
	}
}

// broadcastResponse runs on the worker. Each recipient gets the response
// reduced to what their role may see.
func (s *PartyServer) broadcastResponse(resp queue.Response) {
	s.conns.broadcastFiltered(resp, func(r queue.Response, participantID string) queue.FilteredResponse {
		return queue.Filter(r, participantID, s.isDM(participantID))
	})

	if resp.ActionID == "" {
		return
	}
	if action, ok := s.actions.Get(resp.ActionID); ok {
		s.conns.send(action.ParticipantID, wsFrame{
			Type: frameActionStatus,
			Payload: mustJSON(actionStatusPayload{
				ActionID: action.ID,
				Status:   string(action.Status),
			}),
		})
	}
}

// BroadcastCombatState snapshots the combat provider, decorates the turn
// order with character display fields, and fans the payload out to everyone.
// Safe to call from any goroutine.
func (s *PartyServer) BroadcastCombatState() error {
	if !s.Running() {
		return ErrNotRunning
	}
	if s.combat == nil {
		return nil
	}

	state := s.combat.Combat()
	payload := combatStatePayload{
		State:     state,
		Timestamp: time.Now().UTC().Format(wireTimeFormat),
	}
	if s.characters != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		for _, participantID := range state.TurnOrder {
			character, err := s.characters.Character(ctx, participantID)
			if err != nil {
				continue
			}
			payload.Combatants = append(payload.Combatants, character)
		}
		cancel()
	}

	frame := wsFrame{Type: frameCombatState, Payload: mustJSON(payload)}
	return s.do(func() { s.conns.broadcast(frame) })
}

// checkTurnGate is evaluated on every inbound action submission, on every
// ingress path.
func (s *PartyServer) checkTurnGate(participantID string) error {
	return gamestate.CheckTurnGate(s.combat, s.permissions, participantID)
}

func (s *PartyServer) isDM(participantID string) bool {
	return s.permissions != nil && s.permissions.Role(participantID) == gamestate.RoleDM
}

// checkPermission defers capability questions to the external resolver. With
// no resolver configured only self-access is granted.
func (s *PartyServer) checkPermission(participantID, action, target string) bool {
	if s.permissions == nil {
		return participantID == target
	}
	return s.permissions.CheckPermission(participantID, action, target)
}

// Addr returns the bound listener address, or "" when the hub runs without
// its own listener.
func (s *PartyServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Actions exposes the action queue to the host game loop.
func (s *PartyServer) Actions() *queue.ActionQueue {
	return s.actions
}

// Responses exposes the response queue for host and debug use.
func (s *PartyServer) Responses() *queue.ResponseQueue {
	return s.responses
}

// Tokens exposes the session token manager.
func (s *PartyServer) Tokens() *token.Manager {
	return s.tokens
}
