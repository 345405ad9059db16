package server

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wrenfield/partymode/internal/services/party/gamestate"
	"github.com/wrenfield/partymode/internal/services/party/queue"
	"github.com/wrenfield/partymode/internal/services/party/token"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	dir := t.TempDir()
	actions, err := queue.OpenActionQueue(filepath.Join(dir, "actions.jsonl"))
	if err != nil {
		t.Fatalf("open action queue: %v", err)
	}
	responses, err := queue.OpenResponseQueue(filepath.Join(dir, "responses.jsonl"))
	if err != nil {
		t.Fatalf("open response queue: %v", err)
	}
	t.Cleanup(func() {
		_ = actions.Close()
		_ = responses.Close()
	})
	return Deps{
		Actions:   actions,
		Responses: responses,
		Tokens:    token.NewManager(),
	}
}

func TestStartRejectsMissingDependencies(t *testing.T) {
	if _, err := Start(Config{}, Deps{}); err == nil {
		t.Fatal("Start with no dependencies succeeded")
	}
}

func TestStartClaimsProcessSlot(t *testing.T) {
	hub, err := Start(Config{}, newTestDeps(t))
	if err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() {
		_ = hub.Stop()
	})

	if _, err := Start(Config{}, newTestDeps(t)); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStopReleasesSlotForRestart(t *testing.T) {
	hub, err := Start(Config{}, newTestDeps(t))
	if err != nil {
		t.Fatalf("start hub: %v", err)
	}
	if err := hub.Stop(); err != nil {
		t.Fatalf("stop hub: %v", err)
	}

	if err := hub.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Stop error = %v, want ErrNotRunning", err)
	}

	again, err := Start(Config{}, newTestDeps(t))
	if err != nil {
		t.Fatalf("restart hub: %v", err)
	}
	if err := again.Stop(); err != nil {
		t.Fatalf("stop restarted hub: %v", err)
	}
}

func TestPushResponseRequiresRunningHub(t *testing.T) {
	hub, err := Start(Config{}, newTestDeps(t))
	if err != nil {
		t.Fatalf("start hub: %v", err)
	}
	if err := hub.Stop(); err != nil {
		t.Fatalf("stop hub: %v", err)
	}

	if _, err := hub.PushResponse(queue.Response{Narrative: "too late"}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("PushResponse error = %v, want ErrNotRunning", err)
	}
	if err := hub.BroadcastCombatState(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("BroadcastCombatState error = %v, want ErrNotRunning", err)
	}
}

func TestHubListensWhenAddrConfigured(t *testing.T) {
	hub, err := Start(Config{HTTPAddr: "127.0.0.1:0"}, newTestDeps(t))
	if err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() {
		_ = hub.Stop()
	})

	if hub.Addr() == "" {
		t.Fatal("hub reports no listener address")
	}
}

// Three participants with distinct roles each see a pushed response reduced
// to their own visibility.
func TestResponseFanOutFiltersByRecipient(t *testing.T) {
	f := startHubFixture(t, hubFixtureOptions{})

	alice := f.dialWS(t, "alice", "")
	readFrameOfType(t, alice, "connected")
	bob := f.dialWS(t, "bob", "")
	readFrameOfType(t, bob, "connected")
	dm := f.dialWS(t, "dm", "")
	readFrameOfType(t, dm, "connected")

	if _, err := f.hub.PushResponse(queue.Response{
		Narrative: "The door creaks open",
		Private:   map[string]string{"alice": "You hear whispering"},
		DMOnly:    "The mimic is hungry",
	}); err != nil {
		t.Fatalf("push response: %v", err)
	}

	got := readFrameOfType(t, alice, "private")
	if !strings.Contains(string(got.Payload), "You hear whispering") {
		t.Fatalf("alice payload = %s, want private aside", string(got.Payload))
	}
	if strings.Contains(string(got.Payload), "mimic") {
		t.Fatalf("alice payload = %s, leaked DM note", string(got.Payload))
	}

	got = readFrameOfType(t, bob, "narrative")
	if !strings.Contains(string(got.Payload), "The door creaks open") {
		t.Fatalf("bob payload = %s, want narrative", string(got.Payload))
	}
	if strings.Contains(string(got.Payload), "whispering") || strings.Contains(string(got.Payload), "mimic") {
		t.Fatalf("bob payload = %s, leaked restricted text", string(got.Payload))
	}

	got = readFrameOfType(t, dm, "narrative")
	if !strings.Contains(string(got.Payload), "The mimic is hungry") {
		t.Fatalf("dm payload = %s, want DM-only note", string(got.Payload))
	}
}

// Full round trip: submit, host resolves, response fan-out carries the
// resolved action status back to the submitter.
func TestActionResolutionNotifiesSubmitter(t *testing.T) {
	f := startHubFixture(t, hubFixtureOptions{})

	alice := f.dialWS(t, "alice", "")
	readFrameOfType(t, alice, "connected")

	writeTestFrame(t, alice, map[string]any{
		"type":    "action",
		"payload": map[string]any{"action": "I open the chest"},
	})
	readFrameOfType(t, alice, "action_status")

	action := f.hub.Actions().Pop()
	if action == nil {
		t.Fatal("no pending action to pop")
	}

	responseID, err := f.hub.PushResponse(queue.Response{
		Narrative: "The chest is full of gold",
		ActionID:  action.ID,
	})
	if err != nil {
		t.Fatalf("push response: %v", err)
	}

	readFrameOfType(t, alice, "narrative")
	got := readFrameOfType(t, alice, "action_status")
	if !strings.Contains(string(got.Payload), "processing") {
		t.Fatalf("status payload = %s, want processing", string(got.Payload))
	}

	if err := f.hub.Actions().Resolve(action.ID, responseID); err != nil {
		t.Fatalf("resolve action: %v", err)
	}

	// A later response for the same action reports the resolved status.
	if _, err := f.hub.PushResponse(queue.Response{
		Narrative: "Gold coins spill out",
		ActionID:  action.ID,
	}); err != nil {
		t.Fatalf("push follow-up response: %v", err)
	}
	got = readFrameOfType(t, alice, "action_status")
	if !strings.Contains(string(got.Payload), "resolved") {
		t.Fatalf("status payload = %s, want resolved", string(got.Payload))
	}
}

func TestBroadcastCombatStateIncludesCombatants(t *testing.T) {
	combat := gamestate.NewStaticCombat()
	combat.Set(gamestate.CombatState{
		Active:      true,
		Mode:        gamestate.ModeStrict,
		Round:       2,
		TurnOrder:   []string{"alice", "bob"},
		CurrentTurn: "alice",
	})
	f := startHubFixture(t, hubFixtureOptions{
		combat: combat,
		characters: fakeCharacterStore{byID: map[string]gamestate.Character{
			"alice": {ParticipantID: "alice", Name: "Seraphine", HP: 12, MaxHP: 20, AC: 15},
		}},
	})

	bob := f.dialWS(t, "bob", "")
	readFrameOfType(t, bob, "connected")

	if err := f.hub.BroadcastCombatState(); err != nil {
		t.Fatalf("broadcast combat state: %v", err)
	}

	got := readFrameOfType(t, bob, "combat_state")
	payload := string(got.Payload)
	if !strings.Contains(payload, "Seraphine") {
		t.Fatalf("combat payload = %s, want character display fields", payload)
	}
	if !strings.Contains(payload, `"current_turn":"alice"`) {
		t.Fatalf("combat payload = %s, want current turn holder", payload)
	}
}

func TestStopClosesLiveConnections(t *testing.T) {
	f := startHubFixture(t, hubFixtureOptions{})

	conn := f.dialWS(t, "alice", "")
	readFrameOfType(t, conn, "connected")

	if err := f.hub.Stop(); err != nil {
		t.Fatalf("stop hub: %v", err)
	}

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
	t.Fatal("connection survived hub stop")
}
