// Package gamestate defines the read-only collaborator interfaces the party
// hub consumes for rule evaluation, permissions, and character display.
//
// The hub never owns gameplay state; it queries these interfaces at the
// moments the protocol needs a decision.
package gamestate

import (
	"fmt"
	"sync"

	"github.com/wrenfield/partymode/internal/platform/errors"
)

// Role classifies a participant's visibility and submission rights.
type Role string

const (
	RoleDM       Role = "dm"
	RolePlayer   Role = "player"
	RoleObserver Role = "observer"
)

// PermissionResolver answers role and capability questions for participants.
// The hub never decides ownership itself; it asks the resolver.
type PermissionResolver interface {
	Role(participantID string) Role
	CheckPermission(participantID, action, target string) bool
}

// PermViewCharacter gates reads of a participant's character sheet.
const PermViewCharacter = "view_character"

// CombatMode selects how action submission is distributed during combat.
type CombatMode string

const (
	// ModeFreeForAll allows any participant to act at any time.
	ModeFreeForAll CombatMode = "free_for_all"
	// ModeStrict restricts submission to the current turn holder.
	ModeStrict CombatMode = "strict"
)

// CombatState is a snapshot of the combat phase the provider exposes.
type CombatState struct {
	Active      bool       `json:"active"`
	Mode        CombatMode `json:"mode,omitempty"`
	Round       int        `json:"round,omitempty"`
	TurnOrder   []string   `json:"turn_order,omitempty"`
	CurrentTurn string     `json:"current_turn,omitempty"`
}

// CombatProvider exposes the current combat phase, turn order, and holder.
type CombatProvider interface {
	Combat() CombatState
}

// Character holds the display fields used in initiative and combat-state
// payloads.
type Character struct {
	ParticipantID string   `json:"participant_id"`
	Name          string   `json:"name"`
	HP            int      `json:"hp"`
	MaxHP         int      `json:"max_hp"`
	AC            int      `json:"ac"`
	Conditions    []string `json:"conditions,omitempty"`
}

// CheckTurnGate reports whether the participant may submit an action right
// now. Outside combat, and in free-for-all mode, everyone may act. In strict
// mode only the current turn holder may act; the DM is exempt. The returned
// error names whose turn it is.
func CheckTurnGate(combat CombatProvider, permissions PermissionResolver, participantID string) error {
	if combat == nil {
		return nil
	}
	state := combat.Combat()
	if !state.Active || state.Mode != ModeStrict {
		return nil
	}
	if permissions != nil && permissions.Role(participantID) == RoleDM {
		return nil
	}
	if state.CurrentTurn == participantID {
		return nil
	}
	return errors.WithMetadata(
		errors.CodeTurnGateBlocked,
		fmt.Sprintf("it is %s's turn", state.CurrentTurn),
		map[string]string{"current_turn": state.CurrentTurn},
	)
}

// StaticCombat is a CombatProvider backed by a swappable snapshot, for hosts
// that push combat transitions into the hub and for tests.
type StaticCombat struct {
	mu    sync.Mutex
	state CombatState
}

// NewStaticCombat starts with combat inactive.
func NewStaticCombat() *StaticCombat {
	return &StaticCombat{}
}

// Combat returns the current snapshot.
func (s *StaticCombat) Combat() CombatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set replaces the snapshot.
func (s *StaticCombat) Set(state CombatState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// RoleTable is a PermissionResolver backed by a fixed participant-to-role
// map. Unknown participants default to observers.
type RoleTable map[string]Role

// Role implements PermissionResolver.
func (t RoleTable) Role(participantID string) Role {
	if role, ok := t[participantID]; ok {
		return role
	}
	return RoleObserver
}

// CheckPermission implements PermissionResolver. The DM holds every
// capability; players hold non-admin capabilities, scoped to their own
// resources where the capability names a target; observers hold none.
func (t RoleTable) CheckPermission(participantID, action, target string) bool {
	switch t.Role(participantID) {
	case RoleDM:
		return true
	case RolePlayer:
		switch action {
		case "admin":
			return false
		case PermViewCharacter:
			return target == participantID
		default:
			return true
		}
	default:
		return false
	}
}
