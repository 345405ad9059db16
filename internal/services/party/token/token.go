// Package token issues and validates opaque per-participant session tokens.
//
// At most one token is valid per participant at any instant: minting a new
// one invalidates the old. The manager keeps a forward map plus a reverse
// index so invalidation stays O(1). Tokens carry no expiry; they live until
// revoked or refreshed.
package token

import (
	"strings"
	"sync"

	"github.com/wrenfield/partymode/internal/platform/errors"
	"github.com/wrenfield/partymode/internal/platform/id"
)

// Manager tracks the bijection between participant ids and live tokens.
type Manager struct {
	mu            sync.Mutex
	byParticipant map[string]string
	byToken       map[string]string
}

// NewManager returns an empty token manager.
func NewManager() *Manager {
	return &Manager{
		byParticipant: make(map[string]string),
		byToken:       make(map[string]string),
	}
}

// Generate mints a fresh token for the participant, invalidating any
// previously issued one first.
func (m *Manager) Generate(participantID string) (string, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return "", errors.New(errors.CodeTokenParticipantRequired, "participant id is required")
	}

	value, err := id.NewID()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if previous, ok := m.byParticipant[participantID]; ok {
		delete(m.byToken, previous)
	}
	m.byParticipant[participantID] = value
	m.byToken[value] = participantID
	return value, nil
}

// Validate resolves a token to its participant id.
func (m *Manager) Validate(tokenValue string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	participantID, ok := m.byToken[tokenValue]
	return participantID, ok
}

// Refresh forces invalidation and reissue. Semantically identical to
// Generate; exposed separately for intent clarity at call sites.
func (m *Manager) Refresh(participantID string) (string, error) {
	return m.Generate(participantID)
}

// Revoke removes the participant's token. It reports whether one existed.
func (m *Manager) Revoke(participantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.byParticipant[participantID]
	if !ok {
		return false
	}
	delete(m.byParticipant, participantID)
	delete(m.byToken, value)
	return true
}
