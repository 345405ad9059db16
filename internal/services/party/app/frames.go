package server

import (
	"encoding/json"
	"log"
	"time"

	"github.com/wrenfield/partymode/internal/services/party/gamestate"
)

const wireTimeFormat = time.RFC3339Nano

// Inbound frame types.
const (
	frameHeartbeat      = "heartbeat"
	framePong           = "pong"
	frameAction         = "action"
	frameHistoryRequest = "history_request"
)

// Outbound frame types.
const (
	frameConnected    = "connected"
	frameNarrative    = "narrative"
	framePrivate      = "private"
	frameActionStatus = "action_status"
	frameSystem       = "system"
	framePing         = "ping"
	frameCombatState  = "combat_state"
	frameError        = "error"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type connectedPayload struct {
	ParticipantID string `json:"participant_id"`
	Timestamp     string `json:"timestamp"`
}

type systemPayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type pingPayload struct {
	Timestamp string `json:"timestamp"`
}

type heartbeatPayload struct {
	// Timestamp is the client-reported time of the last message it saw.
	Timestamp string `json:"timestamp,omitempty"`
}

type actionRequestPayload struct {
	Action string `json:"action"`
}

type actionStatusPayload struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status"`
}

type historyRequestPayload struct {
	Since string `json:"since"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type combatStatePayload struct {
	State      gamestate.CombatState `json:"state"`
	Combatants []gamestate.Character `json:"combatants,omitempty"`
	Timestamp  string                `json:"timestamp"`
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("party: failed to marshal frame payload: %v", err)
		return nil
	}
	return b
}

func systemFrame(message string) wsFrame {
	return wsFrame{
		Type: frameSystem,
		Payload: mustJSON(systemPayload{
			Message:   message,
			Timestamp: time.Now().UTC().Format(wireTimeFormat),
		}),
	}
}

func errorFrame(code, message string) wsFrame {
	return wsFrame{
		Type:    frameError,
		Payload: mustJSON(errorPayload{Code: code, Message: message}),
	}
}
