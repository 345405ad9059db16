package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/websocket"

	"github.com/wrenfield/partymode/internal/platform/errors"
	"github.com/wrenfield/partymode/internal/services/party/gamestate"
	"github.com/wrenfield/partymode/internal/services/party/queue"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxActionRunes = 2000
)

type wsParticipantContextKey struct{}

// NewHandler creates the party HTTP and WebSocket routes. Every route except
// /up and /status requires a session token, presented as a bearer header or
// a token query parameter.
func NewHandler(s *PartyServer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /play", func(w http.ResponseWriter, r *http.Request) {
		participantID, ok := s.authenticate(r)
		if !ok {
			writeError(w, errors.New(errors.CodeTokenInvalid, "valid session token required"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"participant_id": participantID,
			"server_time":    time.Now().UTC().Format(wireTimeFormat),
		})
	})

	mux.HandleFunc("POST /action", func(w http.ResponseWriter, r *http.Request) {
		s.handleSubmitAction(w, r)
	})

	mux.HandleFunc("GET /action/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authenticate(r); !ok {
			writeError(w, errors.New(errors.CodeTokenInvalid, "valid session token required"))
			return
		}
		actionID := r.PathValue("id")
		status, ok := s.actions.Status(actionID)
		if !ok {
			writeError(w, errors.WithMetadata(errors.CodeActionNotFound, "action not found",
				map[string]string{"action_id": actionID}))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"action_id": actionID,
			"status":    string(status),
		})
	})

	mux.HandleFunc("GET /character/{participant_id}", func(w http.ResponseWriter, r *http.Request) {
		s.handleCharacter(w, r)
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"running":         s.Running(),
			"uptime_seconds":  int(time.Since(s.startedAt).Seconds()),
			"participants":    s.conns.participants(),
			"connections":     s.conns.connectionCount(),
			"pending_actions": s.actions.PendingCount(),
			"responses":       s.responses.Len(),
		})
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		s.handleWSConn(conn)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		participantID, ok := s.authenticate(r)
		if !ok {
			log.Printf("party: websocket unauthorized for remote=%s", r.RemoteAddr)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), wsParticipantContextKey{}, participantID)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})

	return mux
}

// authenticate resolves the session token on a request to a participant ID.
func (s *PartyServer) authenticate(r *http.Request) (string, bool) {
	return s.tokens.Validate(bearerToken(r))
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		if tokenValue := strings.TrimSpace(rest); tokenValue != "" {
			return tokenValue
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type submitActionRequest struct {
	Action string `json:"action"`
}

func (s *PartyServer) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	participantID, ok := s.authenticate(r)
	if !ok {
		writeError(w, errors.New(errors.CodeTokenInvalid, "valid session token required"))
		return
	}

	var req submitActionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxFramePayloadBytes)).Decode(&req); err != nil {
		writeError(w, errors.New(errors.CodeActionEmptyText, "invalid request body"))
		return
	}
	if utf8.RuneCountInString(req.Action) > maxActionRunes {
		writeError(w, errors.New(errors.CodeActionTooLong, "action text is too long"))
		return
	}

	if err := s.checkTurnGate(participantID); err != nil {
		writeError(w, err)
		return
	}

	actionID, err := s.actions.Push(participantID, req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action_id": actionID,
		"status":    string(queue.StatusPending),
	})
}

func (s *PartyServer) handleCharacter(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.authenticate(r)
	if !ok {
		writeError(w, errors.New(errors.CodeTokenInvalid, "valid session token required"))
		return
	}
	targetID := r.PathValue("participant_id")
	if !s.checkPermission(requesterID, gamestate.PermViewCharacter, targetID) {
		writeError(w, errors.New(errors.CodePermissionDenied, "cannot view another participant's character"))
		return
	}
	if s.characters == nil {
		writeError(w, errors.New(errors.CodeNotFound, "character store is not configured"))
		return
	}

	character, err := s.characters.Character(r.Context(), targetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, character)
}

// handleWSConn runs one connection: register, greet, replay, then pump
// inbound frames until the peer goes away or misbehaves.
func (s *PartyServer) handleWSConn(wsConn *websocket.Conn) {
	defer func() {
		_ = wsConn.Close()
	}()

	participantID := ""
	if request := wsConn.Request(); request != nil {
		if resolved, ok := request.Context().Value(wsParticipantContextKey{}).(string); ok {
			participantID = resolved
		}
	}
	if participantID == "" {
		return
	}

	c := newConn(participantID, wsConn)
	if err := s.do(func() {
		s.conns.connect(c)
		_ = c.writeFrame(wsFrame{
			Type: frameConnected,
			Payload: mustJSON(connectedPayload{
				ParticipantID: participantID,
				Timestamp:     time.Now().UTC().Format(wireTimeFormat),
			}),
		})
		s.conns.broadcastExcept(participantID, systemFrame(participantID+" joined the party"))
	}); err != nil {
		return
	}
	defer func() {
		_ = s.do(func() {
			s.conns.disconnect(c)
			s.conns.broadcastExcept(participantID, systemFrame(participantID+" left the party"))
		})
	}()

	if since, ok := parseSince(wsConn.Request().URL.Query().Get("since")); ok {
		isDM := s.isDM(participantID)
		_ = s.do(func() {
			s.conns.replayMissed(participantID, since, s.responses, isDM)
		})
	}

	decoder := json.NewDecoder(wsConn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if err == io.EOF {
				return
			}
			decodeErrors++
			_ = c.writeFrame(errorFrame(string(errors.CodeActionEmptyText), "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = c.writeFrame(errorFrame("PAYLOAD_TOO_LARGE", "payload too large"))
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = c.writeFrame(errorFrame("RATE_LIMITED", "rate limit exceeded"))
			return
		}

		s.dispatchFrame(c, participantID, frame)
	}
}

// dispatchFrame handles one inbound frame on the reader goroutine; anything
// that touches shared connection state is forwarded to the worker.
func (s *PartyServer) dispatchFrame(c *conn, participantID string, frame wsFrame) {
	switch frame.Type {
	case frameHeartbeat, framePong:
		var payload heartbeatPayload
		_ = json.Unmarshal(frame.Payload, &payload)
		seen, haveSeen := parseSince(payload.Timestamp)
		_ = s.do(func() {
			s.conns.markPong(participantID)
			if haveSeen {
				s.conns.markSeen(participantID, seen)
			}
		})
	case frameAction:
		var payload actionRequestPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			_ = c.writeFrame(errorFrame(string(errors.CodeActionEmptyText), "invalid action payload"))
			return
		}
		if utf8.RuneCountInString(payload.Action) > maxActionRunes {
			_ = c.writeFrame(errorFrame(string(errors.CodeActionTooLong), "action text is too long"))
			return
		}
		if err := s.checkTurnGate(participantID); err != nil {
			_ = c.writeFrame(errorFrame(string(errors.CodeOf(err)), err.Error()))
			return
		}
		actionID, err := s.actions.Push(participantID, payload.Action)
		if err != nil {
			_ = c.writeFrame(errorFrame(string(errors.CodeOf(err)), err.Error()))
			return
		}
		_ = c.writeFrame(wsFrame{
			Type: frameActionStatus,
			Payload: mustJSON(actionStatusPayload{
				ActionID: actionID,
				Status:   string(queue.StatusPending),
			}),
		})
	case frameHistoryRequest:
		var payload historyRequestPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			_ = c.writeFrame(errorFrame("INVALID_HISTORY_REQUEST", "invalid history payload"))
			return
		}
		since, ok := parseSince(payload.Since)
		if !ok {
			_ = c.writeFrame(errorFrame("INVALID_HISTORY_REQUEST", "since must be RFC 3339"))
			return
		}
		isDM := s.isDM(participantID)
		_ = s.do(func() {
			s.conns.replayMissed(participantID, since, s.responses, isDM)
		})
	default:
		_ = c.writeFrame(errorFrame("UNKNOWN_FRAME", "unsupported frame type: "+frame.Type))
	}
}

func parseSince(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	since, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		since, err = time.Parse(time.RFC3339, raw)
	}
	if err != nil {
		return time.Time{}, false
	}
	return since, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("party: failed to encode response body: %v", err)
	}
}

// writeError maps a coded error onto an HTTP status and a JSON error body.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	body := map[string]any{
		"error": map[string]any{
			"code":    string(code),
			"message": err.Error(),
		},
	}
	if coded, ok := err.(*errors.Error); ok && len(coded.Metadata) > 0 {
		body["error"].(map[string]any)["metadata"] = coded.Metadata
	}
	writeJSON(w, code.HTTPStatus(), body)
}
