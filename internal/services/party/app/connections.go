package server

import (
	"encoding/json"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/wrenfield/partymode/internal/services/party/queue"
)

// conn wraps one live websocket for a participant. The encoder mutex
// serializes frames on the wire; everything else about the connection is
// touched only from the hub worker.
type conn struct {
	participantID string
	ws            io.WriteCloser
	mu            sync.Mutex
	enc           *json.Encoder
}

func newConn(participantID string, ws io.WriteCloser) *conn {
	return &conn{
		participantID: participantID,
		ws:            ws,
		enc:           json.NewEncoder(ws),
	}
}

func (c *conn) writeFrame(frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(frame)
}

func (c *conn) close() {
	_ = c.ws.Close()
}

// connectionManager is the registry of live connections. A participant may
// hold several concurrent connections (multiple browser tabs); liveness
// timestamps are tracked per participant, not per connection.
type connectionManager struct {
	mu            sync.Mutex
	byParticipant map[string]map[*conn]struct{}
	lastPong      map[string]time.Time
	lastSeen      map[string]time.Time
}

func newConnectionManager() *connectionManager {
	return &connectionManager{
		byParticipant: make(map[string]map[*conn]struct{}),
		lastPong:      make(map[string]time.Time),
		lastSeen:      make(map[string]time.Time),
	}
}

// connect adds c to the participant's connection set.
func (m *connectionManager) connect(c *conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.byParticipant[c.participantID]
	if !ok {
		set = make(map[*conn]struct{})
		m.byParticipant[c.participantID] = set
	}
	set[c] = struct{}{}
	m.lastPong[c.participantID] = time.Now()
}

// disconnect removes c; when the participant's set empties, the entry is
// dropped entirely so no reference survives the connection.
func (m *connectionManager) disconnect(c *conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.byParticipant[c.participantID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m.byParticipant, c.participantID)
		delete(m.lastPong, c.participantID)
		delete(m.lastSeen, c.participantID)
	}
}

func (m *connectionManager) connsFor(participantID string) []*conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.byParticipant[participantID]
	out := make([]*conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (m *connectionManager) allConns() []*conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*conn
	for _, set := range m.byParticipant {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// send writes frame to every live connection for the participant. A failure
// on one connection is logged and does not abort the others.
func (m *connectionManager) send(participantID string, frame wsFrame) int {
	sent := 0
	for _, c := range m.connsFor(participantID) {
		if err := c.writeFrame(frame); err != nil {
			log.Printf("party: send to %s failed: %v", participantID, err)
			continue
		}
		sent++
	}
	return sent
}

// broadcast sends frame to every connected participant.
func (m *connectionManager) broadcast(frame wsFrame) int {
	sent := 0
	for _, participantID := range m.participants() {
		sent += m.send(participantID, frame)
	}
	return sent
}

// broadcastExcept sends frame to everyone but excludeID. Join and leave
// notices use it so a participant never hears about their own arrival.
func (m *connectionManager) broadcastExcept(excludeID string, frame wsFrame) int {
	sent := 0
	for _, participantID := range m.participants() {
		if participantID == excludeID {
			continue
		}
		sent += m.send(participantID, frame)
	}
	return sent
}

// broadcastFiltered personalizes resp per recipient: the same response
// produces different bytes on the wire for each participant.
func (m *connectionManager) broadcastFiltered(resp queue.Response, filter func(queue.Response, string) queue.FilteredResponse) int {
	sent := 0
	for _, participantID := range m.participants() {
		filtered := filter(resp, participantID)
		sent += m.send(participantID, responseFrame(filtered))
	}
	return sent
}

// responseSource is the slice of ResponseQueue that reconnect replay needs.
type responseSource interface {
	ForParticipant(participantID string, since time.Time, isDM bool) []queue.FilteredResponse
}

// replayMissed resends responses generated after since, in the order they
// were generated. The boundary is exclusive, so nothing is replayed twice.
func (m *connectionManager) replayMissed(participantID string, since time.Time, source responseSource, isDM bool) int {
	replayed := 0
	for _, filtered := range source.ForParticipant(participantID, since, isDM) {
		if m.send(participantID, responseFrame(filtered)) > 0 {
			replayed++
		}
	}
	return replayed
}

func responseFrame(filtered queue.FilteredResponse) wsFrame {
	frameType := frameNarrative
	if filtered.Private != "" {
		frameType = framePrivate
	}
	return wsFrame{Type: frameType, Payload: mustJSON(filtered)}
}

// markPong records liveness for the participant.
func (m *connectionManager) markPong(participantID string) {
	m.mu.Lock()
	m.lastPong[participantID] = time.Now()
	m.mu.Unlock()
}

// markSeen records the client-reported last-seen timestamp.
func (m *connectionManager) markSeen(participantID string, seen time.Time) {
	m.mu.Lock()
	m.lastSeen[participantID] = seen
	m.mu.Unlock()
}

// stale returns participants whose last pong is older than timeout.
func (m *connectionManager) stale(timeout time.Duration, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for participantID, pong := range m.lastPong {
		if now.Sub(pong) > timeout {
			out = append(out, participantID)
		}
	}
	sort.Strings(out)
	return out
}

func (m *connectionManager) participants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.byParticipant))
	for participantID := range m.byParticipant {
		out = append(out, participantID)
	}
	sort.Strings(out)
	return out
}

func (m *connectionManager) connectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, set := range m.byParticipant {
		total += len(set)
	}
	return total
}

// closeParticipant force-closes every connection for the participant. The
// reader goroutines observe the close and unregister themselves.
func (m *connectionManager) closeParticipant(participantID string) {
	for _, c := range m.connsFor(participantID) {
		c.close()
	}
}

// closeAll force-closes every live connection so no handler can block
// shutdown indefinitely.
func (m *connectionManager) closeAll() {
	for _, c := range m.allConns() {
		c.close()
	}
}
