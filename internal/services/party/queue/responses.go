package queue

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wrenfield/partymode/internal/platform/errors"
	"github.com/wrenfield/partymode/internal/services/party/journal"
)

// Response is a host-produced update. Once pushed it is immutable.
//
// Narrative is visible to everyone. Private holds per-participant asides
// keyed by participant id. DMOnly is visible to the DM role only.
type Response struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Narrative string            `json:"narrative"`
	Private   map[string]string `json:"private,omitempty"`
	DMOnly    string            `json:"dm_only,omitempty"`
	ActionID  string            `json:"action_id,omitempty"`
}

// FilteredResponse is a response reduced to what one recipient may see.
type FilteredResponse struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ActionID  string    `json:"action_id,omitempty"`
	Narrative string    `json:"narrative"`
	Private   string    `json:"private,omitempty"`
	DMOnly    string    `json:"dm_only,omitempty"`
}

// Filter reduces resp to the fields participantID may see. The private aside
// is included only when the response keys this participant; the DM-only note
// only when isDM.
func Filter(resp Response, participantID string, isDM bool) FilteredResponse {
	filtered := FilteredResponse{
		ID:        resp.ID,
		Timestamp: resp.Timestamp,
		ActionID:  resp.ActionID,
		Narrative: resp.Narrative,
	}
	if text, ok := resp.Private[participantID]; ok {
		filtered.Private = text
	}
	if isDM {
		filtered.DMOnly = resp.DMOnly
	}
	return filtered
}

// ResponseQueue is the append-only store of host responses.
//
// pushMu serializes Push through callback delivery so fan-out is scheduled in
// id order even under concurrent pushers. mu alone guards the shared state and
// stays cheap for readers.
type ResponseQueue struct {
	pushMu    sync.Mutex
	mu        sync.Mutex
	log       *journal.Journal
	responses []Response
	seq       int
	callback  func(Response)
}

// OpenResponseQueue opens the queue backed by the journal at path and replays
// any existing records. Every record is a terminal write, so replay is a
// straight concatenation.
func OpenResponseQueue(path string) (*ResponseQueue, error) {
	q := &ResponseQueue{}

	if err := journal.Replay(path, func(r Response) {
		q.responses = append(q.responses, r)
		if n, ok := numericSuffix(r.ID); ok && n > q.seq {
			q.seq = n
		}
	}); err != nil {
		return nil, errors.Wrap(errors.CodeJournalCorrupt, "replay response journal", err)
	}

	jl, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	q.log = jl
	return q, nil
}

// SetCallback registers fn to run after each Push reaches the journal. The
// callback's failures are caught and logged, never propagated to the pusher.
func (q *ResponseQueue) SetCallback(fn func(Response)) {
	q.mu.Lock()
	q.callback = fn
	q.mu.Unlock()
}

// Push assigns the next id and timestamp, appends resp to memory and journal,
// then notifies the registered callback with the finished record.
func (q *ResponseQueue) Push(resp Response) (string, error) {
	q.pushMu.Lock()
	defer q.pushMu.Unlock()

	q.mu.Lock()
	q.seq++
	resp.ID = fmt.Sprintf("res_%04d", q.seq)
	resp.Timestamp = time.Now().UTC()
	q.responses = append(q.responses, resp)
	if err := q.log.Append(resp); err != nil {
		wrapped := errors.Wrap(errors.CodeJournalAppendFailed, "append response record", err)
		log.Printf("party: %s for %s: %v", wrapped.Code, resp.ID, wrapped)
	}
	callback := q.callback
	q.mu.Unlock()

	if callback != nil {
		notify(callback, resp)
	}
	return resp.ID, nil
}

func notify(callback func(Response), resp Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("party: response callback panicked for %s: %v", resp.ID, r)
		}
	}()
	callback(resp)
}

// ForParticipant returns responses newer than since, each reduced to what the
// participant may see. The boundary is strict so replay cannot duplicate the
// boundary message.
func (q *ResponseQueue) ForParticipant(participantID string, since time.Time, isDM bool) []FilteredResponse {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []FilteredResponse
	for _, resp := range q.responses {
		if !resp.Timestamp.After(since) {
			continue
		}
		out = append(out, Filter(resp, participantID, isDM))
	}
	return out
}

// All returns every response unfiltered, for host and debug use only.
func (q *ResponseQueue) All() []Response {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Response, len(q.responses))
	copy(out, q.responses)
	return out
}

// Len reports how many responses have been pushed.
func (q *ResponseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.responses)
}

// Close closes the backing journal.
func (q *ResponseQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.log.Close()
}
