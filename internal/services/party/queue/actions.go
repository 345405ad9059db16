// Package queue holds the action and response queues that bridge the network
// transport and the host game loop.
//
// Both queues are plain synchronized state: each journal record is appended
// inside the critical section that mutates memory, so log order always matches
// memory order. A failed append is logged and the in-memory mutation still
// completes; durability degrades rather than dropping the write.
package queue

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wrenfield/partymode/internal/platform/errors"
	"github.com/wrenfield/partymode/internal/services/party/journal"
)

// Status tracks an action through its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusResolved   Status = "resolved"
)

// Action is a participant-submitted command awaiting host resolution.
type Action struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	Status        Status    `json:"status"`
	ResponseID    string    `json:"response_id,omitempty"`
}

// ActionQueue is the hand-off point between the network-facing producer and
// the host game loop consumer.
type ActionQueue struct {
	mu      sync.Mutex
	log     *journal.Journal
	actions map[string]*Action
	pending []string
	seq     int
}

// OpenActionQueue opens the queue backed by the journal at path and replays
// any existing records.
//
// Replay keeps the last record per id. Ids still pending or processing after
// replay are re-queued as pending: an in-flight action whose resolution was
// never observed is resumed, never silently dropped. The sequence counter
// resumes past the highest known id.
func OpenActionQueue(path string) (*ActionQueue, error) {
	q := &ActionQueue{actions: make(map[string]*Action)}

	if err := journal.Replay(path, func(a Action) {
		record := a
		q.actions[record.ID] = &record
		if n, ok := numericSuffix(record.ID); ok && n > q.seq {
			q.seq = n
		}
	}); err != nil {
		return nil, errors.Wrap(errors.CodeJournalCorrupt, "replay action journal", err)
	}

	var requeue []string
	for id, action := range q.actions {
		if action.Status == StatusPending || action.Status == StatusProcessing {
			action.Status = StatusPending
			requeue = append(requeue, id)
		}
	}
	sort.Slice(requeue, func(i, j int) bool {
		a, _ := numericSuffix(requeue[i])
		b, _ := numericSuffix(requeue[j])
		return a < b
	})
	q.pending = requeue

	jl, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	q.log = jl
	return q, nil
}

// Push appends a pending action and returns its id.
func (q *ActionQueue) Push(participantID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New(errors.CodeActionEmptyText, "action text is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	action := &Action{
		ID:            fmt.Sprintf("act_%04d", q.seq),
		ParticipantID: participantID,
		Text:          text,
		Timestamp:     time.Now().UTC(),
		Status:        StatusPending,
	}
	q.actions[action.ID] = action
	q.pending = append(q.pending, action.ID)
	q.appendLocked(action)
	return action.ID, nil
}

// Pop removes the oldest pending action, marks it processing, and returns a
// copy. It returns nil when nothing is pending.
//
// Dequeue-and-mark happens under one lock acquisition, so two concurrent
// callers can never receive the same action.
func (q *ActionQueue) Pop() *Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]

	action := q.actions[id]
	action.Status = StatusProcessing
	q.appendLocked(action)

	copied := *action
	return &copied
}

// Resolve marks the action resolved and records the response that answered it.
func (q *ActionQueue) Resolve(actionID, responseID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	action, ok := q.actions[actionID]
	if !ok {
		return errors.New(errors.CodeActionNotFound, fmt.Sprintf("action %s not found", actionID))
	}
	action.Status = StatusResolved
	action.ResponseID = responseID
	q.appendLocked(action)
	return nil
}

// Get returns a copy of an action.
func (q *ActionQueue) Get(actionID string) (Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	action, ok := q.actions[actionID]
	if !ok {
		return Action{}, false
	}
	return *action, true
}

// Status reports the current status of an action.
func (q *ActionQueue) Status(actionID string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	action, ok := q.actions[actionID]
	if !ok {
		return "", false
	}
	return action.Status, true
}

// PendingCount reports how many actions await the host game loop.
func (q *ActionQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close closes the backing journal.
func (q *ActionQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.log.Close()
}

func (q *ActionQueue) appendLocked(action *Action) {
	if err := q.log.Append(action); err != nil {
		wrapped := errors.Wrap(errors.CodeJournalAppendFailed, "append action record", err)
		log.Printf("party: %s for %s: %v", wrapped.Code, action.ID, wrapped)
	}
}

func numericSuffix(id string) (int, bool) {
	idx := strings.LastIndexByte(id, '_')
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
