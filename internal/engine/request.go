package engine

import (
	"sync"
	"sync/atomic"

	"github.com/opencontext/ocagent/internal/providers"
	"github.com/opencontext/ocagent/pkg/models"
)

// requestState is the lifecycle of one in-flight generation request.
type requestState string

const (
	stateStreaming requestState = "streaming"
	stateCompleted requestState = "completed"
	stateCancelled requestState = "cancelled"
	stateErrored   requestState = "errored"
)

// request is the ephemeral state of one in-flight generation. It owns the
// anchor map and active-thought pointer so concurrent sessions stay fully
// isolated; the dispatch goroutine is the only writer after construction.
type request struct {
	id        string
	sessionID string
	provider  models.ProviderID
	adapter   providers.Adapter

	// userMessageID is the originating user message; thought messages
	// insert immediately after it.
	userMessageID string

	// targetID is the assistant message currently receiving content
	// deltas. Message splits redirect it.
	targetID string

	// thoughtID is the lazily created thought message; at most one per
	// request.
	thoughtID string

	// anchors maps external tool call ids to the inserted tool message, so
	// repeated events mutate instead of duplicating.
	anchors map[string]string

	// handled records permission call ids already prompted within this
	// request.
	handled map[string]bool

	// suppressed drops further content/reasoning deltas once the user
	// cancels, regardless of provider acknowledgement timing.
	suppressed atomic.Bool

	events <-chan models.StreamEvent

	// done closes when the request reaches a terminal state.
	done  chan struct{}
	state requestState
}

// requestTable tracks the single current request per session. Events whose
// request no longer sits in the table are ignored by construction: their
// dispatch loop has already exited.
type requestTable struct {
	mu      sync.Mutex
	current map[string]*request
}

func newRequestTable() *requestTable {
	return &requestTable{current: map[string]*request{}}
}

// track registers req as the session's current request. Returns false when
// another request is already in flight.
func (t *requestTable) track(req *request) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.current[req.sessionID]; busy {
		return false
	}
	t.current[req.sessionID] = req
	return true
}

// get returns the session's current request, if any.
func (t *requestTable) get(sessionID string) *request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current[sessionID]
}

// release removes req from the table. Returns false when req was already
// released, making finalization exactly-once.
func (t *requestTable) release(req *request) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current[req.sessionID] != req {
		return false
	}
	delete(t.current, req.sessionID)
	return true
}

func newRequest(id, sessionID string, provider models.ProviderID, adapter providers.Adapter, userMessageID, targetID string, events <-chan models.StreamEvent) *request {
	return &request{
		id:            id,
		sessionID:     sessionID,
		provider:      provider,
		adapter:       adapter,
		userMessageID: userMessageID,
		targetID:      targetID,
		anchors:       map[string]string{},
		handled:       map[string]bool{},
		events:        events,
		done:          make(chan struct{}),
		state:         stateStreaming,
	}
}
