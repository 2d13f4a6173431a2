// Package providers adapts external coding-agent processes (codex MCP,
// Claude ACP, OpenCode ACP) to the engine's normalized stream-event
// vocabulary. The engine never sees provider wire formats; adapters translate
// everything into models.StreamEvent and deliver it over per-request
// subscriptions.
package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opencontext/ocagent/pkg/models"
)

// Decision is a user's answer to a permission request.
type Decision struct {
	Approved bool

	// OptionID selects an ACP permission option; empty means the adapter
	// picks the first option matching Approved.
	OptionID string
}

// Adapter is the contract one provider variant implements. Generation
// results are delivered through the event subscription, never through call
// return values.
type Adapter interface {
	// ID names the provider variant.
	ID() models.ProviderID

	// Subscribe opens the normalized event channel for a request. Call
	// before StartGeneration or Preflight so no event is lost.
	Subscribe(requestID string) <-chan models.StreamEvent

	// Unsubscribe tears down a request's channel.
	Unsubscribe(requestID string)

	// Preflight establishes provider readiness for a session, emitting
	// status and models events tagged with requestID.
	Preflight(ctx context.Context, sessionID, requestID, model string) error

	// StartGeneration begins streaming a reply to prompt. Events arrive on
	// the requestID subscription.
	StartGeneration(ctx context.Context, sessionID, requestID, prompt, modelOverride string) error

	// StopGeneration requests provider-side termination for the session's
	// current generation. Best effort.
	StopGeneration(sessionID string)

	// AcknowledgePermission delivers the user's decision for a call id.
	AcknowledgePermission(sessionID, callID string, decision Decision) error

	// Close terminates all provider processes.
	Close()
}

// Registry holds the configured adapters by provider id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ProviderID]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[models.ProviderID]Adapter{}}
}

// Register adds an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.ID()] = a
	r.mu.Unlock()
}

// Get returns the adapter for a provider id.
func (r *Registry) Get(id models.ProviderID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("unsupported agent: %s", id)
	}
	return a, nil
}

// Close shuts down every adapter.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		a.Close()
	}
}

// eventBus fans stream events out to per-request subscribers. Channel order
// is delivery order; the dispatcher depends on it.
type eventBus struct {
	mu   sync.Mutex
	subs map[string]chan models.StreamEvent
}

// subscriptionBuffer bounds each request channel. The dispatcher drains
// continuously; the buffer only absorbs bursts.
const subscriptionBuffer = 256

func newEventBus() *eventBus {
	return &eventBus{subs: map[string]chan models.StreamEvent{}}
}

func (b *eventBus) subscribe(requestID string) <-chan models.StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[requestID]; ok {
		return ch
	}
	ch := make(chan models.StreamEvent, subscriptionBuffer)
	b.subs[requestID] = ch
	return ch
}

func (b *eventBus) unsubscribe(requestID string) {
	b.mu.Lock()
	ch, ok := b.subs[requestID]
	if ok {
		delete(b.subs, requestID)
	}
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// emit delivers an event to the request's subscriber. Events for unknown
// request ids are dropped; a full buffer also drops rather than stalling the
// provider read loop.
func (b *eventBus) emit(requestID string, ev models.StreamEvent) {
	ev.RequestID = requestID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[requestID]
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}
