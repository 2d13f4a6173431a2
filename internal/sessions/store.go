// Package sessions holds the in-memory session store and the message
// timeline mutator. All mutations are synchronous under one store mutex;
// persistence is an asynchronous, debounced side effect delegated to a
// Persister.
package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencontext/ocagent/pkg/models"
)

// CreateConfig carries the caller-provided fields for a new session.
type CreateConfig struct {
	Name       string
	ProviderID models.ProviderID
	Model      string
	Intent     string
	AutoTitle  bool
}

// Store owns all sessions and their message timelines. Reads return clones;
// internal state is only reachable through the mutation methods.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	order    []string
	activeID string

	// onChange is invoked (outside the lock) after every mutation. The
	// owner wires it to a debounced snapshot save.
	onChange func()
}

// Option configures a Store.
type Option func(*Store)

// WithOnChange sets the mutation hook used to schedule persistence.
func WithOnChange(fn func()) Option {
	return func(s *Store) {
		s.onChange = fn
	}
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: map[string]*models.Session{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Create adds a new session and returns a clone of it.
func (s *Store) Create(cfg CreateConfig) *models.Session {
	now := time.Now()
	session := &models.Session{
		ID:         uuid.NewString(),
		Name:       cfg.Name,
		ProviderID: cfg.ProviderID,
		Model:      cfg.Model,
		Intent:     cfg.Intent,
		AutoTitle:  cfg.AutoTitle,
		Messages:   []*models.Message{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.order = append(s.order, session.ID)
	if s.activeID == "" {
		s.activeID = session.ID
	}
	clone := cloneSession(session)
	s.mu.Unlock()

	s.notify()
	return clone
}

// Update applies fn to the session and stamps UpdatedAt. Returns false if the
// id is unknown; unknown ids are a no-op, never an error.
func (s *Store) Update(id string, fn func(*models.Session)) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(session)
	session.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.notify()
	return true
}

// Delete removes a session and its messages. Deleting the active session
// re-selects the first remaining session, or leaves selection empty.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, id)
	for i, sid := range s.order {
		if sid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = ""
		if len(s.order) > 0 {
			s.activeID = s.order[0]
		}
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// SetActive marks the session selected for display.
func (s *Store) SetActive(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	if ok {
		s.activeID = id
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// ActiveID returns the id of the selected session, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Get returns a clone of the session, or nil if unknown.
func (s *Store) Get(id string) *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return cloneSession(session)
}

// List returns clones of all sessions in creation order.
func (s *Store) List() []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.order))
	for _, id := range s.order {
		if session, ok := s.sessions[id]; ok {
			out = append(out, cloneSession(session))
		}
	}
	return out
}

func cloneSession(in *models.Session) *models.Session {
	out := *in
	out.AvailableModels = append([]string(nil), in.AvailableModels...)
	out.Messages = cloneMessages(in.Messages)
	return &out
}

func cloneMessages(in []*models.Message) []*models.Message {
	out := make([]*models.Message, len(in))
	for i, m := range in {
		c := *m
		out[i] = &c
	}
	return out
}
