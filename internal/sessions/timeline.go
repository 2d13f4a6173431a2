package sessions

import (
	"time"

	"github.com/google/uuid"

	"github.com/opencontext/ocagent/pkg/models"
)

// Timeline mutator. Ordering inside a session is append/insert-after only;
// same-session calls apply in call order under the store mutex, and calls
// targeting different sessions never interfere.

// AppendMessages adds messages to the end of a session's timeline, assigning
// ids and timestamps where missing. Returns the appended clones.
func (s *Store) AppendMessages(sessionID string, msgs ...*models.Message) []*models.Message {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	appended := make([]*models.Message, 0, len(msgs))
	for _, msg := range msgs {
		m := *msg
		fillMessage(&m)
		session.Messages = append(session.Messages, &m)
		c := m
		appended = append(appended, &c)
	}
	session.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.notify()
	return appended
}

// InsertAfter places msg immediately after the message with afterID. If
// afterID is not found the message is appended; insertion never errors.
func (s *Store) InsertAfter(sessionID, afterID string, msg *models.Message) *models.Message {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	m := *msg
	fillMessage(&m)
	idx := -1
	for i, existing := range session.Messages {
		if existing.ID == afterID {
			idx = i
			break
		}
	}
	if idx < 0 {
		session.Messages = append(session.Messages, &m)
	} else {
		session.Messages = append(session.Messages, nil)
		copy(session.Messages[idx+2:], session.Messages[idx+1:])
		session.Messages[idx+1] = &m
	}
	session.UpdatedAt = time.Now()
	clone := m
	s.mu.Unlock()

	s.notify()
	return &clone
}

// UpdateContent applies fn to the message's current content. Unknown ids are
// a no-op.
func (s *Store) UpdateContent(sessionID, messageID string, fn func(string) string) {
	s.mu.Lock()
	msg := s.findMessage(sessionID, messageID)
	if msg == nil {
		s.mu.Unlock()
		return
	}
	msg.Content = fn(msg.Content)
	s.sessions[sessionID].UpdatedAt = time.Now()
	s.mu.Unlock()

	s.notify()
}

// AppendContent appends text to the message's content.
func (s *Store) AppendContent(sessionID, messageID, text string) {
	s.UpdateContent(sessionID, messageID, func(prev string) string {
		return prev + text
	})
}

// UpdateSummary sets the message's summary field. Unknown ids are a no-op.
func (s *Store) UpdateSummary(sessionID, messageID, summary string) {
	s.mu.Lock()
	msg := s.findMessage(sessionID, messageID)
	if msg == nil {
		s.mu.Unlock()
		return
	}
	msg.Summary = summary
	s.sessions[sessionID].UpdatedAt = time.Now()
	s.mu.Unlock()

	s.notify()
}

// Message returns a clone of one message, or nil if unknown.
func (s *Store) Message(sessionID, messageID string) *models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg := s.findMessage(sessionID, messageID)
	if msg == nil {
		return nil
	}
	c := *msg
	return &c
}

// Messages returns clones of a session's messages in timeline order.
func (s *Store) Messages(sessionID string) []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return cloneMessages(session.Messages)
}

// findMessage must be called with the store mutex held.
func (s *Store) findMessage(sessionID, messageID string) *models.Message {
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	for _, msg := range session.Messages {
		if msg.ID == messageID {
			return msg
		}
	}
	return nil
}

func fillMessage(m *models.Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
}
