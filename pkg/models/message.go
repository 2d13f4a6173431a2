package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageKind distinguishes how a message renders in the timeline.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindThought MessageKind = "thought"
	KindTool    MessageKind = "tool"
)

// Message is a single entry in a session's conversation timeline.
//
// A message with AnchorID set references an earlier message in the same
// session and renders as a satellite of its anchor instead of as a top-level
// timeline entry. Ordering inside a session is append/insert-after only;
// messages are mutated in place (content growth, summary assignment) and
// never deleted except with the whole session.
type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	Summary   string      `json:"summary,omitempty"`
	AnchorID  string      `json:"anchor_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsTimelineText reports whether the message participates in conversation
// context building: a top-level user or assistant text message.
func (m *Message) IsTimelineText() bool {
	if m == nil || m.AnchorID != "" || m.Kind != KindText {
		return false
	}
	return m.Role == RoleUser || m.Role == RoleAssistant
}
