// Package models provides domain types for the OpenContext agent engine.
package models

import (
	"time"
)

// ProviderID identifies an external coding-agent variant.
type ProviderID string

const (
	ProviderCodex    ProviderID = "codex"
	ProviderClaude   ProviderID = "claude"
	ProviderOpenCode ProviderID = "opencode"
)

// SessionStatus tracks provider readiness for a session. Transitions are
// driven only by the stream dispatcher and preflight.
type SessionStatus string

const (
	StatusConnecting     SessionStatus = "connecting"
	StatusConnected      SessionStatus = "connected"
	StatusAuthenticating SessionStatus = "authenticating"
	StatusAuthenticated  SessionStatus = "authenticated"
	StatusSessionActive  SessionStatus = "session_active"
	StatusError          SessionStatus = "error"
	StatusDisconnected   SessionStatus = "disconnected"
)

// knownStatuses maps the status strings adapters may emit. Unknown strings
// are ignored by the dispatcher.
var knownStatuses = map[string]SessionStatus{
	string(StatusConnecting):     StatusConnecting,
	string(StatusConnected):      StatusConnected,
	string(StatusAuthenticating): StatusAuthenticating,
	string(StatusAuthenticated):  StatusAuthenticated,
	string(StatusSessionActive):  StatusSessionActive,
	string(StatusError):          StatusError,
	string(StatusDisconnected):   StatusDisconnected,
}

// ParseSessionStatus returns the SessionStatus for a raw adapter status
// string, or false if the string is not part of the vocabulary.
func ParseSessionStatus(raw string) (SessionStatus, bool) {
	s, ok := knownStatuses[raw]
	return s, ok
}

// Session represents one conversation thread against a provider.
type Session struct {
	ID              string        `json:"id"`
	Name            string        `json:"name,omitempty"`
	ProviderID      ProviderID    `json:"provider_id"`
	Model           string        `json:"model,omitempty"`
	Status          SessionStatus `json:"status,omitempty"`
	AvailableModels []string      `json:"available_models,omitempty"`
	Intent          string        `json:"intent,omitempty"`
	Messages        []*Message    `json:"messages"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	// AutoTitle marks sessions whose name should be derived from the first
	// user message rather than kept verbatim.
	AutoTitle bool `json:"auto_title,omitempty"`
}

// SessionsSnapshot is the persisted shape of the session store. It carries no
// in-flight request state.
type SessionsSnapshot struct {
	Sessions []*Session `json:"sessions"`
	ActiveID string     `json:"active_id,omitempty"`
}
