package models

import (
	"encoding/json"
	"time"
)

// StreamEvent is the normalized event vocabulary the engine consumes. Each
// provider adapter translates its own wire format into this union; the engine
// never depends on provider-specific shapes beyond it.
//
// Design principles:
//   - Single Type discriminator with exactly one payload pointer set
//   - RequestID scopes every event to one in-flight generation request
//   - done/error are terminal and always delivered last for a request
type StreamEvent struct {
	// Type identifies the kind of event.
	Type StreamEventType `json:"type"`

	// RequestID identifies the generation request the event belongs to.
	// Events whose request id does not match the currently tracked request
	// are dropped by the dispatcher.
	RequestID string `json:"request_id,omitempty"`

	// Time is when the adapter produced the event.
	Time time.Time `json:"time,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Content    *ContentDeltaPayload `json:"content,omitempty"`
	Reasoning  *ReasoningPayload    `json:"reasoning,omitempty"`
	Status     *StatusPayload       `json:"status,omitempty"`
	Tool       *ToolEventPayload    `json:"tool,omitempty"`
	Permission *PermissionRequest   `json:"permission,omitempty"`
	Models     *ModelsPayload       `json:"models,omitempty"`
	Error      *ErrorPayload        `json:"error,omitempty"`
}

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	EventContentDelta   StreamEventType = "content.delta"
	EventReasoningDelta StreamEventType = "reasoning.delta"
	EventStatus         StreamEventType = "status"
	EventTool           StreamEventType = "tool"
	EventPermission     StreamEventType = "permission"
	EventModels         StreamEventType = "models"
	EventDone           StreamEventType = "done"
	EventError          StreamEventType = "error"
)

// ContentDeltaPayload carries incremental assistant text.
type ContentDeltaPayload struct {
	Delta string `json:"delta"`
}

// ReasoningPayload carries incremental thinking-trace text.
type ReasoningPayload struct {
	Delta string `json:"delta"`
}

// StatusPayload carries a raw adapter status string. Strings outside the
// SessionStatus vocabulary plus "task_started" and "stopped" are ignored.
type StatusPayload struct {
	Status string `json:"status"`
}

// ErrorPayload carries a stream-reported provider failure.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ModelsPayload carries the provider-advertised model list, emitted during
// preflight.
type ModelsPayload struct {
	Models []string `json:"models"`
}

// ToolEventKind classifies tool events across providers.
type ToolEventKind string

const (
	ToolCall              ToolEventKind = "tool_call"
	ToolCallUpdate        ToolEventKind = "tool_call_update"
	ToolExecCommandBegin  ToolEventKind = "exec_command_begin"
	ToolExecCommandOutput ToolEventKind = "exec_command_output_delta"
	ToolExecCommandEnd    ToolEventKind = "exec_command_end"
	ToolPatchApplyBegin   ToolEventKind = "patch_apply_begin"
	ToolPatchApplyEnd     ToolEventKind = "patch_apply_end"
	ToolMCPCallBegin      ToolEventKind = "mcp_tool_call_begin"
	ToolMCPCallEnd        ToolEventKind = "mcp_tool_call_end"
)

// knownToolEventKinds is the set of kinds the dispatcher acts on. Adapters
// must not invent kinds outside this set; unknown kinds are dropped.
var knownToolEventKinds = map[ToolEventKind]bool{
	ToolCall:              true,
	ToolCallUpdate:        true,
	ToolExecCommandBegin:  true,
	ToolExecCommandOutput: true,
	ToolExecCommandEnd:    true,
	ToolPatchApplyBegin:   true,
	ToolPatchApplyEnd:     true,
	ToolMCPCallBegin:      true,
	ToolMCPCallEnd:        true,
}

// Known reports whether k is part of the tool event vocabulary.
func (k ToolEventKind) Known() bool {
	return knownToolEventKinds[k]
}

// ToolEventPayload describes one tool event. The adapter classifies the
// payload into explicit fields; downstream code never sniffs raw text to
// decide what a tool call is.
type ToolEventPayload struct {
	Kind   ToolEventKind `json:"kind"`
	CallID string        `json:"call_id"`

	// Title is a short human-readable label (tool name or command line).
	Title string `json:"title,omitempty"`

	// Output is free-form body text to append to the tool message.
	Output string `json:"output,omitempty"`

	// ExitCode is set on exec_command_end events.
	ExitCode *int `json:"exit_code,omitempty"`

	// Succeeded is set on terminal patch/mcp events.
	Succeeded *bool `json:"succeeded,omitempty"`

	// Raw preserves the provider payload for diagnostics.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// PermissionOption is one selectable decision for a permission prompt.
type PermissionOption struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Kind string `json:"kind,omitempty"`
}

// PermissionRequest asks the user to approve or deny a tool invocation. At
// most one decision is ever acknowledged per CallID.
type PermissionRequest struct {
	CallID  string             `json:"call_id"`
	Source  string             `json:"source"`
	Options []PermissionOption `json:"options,omitempty"`

	// Classified payload fields; exactly the ones the gate needs to derive
	// a human-readable summary.
	Command string `json:"command,omitempty"`
	Path    string `json:"path,omitempty"`
	Patch   bool   `json:"patch,omitempty"`

	// Raw preserves the provider payload.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Summary derives the human-readable prompt line for a permission request:
// command line, patch indicator, or file path, in that preference order.
func (p *PermissionRequest) Summary() string {
	switch {
	case p == nil:
		return ""
	case p.Command != "":
		return p.Command
	case p.Patch:
		return "apply patch"
	case p.Path != "":
		return p.Path
	default:
		return "tool call"
	}
}
