package providers

import (
	"bytes"
	"encoding/json"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/opencontext/ocagent/pkg/models"
)

func TestParseCodexMCPArgsPrefersMCPServerForNewVersions(t *testing.T) {
	args := ParseCodexMCPArgs("codex v0.40.1")
	if !reflect.DeepEqual(args, []string{"mcp-server"}) {
		t.Fatalf("ParseCodexMCPArgs(v0.40.1) = %v", args)
	}
}

func TestParseCodexMCPArgsUsesLegacyForOldVersions(t *testing.T) {
	args := ParseCodexMCPArgs("codex version 0.39.0")
	if !reflect.DeepEqual(args, []string{"mcp", "serve"}) {
		t.Fatalf("ParseCodexMCPArgs(0.39.0) = %v", args)
	}
}

func TestParseCodexMCPArgsDefaultsToMCPServer(t *testing.T) {
	args := ParseCodexMCPArgs("")
	if !reflect.DeepEqual(args, []string{"mcp-server"}) {
		t.Fatalf("ParseCodexMCPArgs(empty) = %v", args)
	}
}

func TestParseCodexMCPArgsMajorVersionWins(t *testing.T) {
	args := ParseCodexMCPArgs("codex 1.2.0")
	if !reflect.DeepEqual(args, []string{"mcp-server"}) {
		t.Fatalf("ParseCodexMCPArgs(1.2.0) = %v", args)
	}
}

// fakeWriteCloser captures frames written to the agent's stdin.
type fakeWriteCloser struct {
	bytes.Buffer
}

func (f *fakeWriteCloser) Close() error { return nil }

// newTestCodexSession builds an adapter-owned session around a synthetic
// rpcSession with no real process behind it.
func newTestCodexSession(t *testing.T, a *CodexAdapter, sessionID, requestID string) (*codexSession, *fakeWriteCloser) {
	t.Helper()
	stdin := &fakeWriteCloser{}
	cs := &codexSession{
		rpc: &rpcSession{
			stdin:      io.WriteCloser(stdin),
			pending:    map[int64]chan rpcResult{},
			requestMap: map[int64]string{},
		},
		elicitations: map[string]int64{},
		patchChanges: map[string]json.RawMessage{},
	}
	cs.rpc.activeRequest = requestID
	a.mu.Lock()
	a.sessions[sessionID] = cs
	a.mu.Unlock()
	return cs, stdin
}

func drainOne(t *testing.T, ch <-chan models.StreamEvent) models.StreamEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	default:
		t.Fatal("expected an event")
		return models.StreamEvent{}
	}
}

func TestCodexEventTranslation(t *testing.T) {
	a := NewCodexAdapter("", nil)
	ch := a.Subscribe("req-1")
	cs, _ := newTestCodexSession(t, a, "sess-1", "req-1")

	emit := func(msg string) {
		params := json.RawMessage(`{"msg":` + msg + `}`)
		a.handleCodexEvent(cs, nil, params)
	}

	emit(`{"type":"task_started"}`)
	ev := drainOne(t, ch)
	if ev.Type != models.EventStatus || ev.Status.Status != "task_started" {
		t.Fatalf("task_started -> %v %v", ev.Type, ev.Status)
	}

	emit(`{"type":"agent_reasoning_delta","delta":"thinking"}`)
	ev = drainOne(t, ch)
	if ev.Type != models.EventReasoningDelta || ev.Reasoning.Delta != "thinking" {
		t.Fatalf("reasoning -> %+v", ev)
	}

	emit(`{"type":"agent_message_delta","delta":"Hello"}`)
	ev = drainOne(t, ch)
	if ev.Type != models.EventContentDelta || ev.Content.Delta != "Hello" {
		t.Fatalf("content -> %+v", ev)
	}

	// Full message after deltas must be suppressed.
	emit(`{"type":"agent_message","message":"Hello world"}`)
	select {
	case ev := <-ch:
		t.Fatalf("agent_message after deltas delivered %v", ev.Type)
	default:
	}

	emit(`{"type":"exec_command_end","call_id":"call-1","exit_code":0,"aggregated_output":"ok\n"}`)
	ev = drainOne(t, ch)
	if ev.Type != models.EventTool {
		t.Fatalf("tool event type = %v", ev.Type)
	}
	if ev.Tool.Kind != models.ToolExecCommandEnd || ev.Tool.CallID != "call-1" {
		t.Fatalf("tool payload = %+v", ev.Tool)
	}
	if ev.Tool.ExitCode == nil || *ev.Tool.ExitCode != 0 {
		t.Fatalf("tool exit code = %v", ev.Tool.ExitCode)
	}
	if ev.Tool.Output != "ok\n" {
		t.Fatalf("tool output = %q", ev.Tool.Output)
	}

	emit(`{"type":"task_complete"}`)
	ev = drainOne(t, ch)
	if ev.Type != models.EventDone {
		t.Fatalf("task_complete -> %v", ev.Type)
	}
	if got := cs.rpc.activeRequestID(); got != "" {
		t.Fatalf("active request after done = %q", got)
	}
}

func TestCodexFullMessageFallbackWithoutDeltas(t *testing.T) {
	a := NewCodexAdapter("", nil)
	ch := a.Subscribe("req-1")
	cs, _ := newTestCodexSession(t, a, "sess-1", "req-1")

	a.handleCodexEvent(cs, nil, json.RawMessage(`{"msg":{"type":"agent_message","message":"full reply"}}`))
	ev := drainOne(t, ch)
	if ev.Type != models.EventContentDelta || ev.Content.Delta != "full reply" {
		t.Fatalf("fallback -> %+v", ev)
	}
}

func TestCodexPermissionRequestTracksElicitation(t *testing.T) {
	a := NewCodexAdapter("", nil)
	ch := a.Subscribe("req-1")
	cs, stdin := newTestCodexSession(t, a, "sess-1", "req-1")

	id := int64(42)
	a.handleCodexEvent(cs, &id, json.RawMessage(
		`{"msg":{"type":"exec_approval_request","call_id":"call-9","command":["rm","-rf","build"]}}`))

	ev := drainOne(t, ch)
	if ev.Type != models.EventPermission {
		t.Fatalf("event type = %v", ev.Type)
	}
	if ev.Permission.CallID != "call-9" || ev.Permission.Source != "codex" {
		t.Fatalf("permission = %+v", ev.Permission)
	}
	if ev.Permission.Command != "rm -rf build" {
		t.Fatalf("permission command = %q", ev.Permission.Command)
	}

	if err := a.AcknowledgePermission("sess-1", "call-9", Decision{Approved: true}); err != nil {
		t.Fatalf("AcknowledgePermission() error = %v", err)
	}
	written := stdin.String()
	if !strings.Contains(written, `"id":42`) || !strings.Contains(written, `"decision":"approved"`) {
		t.Fatalf("elicitation response = %q", written)
	}

	// Second ack for the same call id is a no-op.
	stdin.Reset()
	if err := a.AcknowledgePermission("sess-1", "call-9", Decision{Approved: false}); err != nil {
		t.Fatalf("repeat AcknowledgePermission() error = %v", err)
	}
	if stdin.Len() != 0 {
		t.Fatalf("repeat ack wrote %q", stdin.String())
	}
}

func TestCodexPatchApprovalUsesCachedChanges(t *testing.T) {
	a := NewCodexAdapter("", nil)
	a.Subscribe("req-1")
	cs, stdin := newTestCodexSession(t, a, "sess-1", "req-1")

	id := int64(7)
	a.handleCodexEvent(cs, &id, json.RawMessage(
		`{"msg":{"type":"apply_patch_approval_request","call_id":"patch-1","changes":{"main.go":{"add":1}}}}`))

	if err := a.AcknowledgePermission("sess-1", "patch-1", Decision{Approved: true}); err != nil {
		t.Fatalf("AcknowledgePermission() error = %v", err)
	}
	written := stdin.String()
	if !strings.Contains(written, "apply_patch_approval_response") {
		t.Fatalf("expected patch approval frame, got %q", written)
	}
	if !strings.Contains(written, `"approved":true`) || !strings.Contains(written, `"main.go"`) {
		t.Fatalf("patch frame missing fields: %q", written)
	}
}

func TestCodexSessionConfiguredCapturesConversation(t *testing.T) {
	a := NewCodexAdapter("", nil)
	cs, _ := newTestCodexSession(t, a, "sess-1", "")

	a.handleCodexEvent(cs, nil, json.RawMessage(`{"msg":{"type":"session_configured","session_id":"conv-77"}}`))

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.conversationID != "conv-77" || !cs.started {
		t.Fatalf("conversation = %q started = %v", cs.conversationID, cs.started)
	}
}

func TestCodexStopGenerationEmitsStoppedAndDone(t *testing.T) {
	a := NewCodexAdapter("", nil)
	ch := a.Subscribe("req-1")
	newTestCodexSession(t, a, "sess-1", "req-1")

	a.StopGeneration("sess-1")

	ev := drainOne(t, ch)
	if ev.Type != models.EventStatus || ev.Status.Status != "stopped" {
		t.Fatalf("first event = %+v", ev)
	}
	ev = drainOne(t, ch)
	if ev.Type != models.EventDone {
		t.Fatalf("second event type = %v", ev.Type)
	}
}

func TestCodexEventsWithoutActiveRequestDropped(t *testing.T) {
	a := NewCodexAdapter("", nil)
	ch := a.Subscribe("req-1")
	cs, _ := newTestCodexSession(t, a, "sess-1", "")

	a.handleCodexEvent(cs, nil, json.RawMessage(`{"msg":{"type":"agent_message_delta","delta":"late"}}`))

	select {
	case ev := <-ch:
		t.Fatalf("event delivered with no active request: %v", ev.Type)
	default:
	}
}
