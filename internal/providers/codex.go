package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opencontext/ocagent/pkg/models"
)

const codexBinary = "codex"

// ParseCodexMCPArgs picks the MCP server subcommand from `codex --version`
// output. Codex 0.40 renamed `mcp serve` to `mcp-server`; unknown output
// assumes a current install.
func ParseCodexMCPArgs(output string) []string {
	var major, minor int
	for _, token := range strings.Fields(output) {
		trimmed := strings.TrimPrefix(token, "v")
		parts := strings.Split(trimmed, ".")
		if len(parts) < 2 {
			continue
		}
		mj, err1 := strconv.Atoi(parts[0])
		mn, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		major, minor = mj, mn
		break
	}

	if major > 0 || minor >= 40 {
		return []string{"mcp-server"}
	}
	if major == 0 && minor == 0 {
		return []string{"mcp-server"}
	}
	return []string{"mcp", "serve"}
}

func detectCodexMCPArgs() []string {
	out, err := exec.Command(codexBinary, "--version").Output()
	if err != nil {
		return ParseCodexMCPArgs("")
	}
	return ParseCodexMCPArgs(string(out))
}

// codexSession is one spawned `codex mcp-server` process plus the
// correlation state its event stream needs.
type codexSession struct {
	rpc   *rpcSession
	model string

	mu             sync.Mutex
	conversationID string
	started        bool
	receivedDelta  bool
	elicitations   map[string]int64           // call id -> server request id
	patchChanges   map[string]json.RawMessage // call id -> proposed changes
}

// CodexAdapter drives the codex CLI over its MCP stdio server. One process
// per engine session; the process is restarted when the session's model
// changes because codex pins the model at spawn time.
type CodexAdapter struct {
	bus    *eventBus
	logger *slog.Logger
	cwd    string

	mu       sync.Mutex
	sessions map[string]*codexSession
}

// NewCodexAdapter creates the codex adapter. cwd is the working directory
// agent processes run in.
func NewCodexAdapter(cwd string, logger *slog.Logger) *CodexAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CodexAdapter{
		bus:      newEventBus(),
		logger:   logger.With("provider", models.ProviderCodex),
		cwd:      cwd,
		sessions: map[string]*codexSession{},
	}
}

func (a *CodexAdapter) ID() models.ProviderID { return models.ProviderCodex }

func (a *CodexAdapter) Subscribe(requestID string) <-chan models.StreamEvent {
	return a.bus.subscribe(requestID)
}

func (a *CodexAdapter) Unsubscribe(requestID string) {
	a.bus.unsubscribe(requestID)
}

// ensureSession returns the session's codex process, spawning one if needed.
// A model change kills and respawns the process since codex takes the model
// as a spawn-time config override.
func (a *CodexAdapter) ensureSession(ctx context.Context, sessionID, model string) (*codexSession, error) {
	model = strings.TrimSpace(model)

	a.mu.Lock()
	existing := a.sessions[sessionID]
	if existing != nil {
		if model == "" || existing.model == model {
			a.mu.Unlock()
			return existing, nil
		}
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()

	if existing != nil {
		existing.rpc.kill()
	}

	argv := append([]string{codexBinary}, detectCodexMCPArgs()...)
	if model != "" {
		argv = append(argv, "-c", fmt.Sprintf("model=%q", model))
	}
	env := append(os.Environ(), "CODEX_NO_INTERACTIVE=1", "CODEX_AUTO_CONTINUE=1")

	cs := &codexSession{
		model:        model,
		elicitations: map[string]int64{},
		patchChanges: map[string]json.RawMessage{},
	}
	rpc, err := startRPCSession(ctx, argv, a.cwd, env, a.logger, rpcHooks{
		onNotification: func(method string, id *int64, params json.RawMessage) {
			if method == "codex/event" {
				a.handleCodexEvent(cs, id, params)
			}
		},
		onRawLine: func(line string) {
			a.handleRawLine(cs, line)
		},
		onStderrLine: ClassifyCodexError,
		onRequestFailure: func(requestID, message string) {
			a.bus.emit(requestID, models.StreamEvent{
				Type:  models.EventError,
				Error: &models.ErrorPayload{Message: message},
			})
		},
		onStreamClosed: func(activeRequestID string) {
			if activeRequestID != "" {
				a.bus.emit(activeRequestID, models.StreamEvent{Type: models.EventDone})
			}
		},
	})
	if err != nil {
		return nil, classifySpawnError(err, models.ProviderCodex)
	}
	cs.rpc = rpc

	a.mu.Lock()
	a.sessions[sessionID] = cs
	a.mu.Unlock()
	return cs, nil
}

// Preflight runs the codex readiness ladder: connecting, then MCP
// initialize, then session_active. Safe to call repeatedly; an initialized
// process short-circuits.
func (a *CodexAdapter) Preflight(ctx context.Context, sessionID, requestID, model string) error {
	cs, err := a.ensureSession(ctx, sessionID, model)
	if err != nil {
		return err
	}

	a.emitStatus(requestID, "connecting")
	if msg := cs.rpc.startupError(); msg != "" {
		a.emitStatus(requestID, "error")
		return fmt.Errorf("%s", msg)
	}

	a.waitForReady(cs)

	cs.rpc.mu.Lock()
	initialized := cs.rpc.initialized
	cs.rpc.mu.Unlock()
	if initialized {
		a.emitStatus(requestID, "session_active")
		return nil
	}

	a.emitStatus(requestID, "authenticating")
	initParams := map[string]any{
		"protocolVersion": "1.0.0",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "ocagent",
			"version": "1.0.0",
		},
	}
	if _, err := cs.rpc.call("initialize", initParams, 15*time.Second); err != nil {
		// Older codex builds reject initialize; tools/list still proves
		// the server is alive.
		if _, listErr := cs.rpc.call("tools/list", map[string]any{}, 10*time.Second); listErr != nil {
			a.emitStatus(requestID, "error")
			if msg := ClassifyCodexError(listErr.Error()); msg != "" {
				return fmt.Errorf("%s", msg)
			}
			return listErr
		}
	}

	cs.rpc.mu.Lock()
	cs.rpc.initialized = true
	cs.rpc.mu.Unlock()
	a.emitStatus(requestID, "authenticated")
	a.emitStatus(requestID, "session_active")
	return nil
}

// waitForReady pings the MCP server until it answers. Codex needs a moment
// after spawn before it reads stdin.
func (a *CodexAdapter) waitForReady(cs *codexSession) {
	for i := 0; i < 10; i++ {
		if _, err := cs.rpc.call("ping", map[string]any{}, 3*time.Second); err == nil {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// StartGeneration issues a tools/call for the prompt. The first turn uses
// the `codex` tool and pins a conversation id; subsequent turns use
// `codex-reply` against it.
func (a *CodexAdapter) StartGeneration(ctx context.Context, sessionID, requestID, prompt, modelOverride string) error {
	cs, err := a.ensureSession(ctx, sessionID, modelOverride)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	if cs.conversationID == "" {
		cs.conversationID = sessionID
	}
	conversationID := cs.conversationID
	useReply := cs.started
	cs.started = true
	cs.receivedDelta = false
	cs.mu.Unlock()

	args := map[string]any{"prompt": prompt}
	if a.cwd != "" {
		args["cwd"] = a.cwd
	}

	var params map[string]any
	if useReply {
		args["conversationId"] = conversationID
		params = map[string]any{"name": "codex-reply", "arguments": args}
	} else {
		params = map[string]any{
			"name":      "codex",
			"arguments": args,
			"config":    map[string]any{"conversationId": conversationID},
		}
	}

	return cs.rpc.startTracked("tools/call", params, requestID)
}

// StopGeneration abandons the session's in-flight request. The codex process
// keeps running; its late events no longer map to a tracked request and are
// dropped.
func (a *CodexAdapter) StopGeneration(sessionID string) {
	a.mu.Lock()
	cs := a.sessions[sessionID]
	a.mu.Unlock()
	if cs == nil {
		return
	}
	requestID := cs.rpc.takeActiveRequest()
	cs.mu.Lock()
	cs.receivedDelta = false
	cs.mu.Unlock()
	if requestID != "" {
		a.emitStatus(requestID, "stopped")
		a.bus.emit(requestID, models.StreamEvent{Type: models.EventDone})
	}
}

// AcknowledgePermission answers a codex approval. Patch approvals go through
// apply_patch_approval_response with the cached change set; exec approvals
// resolve the elicitation request directly.
func (a *CodexAdapter) AcknowledgePermission(sessionID, callID string, decision Decision) error {
	a.mu.Lock()
	cs := a.sessions[sessionID]
	a.mu.Unlock()
	if cs == nil {
		return fmt.Errorf("codex session not found: %s", sessionID)
	}

	normalized := strings.TrimPrefix(strings.TrimPrefix(callID, "patch_"), "elicitation_")

	cs.mu.Lock()
	changes, isPatch := cs.patchChanges[callID]
	if !isPatch {
		changes, isPatch = cs.patchChanges[normalized]
	}
	if isPatch {
		delete(cs.patchChanges, callID)
		delete(cs.patchChanges, normalized)
		delete(cs.elicitations, callID)
		delete(cs.elicitations, normalized)
	}
	cs.mu.Unlock()

	if isPatch {
		if len(changes) == 0 {
			changes = json.RawMessage(`{}`)
		}
		params := map[string]any{
			"call_id":  callID,
			"approved": decision.Approved,
			"changes":  changes,
		}
		return cs.rpc.post("apply_patch_approval_response", params)
	}

	cs.mu.Lock()
	reqID, ok := cs.elicitations[callID]
	if !ok {
		reqID, ok = cs.elicitations[normalized]
	}
	delete(cs.elicitations, callID)
	delete(cs.elicitations, normalized)
	cs.mu.Unlock()
	if !ok {
		return nil
	}

	result := "denied"
	if decision.Approved {
		result = "approved"
	}
	return cs.rpc.respond(reqID, map[string]any{"decision": result}, nil)
}

// Close kills every codex process.
func (a *CodexAdapter) Close() {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = map[string]*codexSession{}
	a.mu.Unlock()
	for _, cs := range sessions {
		cs.rpc.kill()
	}
}

func (a *CodexAdapter) emitStatus(requestID, status string) {
	a.bus.emit(requestID, models.StreamEvent{
		Type:   models.EventStatus,
		Status: &models.StatusPayload{Status: status},
	})
}

// handleRawLine deals with codex's occasional non-JSON stdout. Interactive
// prompts get an Enter keypress; anything else streams as content when a
// request is active.
func (a *CodexAdapter) handleRawLine(cs *codexSession, line string) {
	if strings.Contains(line, "Press Enter to continue") || strings.Contains(line, "Launching Codex CLI") {
		cs.rpc.writeRaw([]byte("\n"))
	}
	if requestID := cs.rpc.activeRequestID(); requestID != "" {
		a.bus.emit(requestID, models.StreamEvent{
			Type:    models.EventContentDelta,
			Content: &models.ContentDeltaPayload{Delta: line},
		})
	}
}

// codexEventMsg is the msg envelope inside codex/event notifications. Codex
// flattens per-type fields into the same object.
type codexEventMsg struct {
	Type             string          `json:"type"`
	Delta            string          `json:"delta"`
	Message          string          `json:"message"`
	CallID           string          `json:"call_id"`
	CodexCallID      string          `json:"codex_call_id"`
	Command          json.RawMessage `json:"command"`
	Changes          json.RawMessage `json:"changes"`
	CodexChanges     json.RawMessage `json:"codex_changes"`
	Chunk            string          `json:"chunk"`
	AggregatedOutput string          `json:"aggregated_output"`
	ExitCode         *int            `json:"exit_code"`
	Success          *bool           `json:"success"`
	SessionID        string          `json:"session_id"`
}

func (m *codexEventMsg) callID() string {
	if m.CallID != "" {
		return m.CallID
	}
	return m.CodexCallID
}

func (m *codexEventMsg) changes() json.RawMessage {
	if len(m.Changes) > 0 {
		return m.Changes
	}
	return m.CodexChanges
}

// commandLine renders codex's command field, which arrives as either a
// string or an argv array.
func (m *codexEventMsg) commandLine() string {
	if len(m.Command) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(m.Command, &single); err == nil {
		return single
	}
	var argv []string
	if err := json.Unmarshal(m.Command, &argv); err == nil {
		return strings.Join(argv, " ")
	}
	return string(m.Command)
}

// handleCodexEvent translates one codex/event notification into the
// normalized vocabulary. Events arriving with no active request are dropped.
func (a *CodexAdapter) handleCodexEvent(cs *codexSession, id *int64, params json.RawMessage) {
	var envelope struct {
		Msg json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(params, &envelope); err != nil || len(envelope.Msg) == 0 {
		return
	}
	var msg codexEventMsg
	if err := json.Unmarshal(envelope.Msg, &msg); err != nil {
		return
	}

	requestID := cs.rpc.activeRequestID()

	switch msg.Type {
	case "agent_message_delta":
		cs.mu.Lock()
		cs.receivedDelta = true
		cs.mu.Unlock()
		if requestID != "" && msg.Delta != "" {
			a.bus.emit(requestID, models.StreamEvent{
				Type:    models.EventContentDelta,
				Content: &models.ContentDeltaPayload{Delta: msg.Delta},
			})
		}

	case "agent_reasoning_delta":
		if requestID != "" && msg.Delta != "" {
			a.bus.emit(requestID, models.StreamEvent{
				Type:      models.EventReasoningDelta,
				Reasoning: &models.ReasoningPayload{Delta: msg.Delta},
			})
		}

	case "agent_message":
		// Full-message fallback for codex builds that never stream deltas.
		cs.mu.Lock()
		sawDelta := cs.receivedDelta
		cs.mu.Unlock()
		if requestID != "" && !sawDelta && msg.Message != "" {
			a.bus.emit(requestID, models.StreamEvent{
				Type:    models.EventContentDelta,
				Content: &models.ContentDeltaPayload{Delta: msg.Message},
			})
		}

	case "task_started":
		if requestID != "" {
			a.emitStatus(requestID, "task_started")
		}

	case "task_complete":
		cs.mu.Lock()
		cs.receivedDelta = false
		cs.mu.Unlock()
		if requestID != "" {
			a.bus.emit(requestID, models.StreamEvent{Type: models.EventDone})
			cs.rpc.clearActiveRequest(requestID)
		}

	case "session_configured":
		if msg.SessionID != "" {
			cs.mu.Lock()
			cs.conversationID = msg.SessionID
			cs.started = true
			cs.mu.Unlock()
		}

	case "exec_approval_request", "apply_patch_approval_request":
		callID := msg.callID()
		if callID == "" {
			return
		}
		cs.mu.Lock()
		if id != nil {
			cs.elicitations[callID] = *id
		}
		isPatch := msg.Type == "apply_patch_approval_request"
		if isPatch {
			if changes := msg.changes(); len(changes) > 0 {
				cs.patchChanges[callID] = changes
			}
		}
		cs.mu.Unlock()
		if requestID != "" {
			a.bus.emit(requestID, models.StreamEvent{
				Type: models.EventPermission,
				Permission: &models.PermissionRequest{
					CallID:  callID,
					Source:  "codex",
					Command: msg.commandLine(),
					Patch:   isPatch,
					Raw:     envelope.Msg,
				},
			})
		}

	case "exec_command_begin", "exec_command_output_delta", "exec_command_end",
		"patch_apply_begin", "patch_apply_end",
		"mcp_tool_call_begin", "mcp_tool_call_end":
		callID := msg.callID()
		if callID == "" || requestID == "" {
			return
		}
		output := msg.Chunk
		if output == "" {
			output = msg.AggregatedOutput
		}
		a.bus.emit(requestID, models.StreamEvent{
			Type: models.EventTool,
			Tool: &models.ToolEventPayload{
				Kind:      models.ToolEventKind(msg.Type),
				CallID:    callID,
				Title:     msg.commandLine(),
				Output:    output,
				ExitCode:  msg.ExitCode,
				Succeeded: msg.Success,
				Raw:       envelope.Msg,
			},
		})
	}
}
