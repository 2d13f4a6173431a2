package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opencontext/ocagent/pkg/models"
)

const loginTimeout = 70 * time.Second

// acpPermission is one outstanding session/request_permission awaiting a
// user decision.
type acpPermission struct {
	rpcID   int64
	options []models.PermissionOption
}

// acpSession is one spawned ACP agent process plus its negotiated session.
type acpSession struct {
	rpc *rpcSession

	mu          sync.Mutex
	sessionID   string
	permissions map[string]acpPermission // call id -> pending request
}

// ACPAdapter drives an Agent Client Protocol CLI (Claude or OpenCode) over
// stdio. Both speak the same protocol; the spawn command and login recovery
// differ.
type ACPAdapter struct {
	provider models.ProviderID
	argv     []string
	login    [][]string
	bus      *eventBus
	logger   *slog.Logger
	cwd      string

	mu       sync.Mutex
	sessions map[string]*acpSession
}

// NewClaudeAdapter creates the ACP adapter for Claude Code.
func NewClaudeAdapter(cwd string, logger *slog.Logger) *ACPAdapter {
	return newACPAdapter(models.ProviderClaude,
		[]string{"npx", "@zed-industries/claude-code-acp"},
		[][]string{
			{"claude", "/login"},
			{"npx", "@anthropic-ai/claude-code", "/login"},
		},
		cwd, logger)
}

// NewOpenCodeAdapter creates the ACP adapter for OpenCode.
func NewOpenCodeAdapter(cwd string, logger *slog.Logger) *ACPAdapter {
	return newACPAdapter(models.ProviderOpenCode,
		[]string{"opencode", "acp"},
		[][]string{{"opencode", "auth", "login"}},
		cwd, logger)
}

func newACPAdapter(provider models.ProviderID, argv []string, login [][]string, cwd string, logger *slog.Logger) *ACPAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ACPAdapter{
		provider: provider,
		argv:     argv,
		login:    login,
		bus:      newEventBus(),
		logger:   logger.With("provider", provider),
		cwd:      cwd,
		sessions: map[string]*acpSession{},
	}
}

func (a *ACPAdapter) ID() models.ProviderID { return a.provider }

func (a *ACPAdapter) Subscribe(requestID string) <-chan models.StreamEvent {
	return a.bus.subscribe(requestID)
}

func (a *ACPAdapter) Unsubscribe(requestID string) {
	a.bus.unsubscribe(requestID)
}

func (a *ACPAdapter) ensureSession(ctx context.Context, sessionID string) (*acpSession, error) {
	a.mu.Lock()
	if existing := a.sessions[sessionID]; existing != nil {
		a.mu.Unlock()
		return existing, nil
	}
	a.mu.Unlock()

	as := &acpSession{permissions: map[string]acpPermission{}}
	rpc, err := startRPCSession(ctx, a.argv, a.cwd, os.Environ(), a.logger, rpcHooks{
		onNotification: func(method string, id *int64, params json.RawMessage) {
			a.handleAgentMethod(as, method, id, params)
		},
		onStderrLine: func(line string) string {
			return ClassifyACPError(line, a.provider)
		},
		onRequestFailure: func(requestID, message string) {
			a.bus.emit(requestID, models.StreamEvent{
				Type:  models.EventError,
				Error: &models.ErrorPayload{Message: message},
			})
		},
		onRequestResponse: func(requestID string) {
			// ACP prompts complete by answering the session/prompt call.
			a.bus.emit(requestID, models.StreamEvent{Type: models.EventDone})
		},
		onStreamClosed: func(activeRequestID string) {
			if activeRequestID != "" {
				a.bus.emit(activeRequestID, models.StreamEvent{Type: models.EventDone})
			}
		},
	})
	if err != nil {
		return nil, classifySpawnError(err, a.provider)
	}
	as.rpc = rpc

	a.mu.Lock()
	a.sessions[sessionID] = as
	a.mu.Unlock()
	return as, nil
}

// Preflight walks the ACP readiness ladder: initialize, authenticate when
// the agent advertises auth methods, session/new, then a short auth probe.
// A session that already negotiated an ACP session id short-circuits.
func (a *ACPAdapter) Preflight(ctx context.Context, sessionID, requestID, model string) error {
	as, err := a.ensureSession(ctx, sessionID)
	if err != nil {
		return err
	}

	a.emitStatus(requestID, "connecting")
	if msg := as.rpc.startupError(); msg != "" {
		a.emitStatus(requestID, "error")
		return fmt.Errorf("%s", msg)
	}

	as.mu.Lock()
	existing := as.sessionID
	as.mu.Unlock()
	if existing != "" {
		a.emitStatus(requestID, "session_active")
		return a.trySetModel(as, existing, model)
	}

	initParams := map[string]any{
		"protocolVersion": 1,
		"clientCapabilities": map[string]any{
			"fs": map[string]any{
				"readTextFile":  true,
				"writeTextFile": true,
			},
		},
	}
	initRaw, err := as.rpc.call("initialize", initParams, 60*time.Second)
	if err != nil {
		a.emitStatus(requestID, "error")
		return a.classify(err)
	}
	a.emitStatus(requestID, "connected")

	var initResult struct {
		AuthMethods []struct {
			MethodID string `json:"methodId"`
			ID       string `json:"id"`
			Type     string `json:"type"`
		} `json:"authMethods"`
	}
	_ = json.Unmarshal(initRaw, &initResult)
	hasAuth := len(initResult.AuthMethods) > 0

	if hasAuth {
		a.emitStatus(requestID, "authenticating")
		authParams := map[string]any{}
		for _, m := range initResult.AuthMethods {
			switch {
			case m.MethodID != "":
				authParams["methodId"] = m.MethodID
			case m.ID != "":
				authParams["methodId"] = m.ID
			case m.Type != "":
				authParams["methodId"] = m.Type
			default:
				continue
			}
			break
		}
		if _, err := as.rpc.call("authenticate", authParams, 60*time.Second); err != nil && !isIgnorableMethodError(err) {
			a.attemptLogin()
			if _, err := as.rpc.call("authenticate", authParams, 60*time.Second); err != nil {
				a.emitStatus(requestID, "error")
				return a.classify(err)
			}
		}
	}

	sessionParams := map[string]any{"cwd": a.resolveCwd(), "mcpServers": []any{}}
	sessionRaw, err := as.rpc.call("session/new", sessionParams, 60*time.Second)
	if err != nil && hasAuth {
		a.attemptLogin()
		sessionRaw, err = as.rpc.call("session/new", sessionParams, 60*time.Second)
	}
	if err != nil {
		a.emitStatus(requestID, "error")
		return a.classify(err)
	}

	var sessionResult struct {
		SessionID string          `json:"sessionId"`
		Models    json.RawMessage `json:"models"`
	}
	if err := json.Unmarshal(sessionRaw, &sessionResult); err != nil || sessionResult.SessionID == "" {
		a.emitStatus(requestID, "error")
		return fmt.Errorf("ACP session did not return a sessionId")
	}

	if names := parseACPModels(sessionResult.Models); len(names) > 0 {
		a.bus.emit(requestID, models.StreamEvent{
			Type:   models.EventModels,
			Models: &models.ModelsPayload{Models: names},
		})
	}

	as.mu.Lock()
	as.sessionID = sessionResult.SessionID
	as.mu.Unlock()

	if err := a.probeAuth(as, sessionResult.SessionID); err != nil {
		a.emitStatus(requestID, "error")
		as.mu.Lock()
		as.sessionID = ""
		as.mu.Unlock()
		return err
	}

	a.emitStatus(requestID, "authenticated")
	a.emitStatus(requestID, "session_active")
	return a.trySetModel(as, sessionResult.SessionID, model)
}

// probeAuth fires a throwaway prompt to surface auth failures the agent only
// reports on first use. A timeout means the agent accepted the prompt and is
// thinking, which is success for the probe's purposes.
func (a *ACPAdapter) probeAuth(as *acpSession, acpSessionID string) error {
	params := map[string]any{
		"sessionId": acpSessionID,
		"prompt":    []map[string]any{{"type": "text", "text": "ping"}},
	}
	_, err := as.rpc.call("session/prompt", params, 8*time.Second)
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout") {
		return nil
	}
	return a.classify(err)
}

// attemptLogin runs the provider's CLI login commands until one succeeds.
func (a *ACPAdapter) attemptLogin() {
	for _, argv := range a.login {
		ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		err := cmd.Run()
		cancel()
		if err == nil {
			return
		}
		a.logger.Debug("login attempt failed", "command", strings.Join(argv, " "), "error", err)
	}
}

// trySetModel forwards a model selection, tolerating agents that do not
// implement session/set_model.
func (a *ACPAdapter) trySetModel(as *acpSession, acpSessionID, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil
	}
	params := map[string]any{"sessionId": acpSessionID, "modelId": model}
	if _, err := as.rpc.call("session/set_model", params, 30*time.Second); err != nil && !isIgnorableMethodError(err) {
		return err
	}
	return nil
}

// StartGeneration sends the prompt as a tracked session/prompt request.
// Completion arrives either as the call's response (done) or as an error.
func (a *ACPAdapter) StartGeneration(ctx context.Context, sessionID, requestID, prompt, modelOverride string) error {
	as, err := a.ensureSession(ctx, sessionID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	acpSessionID := as.sessionID
	as.mu.Unlock()
	if acpSessionID == "" {
		return fmt.Errorf("%s session not established; preflight required", a.provider)
	}

	if err := a.trySetModel(as, acpSessionID, modelOverride); err != nil {
		a.logger.Warn("set model failed", "model", modelOverride, "error", err)
	}

	params := map[string]any{
		"sessionId": acpSessionID,
		"prompt":    []map[string]any{{"type": "text", "text": prompt}},
	}
	return as.rpc.startTracked("session/prompt", params, requestID)
}

// StopGeneration abandons the session's in-flight request and drops pending
// permission correlations so stale prompts cannot be answered.
func (a *ACPAdapter) StopGeneration(sessionID string) {
	a.mu.Lock()
	as := a.sessions[sessionID]
	a.mu.Unlock()
	if as == nil {
		return
	}
	requestID := as.rpc.takeActiveRequest()
	as.mu.Lock()
	as.permissions = map[string]acpPermission{}
	as.mu.Unlock()
	if requestID != "" {
		a.emitStatus(requestID, "stopped")
		a.bus.emit(requestID, models.StreamEvent{Type: models.EventDone})
	}
}

// AcknowledgePermission resolves an outstanding session/request_permission.
// An approval selects the chosen option (or the first allow-kind option);
// a denial cancels the request.
func (a *ACPAdapter) AcknowledgePermission(sessionID, callID string, decision Decision) error {
	a.mu.Lock()
	as := a.sessions[sessionID]
	a.mu.Unlock()
	if as == nil {
		return fmt.Errorf("%s session not found: %s", a.provider, sessionID)
	}

	as.mu.Lock()
	pending, ok := as.permissions[callID]
	delete(as.permissions, callID)
	as.mu.Unlock()
	if !ok {
		return fmt.Errorf("permission request not found: %s", callID)
	}

	optionID := decision.OptionID
	if optionID == "" && decision.Approved {
		for _, opt := range pending.options {
			if strings.HasPrefix(opt.Kind, "allow") {
				optionID = opt.ID
				break
			}
		}
		if optionID == "" && len(pending.options) > 0 {
			optionID = pending.options[0].ID
		}
	}

	var outcome map[string]any
	if decision.Approved && optionID != "" {
		outcome = map[string]any{"outcome": "selected", "optionId": optionID}
	} else {
		outcome = map[string]any{"outcome": "cancelled"}
	}
	return as.rpc.respond(pending.rpcID, map[string]any{"outcome": outcome}, nil)
}

// Close kills every agent process.
func (a *ACPAdapter) Close() {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = map[string]*acpSession{}
	a.mu.Unlock()
	for _, as := range sessions {
		as.rpc.kill()
	}
}

func (a *ACPAdapter) emitStatus(requestID, status string) {
	a.bus.emit(requestID, models.StreamEvent{
		Type:   models.EventStatus,
		Status: &models.StatusPayload{Status: status},
	})
}

func (a *ACPAdapter) classify(err error) error {
	if msg := ClassifyACPError(err.Error(), a.provider); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return err
}

func (a *ACPAdapter) resolveCwd() string {
	if a.cwd != "" {
		return a.cwd
	}
	return "."
}

// handleAgentMethod dispatches agent-initiated traffic: streaming updates,
// permission requests, and filesystem proxying.
func (a *ACPAdapter) handleAgentMethod(as *acpSession, method string, id *int64, params json.RawMessage) {
	switch method {
	case "session/update":
		a.handleSessionUpdate(as, params)
	case "session/request_permission":
		a.handlePermissionRequest(as, id, params)
	case "fs/read_text_file":
		if id != nil {
			result, err := a.handleFSRead(params)
			a.respondFS(as, *id, result, err)
		}
	case "fs/write_text_file":
		if id != nil {
			result, err := a.handleFSWrite(params)
			a.respondFS(as, *id, result, err)
		}
	}
}

func (a *ACPAdapter) respondFS(as *acpSession, id int64, result any, err error) {
	if err != nil {
		_ = as.rpc.respond(id, nil, &rpcError{Code: rpcInternalError, Message: err.Error()})
		return
	}
	_ = as.rpc.respond(id, result, nil)
}

// acpToolCallRef digs the call id and location out of the several spellings
// ACP agents use.
type acpToolCallRef struct {
	ToolCallID  string `json:"toolCallId"`
	ToolCallID2 string `json:"tool_call_id"`
	CallID      string `json:"call_id"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	Kind        string `json:"kind"`
	Locations   []struct {
		Path string `json:"path"`
	} `json:"locations"`
}

func (r *acpToolCallRef) callID() string {
	switch {
	case r.ToolCallID != "":
		return r.ToolCallID
	case r.ToolCallID2 != "":
		return r.ToolCallID2
	case r.CallID != "":
		return r.CallID
	default:
		return r.ID
	}
}

func (r *acpToolCallRef) path() string {
	if len(r.Locations) > 0 {
		return r.Locations[0].Path
	}
	return ""
}

func (a *ACPAdapter) handleSessionUpdate(as *acpSession, params json.RawMessage) {
	var payload struct {
		Update struct {
			SessionUpdate string `json:"sessionUpdate"`
			Content       struct {
				Text string `json:"text"`
			} `json:"content"`
			acpToolCallRef
		} `json:"update"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}
	requestID := as.rpc.activeRequestID()
	if requestID == "" {
		return
	}

	switch payload.Update.SessionUpdate {
	case "agent_message_chunk":
		if payload.Update.Content.Text != "" {
			a.bus.emit(requestID, models.StreamEvent{
				Type:    models.EventContentDelta,
				Content: &models.ContentDeltaPayload{Delta: payload.Update.Content.Text},
			})
		}
	case "agent_thought_chunk":
		if payload.Update.Content.Text != "" {
			a.bus.emit(requestID, models.StreamEvent{
				Type:      models.EventReasoningDelta,
				Reasoning: &models.ReasoningPayload{Delta: payload.Update.Content.Text},
			})
		}
	case "tool_call", "tool_call_update":
		callID := payload.Update.callID()
		if callID == "" {
			return
		}
		a.bus.emit(requestID, models.StreamEvent{
			Type: models.EventTool,
			Tool: &models.ToolEventPayload{
				Kind:   models.ToolEventKind(payload.Update.SessionUpdate),
				CallID: callID,
				Title:  payload.Update.Title,
				Raw:    params,
			},
		})
	}
}

func (a *ACPAdapter) handlePermissionRequest(as *acpSession, id *int64, params json.RawMessage) {
	var payload struct {
		ToolCall acpToolCallRef `json:"toolCall"`
		Options  []struct {
			OptionID string `json:"optionId"`
			ID       string `json:"id"`
			Name     string `json:"name"`
			Kind     string `json:"kind"`
		} `json:"options"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}
	callID := payload.ToolCall.callID()
	if callID == "" || id == nil {
		return
	}

	options := make([]models.PermissionOption, 0, len(payload.Options))
	for _, opt := range payload.Options {
		optionID := opt.OptionID
		if optionID == "" {
			optionID = opt.ID
		}
		options = append(options, models.PermissionOption{ID: optionID, Name: opt.Name, Kind: opt.Kind})
	}

	as.mu.Lock()
	as.permissions[callID] = acpPermission{rpcID: *id, options: options}
	as.mu.Unlock()

	requestID := as.rpc.activeRequestID()
	if requestID == "" {
		return
	}

	perm := &models.PermissionRequest{
		CallID:  callID,
		Source:  "acp",
		Options: options,
		Path:    payload.ToolCall.path(),
		Raw:     params,
	}
	if payload.ToolCall.Kind == "execute" {
		perm.Command = payload.ToolCall.Title
	}
	if payload.ToolCall.Kind == "edit" {
		perm.Patch = true
	}
	a.bus.emit(requestID, models.StreamEvent{
		Type:       models.EventPermission,
		Permission: perm,
	})
}

// parseACPModels flattens the model list shapes ACP agents return: plain
// string arrays, object arrays, or a wrapper with availableModels.
func parseACPModels(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return cleanNames(names)
	}

	var objects []struct {
		ModelID string `json:"modelId"`
		ID      string `json:"id"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(raw, &objects); err == nil {
		for _, obj := range objects {
			switch {
			case obj.ModelID != "":
				names = append(names, obj.ModelID)
			case obj.ID != "":
				names = append(names, obj.ID)
			case obj.Name != "":
				names = append(names, obj.Name)
			}
		}
		return cleanNames(names)
	}

	var wrapper struct {
		AvailableModels json.RawMessage `json:"availableModels"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.AvailableModels) > 0 {
		return parseACPModels(wrapper.AvailableModels)
	}
	return nil
}

func cleanNames(names []string) []string {
	out := names[:0]
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// handleFSRead serves fs/read_text_file against the agent working
// directory.
func (a *ACPAdapter) handleFSRead(params json.RawMessage) (any, error) {
	var req struct {
		Path  string `json:"path"`
		Line  *int   `json:"line"`
		Limit *int   `json:"limit"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if req.Path == "" {
		return nil, fmt.Errorf("missing path")
	}
	data, err := os.ReadFile(a.resolveFSPath(req.Path))
	if err != nil {
		return nil, err
	}
	content := string(data)
	line := 1
	if req.Line != nil && *req.Line > 1 {
		line = *req.Line
	}
	if line <= 1 && req.Limit == nil {
		return map[string]any{"content": content}, nil
	}
	lines := strings.Split(content, "\n")
	start := line - 1
	if start >= len(lines) {
		return map[string]any{"content": ""}, nil
	}
	end := len(lines)
	if req.Limit != nil && start+*req.Limit < end {
		end = start + *req.Limit
	}
	return map[string]any{"content": strings.Join(lines[start:end], "\n")}, nil
}

// handleFSWrite serves fs/write_text_file, creating parent directories as
// needed.
func (a *ACPAdapter) handleFSWrite(params json.RawMessage) (any, error) {
	var req struct {
		Path    string  `json:"path"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if req.Path == "" {
		return nil, fmt.Errorf("missing path")
	}
	if req.Content == nil {
		return nil, fmt.Errorf("missing content")
	}
	resolved := a.resolveFSPath(req.Path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(resolved, []byte(*req.Content), 0o644); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (a *ACPAdapter) resolveFSPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if a.cwd != "" {
		return filepath.Join(a.cwd, path)
	}
	return path
}
