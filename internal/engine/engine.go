// Package engine turns normalized provider event streams into ordered,
// mutable conversation state. It owns request lifecycle (streaming,
// completion, cancellation), the tool/permission message-split discipline,
// and the correlation of permission prompts with user decisions.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opencontext/ocagent/internal/config"
	"github.com/opencontext/ocagent/internal/exec"
	"github.com/opencontext/ocagent/internal/observability"
	"github.com/opencontext/ocagent/internal/providers"
	"github.com/opencontext/ocagent/internal/sessions"
	"github.com/opencontext/ocagent/pkg/models"
)

// Engine coordinates sessions, provider adapters, and the command runner.
// One Engine serves all sessions; each in-flight request dispatches on its
// own goroutine.
type Engine struct {
	store    *sessions.Store
	registry *providers.Registry
	runner   exec.Runner
	catalog  *config.Catalog
	logger   *slog.Logger
	metrics  *observability.Metrics
	window   int

	onPermission func(PendingPermission)

	requests *requestTable
	perms    *permissionGate
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics enables metric collection.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCatalog shares provider-advertised model lists through a catalog.
func WithCatalog(c *config.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithContextWindow overrides how many trailing text messages feed each
// prompt.
func WithContextWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.window = n
		}
	}
}

// WithPermissionHandler registers a callback invoked when a permission
// prompt is raised. Pending prompts remain queryable either way.
func WithPermissionHandler(fn func(PendingPermission)) Option {
	return func(e *Engine) { e.onPermission = fn }
}

// New creates an Engine over the given store, adapters, and command runner.
func New(store *sessions.Store, registry *providers.Registry, runner exec.Runner, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		runner:   runner,
		logger:   slog.Default(),
		window:   defaultContextWindow,
		requests: newRequestTable(),
		perms:    newPermissionGate(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send starts one generation request for the session's provider: it appends
// the user message and an assistant placeholder, opens the event
// subscription, and issues the provider call. The returned request id is
// unique across all requests. A session with a request already in flight
// rejects the send.
func (e *Engine) Send(ctx context.Context, sessionID, text string) (string, error) {
	sess := e.store.Get(sessionID)
	if sess == nil {
		return "", fmt.Errorf("session not found: %s", sessionID)
	}

	adapter, err := e.registry.Get(sess.ProviderID)
	if err != nil {
		return "", err
	}
	if e.requests.get(sessionID) != nil {
		return "", fmt.Errorf("generation already in progress for session %s", sessionID)
	}

	requestID := uuid.NewString()

	appended := e.store.AppendMessages(sessionID,
		&models.Message{Role: models.RoleUser, Kind: models.KindText, Content: text},
		&models.Message{Role: models.RoleAssistant, Kind: models.KindText},
	)
	if len(appended) != 2 {
		return "", fmt.Errorf("session not found: %s", sessionID)
	}
	userMsg, placeholder := appended[0], appended[1]

	prompt := buildPrompt(e.store.Messages(sessionID), e.window)

	events := adapter.Subscribe(requestID)
	req := newRequest(requestID, sessionID, sess.ProviderID, adapter, userMsg.ID, placeholder.ID, events)

	if !e.requests.track(req) {
		adapter.Unsubscribe(requestID)
		return "", fmt.Errorf("generation already in progress for session %s", sessionID)
	}

	if e.metrics != nil {
		e.metrics.ActiveRequests.WithLabelValues(string(req.provider)).Inc()
	}

	go e.dispatch(req)

	if err := adapter.StartGeneration(ctx, sessionID, requestID, prompt, sess.Model); err != nil {
		e.logger.Error("start generation failed", "session", sessionID, "request", requestID, "error", err)
		e.failRequest(req, err.Error())
		return requestID, err
	}

	e.logger.Info("generation started", "session", sessionID, "request", requestID, "provider", req.provider)
	return requestID, nil
}

// Stop cancels the session's in-flight request. Suppression is immediate
// and local; the provider-side termination is best effort. The session is
// marked disconnected.
func (e *Engine) Stop(sessionID string) {
	req := e.requests.get(sessionID)
	if req == nil {
		return
	}
	req.suppressed.Store(true)
	e.store.Update(sessionID, func(s *models.Session) {
		s.Status = models.StatusDisconnected
	})
	req.adapter.StopGeneration(sessionID)
	e.logger.Info("generation stopped", "session", sessionID, "request", req.id)
}

// Generating reports whether the session has a request in flight.
func (e *Engine) Generating(sessionID string) bool {
	return e.requests.get(sessionID) != nil
}

// Preflight establishes provider readiness for the session: status ladder
// into session status, advertised models into the catalog and the session.
// Failure marks the session errored with a descriptive tool message and is
// not retried.
func (e *Engine) Preflight(ctx context.Context, sessionID string) error {
	sess := e.store.Get(sessionID)
	if sess == nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	adapter, err := e.registry.Get(sess.ProviderID)
	if err != nil {
		return err
	}

	requestID := "preflight-" + sessionID
	events := adapter.Subscribe(requestID)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events {
			e.applyPreflightEvent(sessionID, sess.ProviderID, ev)
		}
	}()

	preflightErr := adapter.Preflight(ctx, sessionID, requestID, sess.Model)
	adapter.Unsubscribe(requestID)
	<-drained

	if preflightErr != nil {
		e.store.Update(sessionID, func(s *models.Session) {
			s.Status = models.StatusError
		})
		e.store.AppendMessages(sessionID, &models.Message{
			Role:    models.RoleTool,
			Kind:    models.KindTool,
			Content: preflightErr.Error(),
			Summary: "preflight failed",
		})
		return preflightErr
	}
	return nil
}

func (e *Engine) applyPreflightEvent(sessionID string, provider models.ProviderID, ev models.StreamEvent) {
	switch ev.Type {
	case models.EventStatus:
		if ev.Status == nil {
			return
		}
		if status, ok := models.ParseSessionStatus(ev.Status.Status); ok {
			e.store.Update(sessionID, func(s *models.Session) {
				s.Status = status
			})
		}
	case models.EventModels:
		if ev.Models == nil || len(ev.Models.Models) == 0 {
			return
		}
		list := ev.Models.Models
		if e.catalog != nil {
			e.catalog.SetModels(provider, list)
		}
		e.store.Update(sessionID, func(s *models.Session) {
			s.AvailableModels = append([]string(nil), list...)
			if s.Model == "" {
				s.Model = list[0]
			}
		})
	}
}

// DeleteSession removes a session after stopping any in-flight generation
// and dropping its permission bookkeeping.
func (e *Engine) DeleteSession(sessionID string) bool {
	e.Stop(sessionID)
	e.perms.evict(sessionID)
	return e.store.Delete(sessionID)
}

// Close stops all provider processes.
func (e *Engine) Close() {
	e.registry.Close()
}

// dispatch is the per-request event loop. It is the only goroutine mutating
// the request after construction, which keeps mutation order equal to event
// delivery order.
func (e *Engine) dispatch(req *request) {
	for ev := range req.events {
		if ev.RequestID != "" && ev.RequestID != req.id {
			continue
		}
		e.countEvent(req, ev)
		if terminal := e.applyEvent(req, ev); terminal {
			return
		}
	}
	// Subscription closed without a terminal event (adapter shutdown).
	e.finalize(req, stateCancelled)
}

func (e *Engine) countEvent(req *request, ev models.StreamEvent) {
	if e.metrics != nil {
		e.metrics.EventCounter.WithLabelValues(string(req.provider), string(ev.Type)).Inc()
	}
}

// applyEvent folds one event into conversation state. Returns true when the
// request reached a terminal state.
func (e *Engine) applyEvent(req *request, ev models.StreamEvent) bool {
	switch ev.Type {
	case models.EventContentDelta:
		if ev.Content == nil || req.suppressed.Load() {
			return false
		}
		e.store.AppendContent(req.sessionID, req.targetID, ev.Content.Delta)

	case models.EventReasoningDelta:
		if ev.Reasoning == nil || req.suppressed.Load() {
			return false
		}
		if req.thoughtID == "" {
			thought := e.store.InsertAfter(req.sessionID, req.userMessageID, &models.Message{
				Role:     models.RoleAssistant,
				Kind:     models.KindThought,
				AnchorID: req.userMessageID,
			})
			if thought == nil {
				return false
			}
			req.thoughtID = thought.ID
		}
		e.store.AppendContent(req.sessionID, req.thoughtID, ev.Reasoning.Delta)

	case models.EventStatus:
		if ev.Status == nil {
			return false
		}
		return e.applyStatus(req, ev.Status.Status)

	case models.EventTool:
		if ev.Tool == nil || !ev.Tool.Kind.Known() || ev.Tool.CallID == "" {
			return false
		}
		e.applyToolEvent(req, ev.Tool)

	case models.EventPermission:
		if ev.Permission == nil || ev.Permission.CallID == "" {
			return false
		}
		e.applyPermissionEvent(req, ev.Permission)

	case models.EventDone:
		e.runActionDirective(req)
		e.finalize(req, stateCompleted)
		return true

	case models.EventError:
		message := "agent stream failed"
		if ev.Error != nil && ev.Error.Message != "" {
			message = ev.Error.Message
		}
		e.failRequest(req, message)
		return true
	}
	return false
}

// applyStatus folds a status string into session state. task_started
// re-affirms generation; stopped finalizes as cancelled; recognized session
// statuses update the session; everything else is adapter vocabulary drift
// and is ignored.
func (e *Engine) applyStatus(req *request, raw string) bool {
	switch raw {
	case "task_started":
		return false
	case "stopped":
		e.finalize(req, stateCancelled)
		return true
	}
	if status, ok := models.ParseSessionStatus(raw); ok {
		e.store.Update(req.sessionID, func(s *models.Session) {
			s.Status = status
		})
	}
	return false
}

// applyToolEvent implements the message-split discipline: the first event
// for a call id freezes the current assistant message, inserts an anchored
// tool message after it, and opens a fresh assistant message; later events
// for the same call id mutate the existing tool message.
func (e *Engine) applyToolEvent(req *request, tool *models.ToolEventPayload) {
	msgID, seen := req.anchors[tool.CallID]
	if !seen {
		msgID = e.splitForTool(req, tool.CallID, tool.Title)
		if msgID == "" {
			return
		}
	}

	if tool.Output != "" {
		e.appendToolLine(req.sessionID, msgID, tool.Output)
	}
	if tool.ExitCode != nil {
		e.appendToolLine(req.sessionID, msgID, fmt.Sprintf("exit: %d", *tool.ExitCode))
		if *tool.ExitCode != 0 {
			e.store.UpdateSummary(req.sessionID, msgID, "failed")
		}
	}
	if tool.Succeeded != nil {
		summary := "applied"
		if !*tool.Succeeded {
			summary = "failed"
		}
		e.store.UpdateSummary(req.sessionID, msgID, summary)
	}
}

// splitForTool performs the message split and returns the new tool message
// id, registering it under callID.
func (e *Engine) splitForTool(req *request, callID, title string) string {
	anchorID := req.targetID
	toolMsg := e.store.InsertAfter(req.sessionID, anchorID, &models.Message{
		Role:     models.RoleTool,
		Kind:     models.KindTool,
		Content:  title,
		AnchorID: anchorID,
	})
	if toolMsg == nil {
		return ""
	}
	next := e.store.InsertAfter(req.sessionID, toolMsg.ID, &models.Message{
		Role: models.RoleAssistant,
		Kind: models.KindText,
	})
	if next != nil {
		req.targetID = next.ID
	}
	req.anchors[callID] = toolMsg.ID
	return toolMsg.ID
}

// appendToolLine grows a tool message body line by line.
func (e *Engine) appendToolLine(sessionID, messageID, line string) {
	e.store.UpdateContent(sessionID, messageID, func(prev string) string {
		if prev == "" {
			return line
		}
		return prev + "\n" + line
	})
}

// runActionDirective extracts a trailing OC_ACTION line from the finished
// assistant text and executes it; the command's outcome becomes a tool
// message. Runner failures are message content, never stream errors.
func (e *Engine) runActionDirective(req *request) {
	target := e.store.Message(req.sessionID, req.targetID)
	if target == nil {
		return
	}
	display, args, ok := extractActionDirective(target.Content)
	if !ok {
		return
	}

	e.store.UpdateContent(req.sessionID, req.targetID, func(string) string {
		return display
	})

	start := time.Now()
	result, err := e.runner.Run(context.Background(), args)
	if e.metrics != nil {
		e.metrics.CommandDuration.Observe(time.Since(start).Seconds())
	}

	var body string
	var summary string
	if err != nil {
		body = "command failed: " + err.Error()
		summary = "failed"
	} else {
		body = formatRunResult(result)
		summary = fmt.Sprintf("exit %d", result.ExitCode)
	}

	e.store.InsertAfter(req.sessionID, req.targetID, &models.Message{
		Role:     models.RoleTool,
		Kind:     models.KindTool,
		Content:  body,
		Summary:  summary,
		AnchorID: req.targetID,
	})
}

func formatRunResult(result exec.Result) string {
	body := result.Stdout
	if result.Stderr != "" {
		if body != "" {
			body += "\n"
		}
		body += result.Stderr
	}
	if body != "" {
		body += "\n"
	}
	return body + fmt.Sprintf("exit: %d", result.ExitCode)
}

// failRequest surfaces a provider failure in the conversation and finalizes
// the request as errored.
func (e *Engine) failRequest(req *request, message string) {
	e.store.AppendMessages(req.sessionID, &models.Message{
		Role:     models.RoleTool,
		Kind:     models.KindTool,
		Content:  message,
		Summary:  "error",
		AnchorID: req.targetID,
	})
	e.store.Update(req.sessionID, func(s *models.Session) {
		s.Status = models.StatusError
	})
	e.finalize(req, stateErrored)
}

// finalize moves the request to a terminal state exactly once, releases its
// subscription, and records metrics.
func (e *Engine) finalize(req *request, state requestState) {
	if !e.requests.release(req) {
		return
	}
	req.state = state
	req.adapter.Unsubscribe(req.id)
	if e.metrics != nil {
		e.metrics.ActiveRequests.WithLabelValues(string(req.provider)).Dec()
		e.metrics.RequestCounter.WithLabelValues(string(req.provider), outcomeLabel(state)).Inc()
	}
	close(req.done)
	e.logger.Debug("request finalized", "session", req.sessionID, "request", req.id, "state", state)
}

func outcomeLabel(state requestState) string {
	switch state {
	case stateCompleted:
		return "completed"
	case stateErrored:
		return "errored"
	default:
		return "cancelled"
	}
}
