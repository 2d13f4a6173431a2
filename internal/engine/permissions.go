package engine

import (
	"fmt"
	"sync"

	"github.com/opencontext/ocagent/internal/providers"
	"github.com/opencontext/ocagent/pkg/models"
)

// PendingPermission is one unresolved permission prompt.
type PendingPermission struct {
	SessionID string
	CallID    string
	Source    string
	Summary   string
	Options   []models.PermissionOption

	// MessageID is the tool message the prompt was split into.
	MessageID string
}

// permissionGate correlates provider permission requests with user
// decisions. De-duplication is two-layered: the in-flight request's handled
// set catches re-emits within a stream, and the per-session resolved set
// catches re-emits across requests. Resolved sets live for the session's
// lifetime and are evicted with it.
type permissionGate struct {
	mu       sync.Mutex
	pending  map[string]map[string]PendingPermission // session -> call id
	resolved map[string]map[string]bool              // session -> call id
}

func newPermissionGate() *permissionGate {
	return &permissionGate{
		pending:  map[string]map[string]PendingPermission{},
		resolved: map[string]map[string]bool{},
	}
}

// admit reports whether a permission call id is new for the session and, if
// so, records the pending prompt.
func (g *permissionGate) admit(p PendingPermission) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved[p.SessionID][p.CallID] {
		return false
	}
	if _, open := g.pending[p.SessionID][p.CallID]; open {
		return false
	}
	if g.pending[p.SessionID] == nil {
		g.pending[p.SessionID] = map[string]PendingPermission{}
	}
	g.pending[p.SessionID][p.CallID] = p
	return true
}

// update rewrites an admitted prompt (used to attach the tool message id
// once the split has happened).
func (g *permissionGate) update(p PendingPermission) {
	g.mu.Lock()
	if _, open := g.pending[p.SessionID][p.CallID]; open {
		g.pending[p.SessionID][p.CallID] = p
	}
	g.mu.Unlock()
}

// isResolved reports whether a decision was already acknowledged for the
// call id.
func (g *permissionGate) isResolved(sessionID, callID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolved[sessionID][callID]
}

// take claims a pending prompt for resolution, marking it resolved so no
// second acknowledgement can ever be sent for the call id.
func (g *permissionGate) take(sessionID, callID string) (PendingPermission, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, open := g.pending[sessionID][callID]
	if !open {
		return PendingPermission{}, false
	}
	delete(g.pending[sessionID], callID)
	if g.resolved[sessionID] == nil {
		g.resolved[sessionID] = map[string]bool{}
	}
	g.resolved[sessionID][callID] = true
	return p, true
}

// list returns the session's unresolved prompts.
func (g *permissionGate) list(sessionID string) []PendingPermission {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingPermission, 0, len(g.pending[sessionID]))
	for _, p := range g.pending[sessionID] {
		out = append(out, p)
	}
	return out
}

// evict drops all permission bookkeeping for a deleted session.
func (g *permissionGate) evict(sessionID string) {
	g.mu.Lock()
	delete(g.pending, sessionID)
	delete(g.resolved, sessionID)
	g.mu.Unlock()
}

// applyPermissionEvent handles a permission event from the stream: message
// split keyed by call id, prompt registration, and duplicate suppression.
func (e *Engine) applyPermissionEvent(req *request, perm *models.PermissionRequest) {
	if req.handled[perm.CallID] {
		return
	}
	req.handled[perm.CallID] = true

	summary := perm.Summary()
	pending := PendingPermission{
		SessionID: req.sessionID,
		CallID:    perm.CallID,
		Source:    perm.Source,
		Summary:   summary,
		Options:   perm.Options,
	}
	if !e.perms.admit(pending) {
		return
	}

	msgID, seen := req.anchors[perm.CallID]
	if !seen {
		msgID = e.splitForTool(req, perm.CallID, summary)
	}
	if msgID != "" {
		e.store.UpdateSummary(req.sessionID, msgID, "awaiting approval")
	}

	pending.MessageID = msgID
	e.perms.update(pending)

	if e.onPermission != nil {
		e.onPermission(pending)
	}
	e.logger.Info("permission requested", "session", req.sessionID, "call", perm.CallID, "summary", summary)
}

// PendingPermissions returns the session's unresolved permission prompts.
func (e *Engine) PendingPermissions(sessionID string) []PendingPermission {
	return e.perms.list(sessionID)
}

// ResolvePermission delivers the user's decision for a pending prompt.
// Exactly one acknowledgement is ever sent per call id; resolving an
// unknown or already-resolved call id is an error for unknown and a no-op
// for duplicates.
func (e *Engine) ResolvePermission(sessionID, callID string, decision providers.Decision) error {
	pending, open := e.perms.take(sessionID, callID)
	if !open {
		if e.perms.isResolved(sessionID, callID) {
			return nil
		}
		return fmt.Errorf("permission request not found: %s", callID)
	}

	sess := e.store.Get(sessionID)
	if sess == nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	adapter, err := e.registry.Get(sess.ProviderID)
	if err != nil {
		return err
	}

	summary := "denied"
	if decision.Approved {
		summary = "approved"
	}
	if pending.MessageID != "" {
		e.store.UpdateSummary(sessionID, pending.MessageID, summary)
	}

	if err := adapter.AcknowledgePermission(sessionID, callID, decision); err != nil {
		e.logger.Error("permission acknowledgement failed", "session", sessionID, "call", callID, "error", err)
		return err
	}
	e.logger.Info("permission resolved", "session", sessionID, "call", callID, "decision", summary)
	return nil
}
