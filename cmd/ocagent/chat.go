// chat.go implements the interactive chat loop: engine wiring, the REPL,
// and incremental timeline rendering.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opencontext/ocagent/internal/config"
	"github.com/opencontext/ocagent/internal/engine"
	"github.com/opencontext/ocagent/internal/exec"
	"github.com/opencontext/ocagent/internal/observability"
	"github.com/opencontext/ocagent/internal/providers"
	"github.com/opencontext/ocagent/internal/sessions"
	"github.com/opencontext/ocagent/pkg/models"
)

// renderPoll is how often the REPL re-renders the streaming timeline.
const renderPoll = 150 * time.Millisecond

func runChat(ctx context.Context, configPath string, provider models.ProviderID, model string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	}).Slog()

	if _, err := config.EnsureAgentDir(cfg.AgentCwd); err != nil {
		return fmt.Errorf("prepare agent dir: %w", err)
	}

	catalog := config.NewCatalog(cfg.StateDir)
	if err := catalog.Load(); err != nil {
		logger.Warn("model catalog load failed", "error", err)
	}

	persister := sessions.NewFilePersister(cfg.StateDir)
	autosaver := sessions.NewAutosaver(persister, logger, cfg.PersistDebounce)
	defer autosaver.Close()

	store := sessions.NewStore(sessions.WithOnChange(autosaver.OnChange))
	autosaver.Bind(store)
	if snap, err := persister.Load(); err != nil {
		logger.Warn("session snapshot load failed", "error", err)
	} else if snap != nil {
		store.Restore(snap)
	}

	registry := providers.NewRegistry()
	registry.Register(providers.NewCodexAdapter(cfg.AgentCwd, logger))
	registry.Register(providers.NewClaudeAdapter(cfg.AgentCwd, logger))
	registry.Register(providers.NewOpenCodeAdapter(cfg.AgentCwd, logger))

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	eng := engine.New(store, registry, &exec.OCRunner{Dir: cfg.AgentCwd},
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithCatalog(catalog),
		engine.WithContextWindow(cfg.ContextWindow),
		engine.WithPermissionHandler(func(p engine.PendingPermission) {
			fmt.Printf("\n[permission] %s\n  approve: /approve %s\n  deny:    /deny %s\n> ", p.Summary, p.CallID, p.CallID)
		}),
	)
	defer eng.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := config.WatchCatalog(ctx, catalog, logger); err != nil && ctx.Err() == nil {
			logger.Warn("model catalog watch failed", "error", err)
		}
	}()

	sess := store.Create(sessions.CreateConfig{
		ProviderID: provider,
		Model:      model,
		AutoTitle:  true,
	})
	store.SetActive(sess.ID)

	fmt.Printf("Connecting to %s...\n", provider)
	if err := eng.Preflight(ctx, sess.ID); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	if current := store.Get(sess.ID); current != nil {
		fmt.Printf("Ready (%s, model %s). /help for commands.\n", current.Status, displayModel(current.Model))
	}

	repl(ctx, eng, store, sess.ID)

	eng.Stop(sess.ID)
	return nil
}

// repl reads user lines until EOF or context cancellation. Slash commands
// control the session; everything else is sent as a prompt.
func repl(ctx context.Context, eng *engine.Engine, store *sessions.Store, sessionID string) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "/"):
			if quit := runSlashCommand(eng, store, sessionID, line); quit {
				return
			}
		default:
			sendAndRender(ctx, eng, store, sessionID, line)
		}
		fmt.Print("> ")
	}
}

// runSlashCommand executes one /command line. Returns true to exit the REPL.
func runSlashCommand(eng *engine.Engine, store *sessions.Store, sessionID, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/stop":
		eng.Stop(sessionID)
		fmt.Println("Stopped.")

	case "/model":
		if len(fields) < 2 {
			sess := store.Get(sessionID)
			fmt.Printf("Current model: %s\n", displayModel(sess.Model))
			for _, m := range sess.AvailableModels {
				fmt.Printf("  %s\n", m)
			}
			break
		}
		if eng.Generating(sessionID) {
			fmt.Println("Cannot switch models while generating; /stop first.")
			break
		}
		store.Update(sessionID, func(s *models.Session) {
			s.Model = fields[1]
		})
		fmt.Printf("Model set to %s (applies from the next message).\n", fields[1])

	case "/approve", "/deny":
		if len(fields) < 2 {
			pending := eng.PendingPermissions(sessionID)
			if len(pending) == 0 {
				fmt.Println("No pending permissions.")
				break
			}
			for _, p := range pending {
				fmt.Printf("  %s  %s\n", p.CallID, p.Summary)
			}
			break
		}
		decision := providers.Decision{Approved: fields[0] == "/approve"}
		if err := eng.ResolvePermission(sessionID, fields[1], decision); err != nil {
			fmt.Println("Error:", err)
		}

	case "/help":
		fmt.Println(`Commands:
  /stop           cancel the current generation
  /model [name]   show or switch the session model
  /approve <id>   approve a pending permission
  /deny <id>      deny a pending permission
  /quit           exit`)

	default:
		fmt.Printf("Unknown command %s (try /help)\n", fields[0])
	}
	return false
}

// sendAndRender issues one prompt and re-renders the timeline until the
// generation finishes.
func sendAndRender(ctx context.Context, eng *engine.Engine, store *sessions.Store, sessionID, text string) {
	rendered := renderState{}
	rendered.skipExisting(store.Messages(sessionID))

	if _, err := eng.Send(ctx, sessionID, text); err != nil {
		fmt.Println("Error:", err)
		return
	}

	ticker := time.NewTicker(renderPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			eng.Stop(sessionID)
			rendered.render(store.Messages(sessionID))
			fmt.Println()
			return
		case <-ticker.C:
			rendered.render(store.Messages(sessionID))
			if !eng.Generating(sessionID) {
				rendered.render(store.Messages(sessionID))
				fmt.Println()
				return
			}
		}
	}
}

// renderState tracks how much of each message has been printed so streaming
// output appends instead of repeating.
type renderState struct {
	printed map[string]int
	lastID  string
}

func (r *renderState) skipExisting(msgs []*models.Message) {
	r.printed = map[string]int{}
	for _, m := range msgs {
		r.printed[m.ID] = len(m.Content)
	}
}

// render prints everything not yet shown, in timeline order. Message splits
// and mid-stream inserts restart the line with a role header.
func (r *renderState) render(msgs []*models.Message) {
	for _, m := range msgs {
		done, seen := r.printed[m.ID]
		if !seen && m.Role == models.RoleUser {
			// The user already typed this line.
			r.printed[m.ID] = len(m.Content)
			continue
		}
		if done >= len(m.Content) {
			continue
		}
		if r.lastID != m.ID {
			if r.lastID != "" {
				fmt.Println()
			}
			fmt.Printf("[%s] ", messageLabel(m))
			// Re-print from the start when the stream moved to another
			// message and back (tool output interleaving).
			done = 0
		}
		fmt.Print(m.Content[done:])
		r.printed[m.ID] = len(m.Content)
		r.lastID = m.ID
	}
}

func messageLabel(m *models.Message) string {
	switch m.Kind {
	case models.KindThought:
		return "thinking"
	case models.KindTool:
		return "tool"
	default:
		return string(m.Role)
	}
}

func displayModel(model string) string {
	if model == "" {
		return "(provider default)"
	}
	return model
}
