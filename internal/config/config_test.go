package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ContextWindow != 12 {
		t.Fatalf("expected default context window 12, got %d", cfg.ContextWindow)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ocagent.yaml")
	body := "state_dir: /tmp/oc-state\ncontext_window: 6\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StateDir != "/tmp/oc-state" {
		t.Fatalf("state dir = %q", cfg.StateDir)
	}
	if cfg.ContextWindow != 6 {
		t.Fatalf("context window = %d", cfg.ContextWindow)
	}
	if cfg.AgentCwd != "/tmp/oc-state" {
		t.Fatalf("expected agent cwd to default to state dir, got %q", cfg.AgentCwd)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadJSON5WithEnvExpansion(t *testing.T) {
	t.Setenv("OC_TEST_STATE", "/tmp/from-env")
	path := filepath.Join(t.TempDir(), "ocagent.json5")
	body := `{
		// comments are fine in json5
		state_dir: "$OC_TEST_STATE",
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StateDir != "/tmp/from-env" {
		t.Fatalf("expected env expansion, got %q", cfg.StateDir)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()
	if cfg.PersistDebounce != 500*time.Millisecond {
		t.Fatalf("persist debounce = %v", cfg.PersistDebounce)
	}
	if cfg.StateDir == "" || cfg.AgentCwd == "" {
		t.Fatal("expected state dir and agent cwd to be filled")
	}
}

func TestEnsureAgentDirSeedsAgentsMD(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "agent")
	if _, err := EnsureAgentDir(dir); err != nil {
		t.Fatalf("EnsureAgentDir() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "AGENTS.md"))
	if err != nil {
		t.Fatalf("expected AGENTS.md to be seeded: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("AGENTS.md is empty")
	}

	// Existing file is left alone.
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := EnsureAgentDir(dir); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "AGENTS.md"))
	if string(data) != "custom" {
		t.Fatal("expected existing AGENTS.md to be preserved")
	}
}
