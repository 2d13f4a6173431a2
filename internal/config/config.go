// Package config handles engine configuration and the per-provider model
// catalog.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// defaultAgentsMD seeds AGENTS.md in a fresh agent working directory.
const defaultAgentsMD = `# OpenContext Agent

You are the OpenContext dedicated coding agent.

Guidelines:
- Prefer using ` + "`oc`" + ` CLI commands to create/search/iterate OpenContext content.
- Avoid editing user files directly unless explicitly requested.
- When reading or writing files, ask for permission if required.
- Be concise, actionable, and follow OpenContext workflows.
`

// Config is the engine configuration.
type Config struct {
	// StateDir holds persisted sessions and the model catalog.
	// Defaults to ~/.opencontext.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	// AgentCwd is the working directory handed to agent processes and the
	// command runner. Defaults to StateDir.
	AgentCwd string `yaml:"agent_cwd" json:"agent_cwd"`

	// ContextWindow bounds how many trailing text messages feed the prompt.
	ContextWindow int `yaml:"context_window" json:"context_window"`

	// PersistDebounce is the quiet period before session snapshots are
	// written.
	PersistDebounce time.Duration `yaml:"persist_debounce" json:"persist_debounce"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// LoggingConfig configures the slog-backed logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		StateDir:        DefaultStateDir(),
		ContextWindow:   12,
		PersistDebounce: 500 * time.Millisecond,
		Logging:         LoggingConfig{Level: "info", Format: "text"},
	}
}

// Normalize fills empty fields with defaults.
func (c *Config) Normalize() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir()
	}
	if c.AgentCwd == "" {
		c.AgentCwd = c.StateDir
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = 12
	}
	if c.PersistDebounce <= 0 {
		c.PersistDebounce = 500 * time.Millisecond
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// DefaultStateDir returns ~/.opencontext, falling back to the current
// directory when the home dir is unknown.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opencontext"
	}
	return filepath.Join(home, ".opencontext")
}

// EnsureAgentDir creates the agent working directory and seeds AGENTS.md if
// missing. Returns the directory path.
func EnsureAgentDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	agentsPath := filepath.Join(dir, "AGENTS.md")
	if _, err := os.Stat(agentsPath); os.IsNotExist(err) {
		if err := os.WriteFile(agentsPath, []byte(defaultAgentsMD), 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}
