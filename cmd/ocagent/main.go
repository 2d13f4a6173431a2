// Package main provides the CLI entry point for the OpenContext agent
// engine.
//
// ocagent drives external coding-agent CLIs (Codex, Claude Code, OpenCode)
// through one normalized streaming session model.
//
// # Basic Usage
//
// Start an interactive chat against Codex:
//
//	ocagent chat --provider codex
//
// List the known models per provider:
//
//	ocagent models
//
// # Environment Variables
//
//   - OCAGENT_CONFIG: Path to configuration file (default: ~/.opencontext/ocagent.yaml)
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opencontext/ocagent/internal/config"
)

// Build information, injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ocagent",
		Short: "OpenContext agent engine",
		Long: `ocagent drives external coding-agent CLIs through one normalized
streaming session model.

Supported providers: codex (Codex CLI over MCP), claude (Claude Code over
ACP), opencode (OpenCode over ACP).`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildSessionsCmd(),
		buildModelsCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the OCAGENT_CONFIG override and the default
// location under the state dir.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("OCAGENT_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(config.DefaultStateDir(), "ocagent.yaml")
}
