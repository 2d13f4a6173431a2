// commands.go contains the cobra command definitions and their flag
// configurations. Each builder creates a command and wires it to its
// handler.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencontext/ocagent/internal/config"
	"github.com/opencontext/ocagent/internal/sessions"
	"github.com/opencontext/ocagent/pkg/models"
)

// buildChatCmd creates the "chat" command, the primary interactive loop.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		provider   string
		model      string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session against a provider",
		Long: `Start an interactive chat session.

The session engine spawns the provider's CLI process, runs its readiness
preflight, and then streams each reply into an ordered conversation.
Permission prompts raised by the agent are answered with /approve and
/deny. Generation is cancelled with /stop.`,
		Example: `  # Chat against Codex with the default model
  ocagent chat

  # Chat against Claude Code
  ocagent chat --provider claude

  # Pin a model
  ocagent chat --provider codex --model gpt-5-codex`,
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID, err := parseProvider(provider)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), resolveConfigPath(configPath), providerID, model, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&provider, "provider", "p", "codex", "Provider: codex, claude, or opencode")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model override for the session")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildSessionsCmd creates the "sessions" command listing persisted
// sessions.
func buildSessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			persister := sessions.NewFilePersister(cfg.StateDir)
			snap, err := persister.Load()
			if err != nil {
				return err
			}
			if snap == nil || len(snap.Sessions) == 0 {
				fmt.Println("No sessions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tMODEL\tMESSAGES\tUPDATED")
			for _, s := range snap.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Name, s.ProviderID, s.Model, len(s.Messages),
					s.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

// buildModelsCmd creates the "models" command printing the model catalog.
func buildModelsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List known models per provider",
		Long: `List the model catalog.

The catalog starts from built-in defaults and is refreshed with the model
lists providers advertise during preflight. It can also be hand-edited; the
running engine picks up file changes automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			catalog := config.NewCatalog(cfg.StateDir)
			if err := catalog.Load(); err != nil {
				return err
			}

			for _, provider := range []models.ProviderID{models.ProviderCodex, models.ProviderClaude, models.ProviderOpenCode} {
				list := catalog.Models(provider)
				fmt.Printf("%s:\n", provider)
				if len(list) == 0 {
					fmt.Println("  (populated after preflight)")
					continue
				}
				for _, m := range list {
					fmt.Printf("  %s\n", m)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func parseProvider(name string) (models.ProviderID, error) {
	switch models.ProviderID(name) {
	case models.ProviderCodex, models.ProviderClaude, models.ProviderOpenCode:
		return models.ProviderID(name), nil
	}
	return "", fmt.Errorf("unknown provider %q (expected codex, claude, or opencode)", name)
}
