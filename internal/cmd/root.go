// Package cmd wires the coordination operations into the foreman CLI.
// Worker processes are plain subprocess invocations of these commands; all
// shared state lives in the on-disk session documents, never in a running
// coordinator process.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for foreman
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foreman",
		Short: "Local multi-process task coordination",
		Long: `Foreman coordinates concurrent worker processes executing a task plan
against a shared codebase.

Tasks are organized into dependency-ordered waves; workers pull work via
the claim protocol, which grants exclusive file ownership per task so two
workers never modify the same file concurrently. All coordination state is
a per-session document on disk, accessed safely from any number of
processes.

Configuration is loaded from .foreman/config.yaml if present.
CLI flags override configuration file settings.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .foreman/config.yaml)")
	cmd.PersistentFlags().String("state-dir", "", "Directory for session state documents")
	cmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().Bool("json", false, "Emit machine-readable JSON output")

	// Add subcommands
	cmd.AddCommand(NewInitCommand())
	cmd.AddCommand(NewRegisterCommand())
	cmd.AddCommand(NewClaimCommand())
	cmd.AddCommand(NewCompleteCommand())
	cmd.AddCommand(NewFailCommand())
	cmd.AddCommand(NewHeartbeatCommand())
	cmd.AddCommand(NewCleanupCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewPauseCommand())
	cmd.AddCommand(NewResumeCommand())
	cmd.AddCommand(NewCheckpointCommand())
	cmd.AddCommand(NewRollbackCommand())
	cmd.AddCommand(NewRecoverCommand())
	cmd.AddCommand(NewSessionsCommand())
	cmd.AddCommand(NewClearCommand())
	cmd.AddCommand(NewEventsCommand())

	return cmd
}
