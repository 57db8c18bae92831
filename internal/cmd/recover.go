package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcastle/foreman/internal/models"
	"github.com/rcastle/foreman/internal/recovery"
)

// NewCheckpointCommand creates the checkpoint command group
func NewCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Create and inspect session checkpoints",
	}

	cmd.AddCommand(newCheckpointCreateCommand())
	cmd.AddCommand(newCheckpointListCommand())
	cmd.AddCommand(newCheckpointPreviewCommand())
	cmd.AddCommand(newCheckpointMilestoneCommand())

	return cmd
}

func newCheckpointCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <session-id>",
		Short: "Commit the session state tree as a restorable checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			label, _ := cmd.Flags().GetString("label")
			cp, err := a.handler.Checkpoint(cmd.Context(), args[0], label)
			if err != nil {
				return err
			}
			return a.print(cmd, cp, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "checkpoint %s created at %s\n", cp.ID, cp.CommitHash)
			})
		},
	}
	cmd.Flags().String("label", "manual", "Checkpoint label")
	return cmd
}

func newCheckpointListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <session-id>",
		Short: "List a session's checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			session, err := a.store.Load(args[0])
			if err != nil {
				return err
			}
			return a.print(cmd, session.Checkpoints, func() {
				if len(session.Checkpoints) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no checkpoints")
					return
				}
				for _, cp := range session.Checkpoints {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  %s\n",
						cp.ID, cp.CommitHash, cp.CreatedAt.Format("2006-01-02 15:04:05"), cp.Label)
				}
			})
		},
	}
}

func newCheckpointPreviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <session-id> <checkpoint-id>",
		Short: "Show what a rollback would restore, without restoring",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			cp, err := findCheckpoint(a, args[0], args[1])
			if err != nil {
				return err
			}
			paths, err := a.checkpoint.PreviewRollback(cmd.Context(), *cp)
			if err != nil {
				return err
			}
			return a.print(cmd, struct {
				CheckpointID string   `json:"checkpoint_id"`
				Paths        []string `json:"paths"`
			}{cp.ID, paths}, func() {
				if len(paths) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no differences")
					return
				}
				for _, p := range paths {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
			})
		},
	}
}

func newCheckpointMilestoneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "milestone <name>",
		Short: "Tag the current state as a named milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.checkpoint.TagMilestone(cmd.Context(), args[0])
		},
	}
}

// NewRollbackCommand creates the rollback command
func NewRollbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <session-id> [checkpoint-id]",
		Short: "Restore the state tree from a checkpoint or milestone",
		Long: `Restore the session state tree from a checkpoint.

Without a checkpoint id the latest checkpoint is used. By default only the
state directory is restored; pass --path to restore other tracked paths
selectively, or --milestone to restore a named milestone tag.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if milestone, _ := cmd.Flags().GetString("milestone"); milestone != "" {
				return a.checkpoint.RollbackToMilestone(cmd.Context(), milestone)
			}

			checkpointID := ""
			if len(args) == 2 {
				checkpointID = args[1]
			}
			cp, err := findCheckpoint(a, args[0], checkpointID)
			if err != nil {
				return err
			}
			patterns, _ := cmd.Flags().GetStringSlice("path")
			if err := a.checkpoint.RestoreCheckpoint(cmd.Context(), *cp, patterns); err != nil {
				return err
			}
			return a.print(cmd, struct {
				CheckpointID string `json:"checkpoint_id"`
				CommitHash   string `json:"commit_hash"`
			}{cp.ID, cp.CommitHash}, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "restored checkpoint %s (%s)\n", cp.ID, cp.CommitHash)
			})
		},
	}

	cmd.Flags().StringSlice("path", nil, "Restrict the restore to these path patterns")
	cmd.Flags().String("milestone", "", "Restore a named milestone instead of a checkpoint")

	return cmd
}

// findCheckpoint resolves a checkpoint id against the session document; an
// empty id selects the latest checkpoint.
func findCheckpoint(a *app, sessionID, checkpointID string) (*models.Checkpoint, error) {
	session, err := a.store.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if len(session.Checkpoints) == 0 {
		return nil, errors.New("session has no checkpoints")
	}
	if checkpointID == "" {
		latest := session.Checkpoints[len(session.Checkpoints)-1]
		return &latest, nil
	}
	for _, cp := range session.Checkpoints {
		if cp.ID == checkpointID {
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("checkpoint %s not found", checkpointID)
}

// NewRecoverCommand creates the recover command
func NewRecoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover <session-id>",
		Short: "Run error recovery for a session",
		Long: `Record a run-level error and apply the recovery protocol.

Each invocation consumes one retry from the session's budget. While retries
remain, the latest checkpoint is restored (unless --no-rollback), all
in-flight claims are cleared, and a cooldown is persisted; once the budget
is spent the session is terminally failed. Use --clear after a successful
resumption to restore the full budget.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if clear, _ := cmd.Flags().GetBool("clear"); clear {
				return a.handler.ClearRecovery(args[0])
			}

			reason, _ := cmd.Flags().GetString("error")
			if reason == "" {
				return errors.New("--error is required")
			}

			opts := recovery.Options{}
			if cmd.Flags().Changed("no-rollback") {
				noRollback, _ := cmd.Flags().GetBool("no-rollback")
				rollback := !noRollback
				opts.Rollback = &rollback
			}

			decision, err := a.handler.HandleError(cmd.Context(), args[0], errors.New(reason), opts)
			if err != nil {
				return err
			}
			return a.print(cmd, decision, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "error %d recorded: %s\n", decision.ErrorCount, decision.Action)
				if decision.RolledBack {
					fmt.Fprintf(out, "rolled back to checkpoint %s\n", decision.CheckpointID)
				}
				if decision.CooldownUntil != nil {
					fmt.Fprintf(out, "cooldown until %s\n", decision.CooldownUntil.Format("15:04:05"))
				}
				if !decision.CanRetry {
					fmt.Fprintln(out, "retry budget exhausted; session failed")
				}
			})
		},
	}

	cmd.Flags().String("error", "", "Description of the error being recovered from")
	cmd.Flags().Bool("no-rollback", false, "Skip restoring the latest checkpoint")
	cmd.Flags().Bool("clear", false, "Clear recovery state after a successful resumption")

	return cmd
}
