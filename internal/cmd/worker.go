package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcastle/foreman/internal/coordinator"
	"github.com/rcastle/foreman/internal/models"
)

// NewRegisterCommand creates the register command
func NewRegisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register <session-id>",
		Short: "Register a worker process with a session",
		Long: `Register this process as a worker and print its assigned worker id.

The worker id must be passed to subsequent claim, complete, fail, and
heartbeat invocations. Registration fails once the session already holds
its configured maximum of live workers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			worker, err := a.coordinator.RegisterWorker(args[0])
			if err != nil {
				return err
			}
			return a.print(cmd, worker, func() {
				fmt.Fprintln(cmd.OutOrStdout(), worker.ID)
			})
		},
	}
}

// NewClaimCommand creates the claim command
func NewClaimCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <session-id> <worker-id>",
		Short: "Claim the next available task",
		Long: `Claim the next available task for a worker.

Tasks are offered in ascending (wave, id) order. The claim grants exclusive
ownership of every file the task declares; a task whose files are held by
another worker is skipped in favor of the next candidate.

Exit behavior distinguishes the two empty outcomes: "no tasks available"
means claimable work exists but is currently blocked or file-conflicted
(retry later), while "no tasks remaining" means the run is finished.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			assignment, err := a.coordinator.ClaimTask(args[0], args[1])
			if err != nil {
				if errors.Is(err, coordinator.ErrNoTasksAvailable) || errors.Is(err, coordinator.ErrRunComplete) {
					return a.print(cmd, struct {
						Claimed bool   `json:"claimed"`
						Reason  string `json:"reason"`
					}{false, err.Error()}, func() {
						fmt.Fprintln(cmd.OutOrStdout(), err.Error())
					})
				}
				return err
			}
			return a.print(cmd, assignment, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "claimed %s (wave %d): %s\n",
					assignment.Task.ID, assignment.Task.Wave, assignment.Task.Name)
				if len(assignment.Files) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "files: %s\n", strings.Join(assignment.Files, ", "))
				}
			})
		},
	}
}

// NewCompleteCommand creates the complete command
func NewCompleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <session-id> <worker-id> <task-id>",
		Short: "Report a claimed task as completed",
		Long: `Report successful completion of a claimed task.

File leases are released and any tasks whose blockers are now all complete
become available immediately.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			output, _ := cmd.Flags().GetString("output")
			durationMs, _ := cmd.Flags().GetInt64("duration-ms")

			err = a.coordinator.CompleteTask(args[0], args[1], args[2], models.TaskResult{
				Output:     output,
				DurationMs: durationMs,
			})
			if err != nil {
				return err
			}
			return a.print(cmd, struct {
				TaskID string `json:"task_id"`
				Status string `json:"status"`
			}{args[2], "completed"}, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "task %s completed\n", args[2])
			})
		},
	}

	cmd.Flags().String("output", "", "Task output to record with the result")
	cmd.Flags().Int64("duration-ms", 0, "Execution time in milliseconds")

	return cmd
}

// NewFailCommand creates the fail command
func NewFailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fail <session-id> <worker-id> <task-id>",
		Short: "Report a claimed task as failed",
		Long: `Report failure of a claimed task.

File leases are released, but tasks blocked by the failed task stay
blocked: work is never scheduled on top of a missing dependency.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			reason, _ := cmd.Flags().GetString("error")
			durationMs, _ := cmd.Flags().GetInt64("duration-ms")

			err = a.coordinator.FailTask(args[0], args[1], args[2], models.TaskResult{
				Error:      reason,
				DurationMs: durationMs,
			})
			if err != nil {
				return err
			}
			return a.print(cmd, struct {
				TaskID string `json:"task_id"`
				Status string `json:"status"`
			}{args[2], "failed"}, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "task %s failed\n", args[2])
			})
		},
	}

	cmd.Flags().String("error", "", "Failure description to record with the result")
	cmd.Flags().Int64("duration-ms", 0, "Execution time in milliseconds")

	return cmd
}

// NewHeartbeatCommand creates the heartbeat command
func NewHeartbeatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <session-id> <worker-id>",
		Short: "Refresh a worker's liveness timestamp",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.coordinator.Heartbeat(args[0], args[1])
		},
	}
}

// NewCleanupCommand creates the cleanup command
func NewCleanupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup <session-id>",
		Short: "Terminate stale workers and reclaim their tasks",
		Long: `Terminate workers whose last heartbeat is older than the timeout.

Each terminated worker's in-flight task reverts to available and its file
leases are released, so the work is reclaimable by healthy workers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			timeout, _ := cmd.Flags().GetDuration("timeout")
			terminated, err := a.coordinator.CleanupStale(args[0], timeout)
			if err != nil {
				return err
			}
			return a.print(cmd, struct {
				Terminated []string `json:"terminated"`
			}{terminated}, func() {
				if len(terminated) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no stale workers")
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "terminated %d stale worker(s): %s\n",
					len(terminated), strings.Join(terminated, ", "))
			})
		},
	}

	cmd.Flags().Duration("timeout", 0, "Staleness threshold (default: session worker timeout)")

	return cmd
}
