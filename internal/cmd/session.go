package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show aggregate progress for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.coordinator.Status(args[0])
			if err != nil {
				return err
			}
			return a.print(cmd, status, func() {
				s := status.Stats
				fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s\n", status.SessionID, status.Lifecycle)
				fmt.Fprintf(cmd.OutOrStdout(), "  tasks: %d total, %d completed, %d failed, %d in progress, %d available, %d blocked\n",
					s.Total, s.Completed, s.Failed, s.InProgress, s.Available, s.Blocked)
				fmt.Fprintf(cmd.OutOrStdout(), "  active workers: %d\n", s.ActiveWorkers)
			})
		},
	}
}

// NewPauseCommand creates the pause command
func NewPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <session-id>",
		Short: "Pause a session (in-flight tasks finish, no new claims)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.coordinator.Pause(args[0])
		},
	}
}

// NewResumeCommand creates the resume command
func NewResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.coordinator.Resume(args[0])
		},
	}
}

// NewSessionsCommand creates the sessions command
func NewSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ids, err := a.store.List()
			if err != nil {
				return err
			}
			return a.print(cmd, struct {
				Sessions []string `json:"sessions"`
			}{ids}, func() {
				if len(ids) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
					return
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
			})
		},
	}
}

// NewClearCommand creates the clear command
func NewClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Delete a session's state",
		Long: `Delete a session's state directory. Clearing a session that does not
exist is not an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.store.Delete(args[0])
		},
	}
}
