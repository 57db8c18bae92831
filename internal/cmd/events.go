package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// NewEventsCommand creates the events command
func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Show the recorded event stream for a session",
		Long: `Show the coordination events recorded for a session in order of
occurrence.

Events are written to the sqlite sink as a side effect of every
state-changing operation and are the primary diagnostic record of a run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if a.events == nil {
				return errors.New("event sink unavailable")
			}

			limit, _ := cmd.Flags().GetInt("limit")
			list, err := a.events.BySession(args[0], limit)
			if err != nil {
				return err
			}
			return a.print(cmd, list, func() {
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no events")
					return
				}
				for _, e := range list {
					line := fmt.Sprintf("%s  %-18s", e.Timestamp.Format("15:04:05"), e.Type)
					if e.TaskID != "" {
						line += "  task=" + e.TaskID
					}
					if e.WorkerID != "" {
						line += "  worker=" + e.WorkerID
					}
					if e.Detail != "" {
						line += "  " + e.Detail
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			})
		},
	}

	cmd.Flags().Int("limit", 50, "Maximum number of events to show")

	return cmd
}
