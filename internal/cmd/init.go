package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rcastle/foreman/internal/models"
	"github.com/rcastle/foreman/internal/plan"
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <plan-file>",
		Short: "Initialize a coordination session from a task plan",
		Long: `Initialize a new coordination session from a YAML task plan.

The plan's tasks are validated, the dependency graph is built (each wave is
blocked by all earlier waves, plus any explicit depends_on edges), and the
session document is written with wave-1 tasks already available to claim.

Examples:
  foreman init plan.yaml
  foreman init plan.yaml --session auth-refactor --max-workers 8`,
		Args: cobra.ExactArgs(1),
		RunE: runInit,
	}

	cmd.Flags().String("session", "", "Session id (default: derived from the plan name)")
	cmd.Flags().Int("max-workers", 0, "Maximum concurrently executing workers")
	cmd.Flags().Duration("worker-timeout", 0, "Heartbeat timeout before a worker is considered dead")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		sessionID = fmt.Sprintf("%s-%s", p.Name, uuid.NewString()[:8])
	}

	session, err := a.coordinator.InitSession(sessionID, p.Name, p.Models(), models.SessionConfig{
		MaxWorkers:      a.cfg.MaxWorkers,
		WorkerTimeoutMs: a.cfg.WorkerTimeout.Milliseconds(),
	})
	if err != nil {
		return err
	}

	out := struct {
		SessionID string `json:"session_id"`
		PlanName  string `json:"plan_name"`
		Tasks     int    `json:"tasks"`
		Available int    `json:"available"`
	}{
		SessionID: session.SessionID,
		PlanName:  session.PlanName,
		Tasks:     len(session.Tasks),
		Available: session.Stats().Available,
	}
	return a.print(cmd, out, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s initialized: %d tasks, %d available\n",
			out.SessionID, out.Tasks, out.Available)
	})
}
