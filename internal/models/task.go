package models

import (
	"errors"
	"fmt"
	"time"
)

// TaskStatus tracks a task through the claim protocol lifecycle.
type TaskStatus string

const (
	// TaskPending means the task still has unresolved blockers.
	TaskPending TaskStatus = "pending"
	// TaskAvailable means every blocker is completed and the task can be claimed.
	TaskAvailable TaskStatus = "available"
	// TaskClaimed means a worker holds the task but has not started executing.
	TaskClaimed TaskStatus = "claimed"
	// TaskExecuting means a worker is actively executing the task.
	TaskExecuting TaskStatus = "executing"
	// TaskCompleted means the task finished successfully.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed means the task was reported failed by its worker.
	TaskFailed TaskStatus = "failed"
)

// TaskResult records the outcome a worker reports for a task.
type TaskResult struct {
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"execution_time_ms,omitempty"`
}

// Task represents a single unit of work in a coordination session.
type Task struct {
	ID     string `json:"id"`     // Stable, unique identifier
	Name   string `json:"name"`   // Human-readable name
	Action string `json:"action"` // Free-form action payload handed to the worker
	Wave   int    `json:"wave"`   // Dependency tier; wave 1 has no wave-implied blockers

	// DependsOn holds explicit predecessor ids from the plan input.
	// BlockedBy is the resolved blocking set: every task in earlier waves
	// plus the explicit predecessors.
	DependsOn []string `json:"depends_on,omitempty"`
	BlockedBy []string `json:"blocked_by,omitempty"`

	Files []string `json:"files,omitempty"` // Paths the task will modify

	Status      TaskStatus  `json:"status"`
	ClaimedBy   string      `json:"claimed_by,omitempty"` // Worker id, set only while claimed/executing
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Result      *TaskResult `json:"result,omitempty"`
}

// Validate checks that the task descriptor is well-formed.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("task %s: name is required", t.ID)
	}
	if t.Wave < 1 {
		return fmt.Errorf("task %s: wave must be >= 1, got %d", t.ID, t.Wave)
	}
	return nil
}

// InFlight returns true while a worker holds the task.
func (t *Task) InFlight() bool {
	return t.Status == TaskClaimed || t.Status == TaskExecuting
}

// IsTerminal returns true once the task can no longer change status.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}
