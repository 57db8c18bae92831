package models

import "time"

// WorkerStatus tracks an execution slot through its lifecycle.
type WorkerStatus string

const (
	WorkerIdle       WorkerStatus = "idle"
	WorkerClaiming   WorkerStatus = "claiming"
	WorkerExecuting  WorkerStatus = "executing"
	WorkerCompleted  WorkerStatus = "completed"
	WorkerFailed     WorkerStatus = "failed"
	WorkerTerminated WorkerStatus = "terminated"
)

// Worker is one execution slot: an independent process that pulls tasks
// through the claim protocol. Heartbeats are its only liveness signal.
type Worker struct {
	ID             string       `json:"id"`
	Status         WorkerStatus `json:"status"`
	CurrentTaskID  string       `json:"current_task_id,omitempty"`
	LastHeartbeat  time.Time    `json:"last_heartbeat"`
	RegisteredAt   time.Time    `json:"registered_at"`
	CompletedTasks []string     `json:"completed_tasks,omitempty"`
	FailedTasks    []string     `json:"failed_tasks,omitempty"`
}

// IsActive returns true while the worker occupies a concurrency slot.
func (w *Worker) IsActive() bool {
	return w.Status == WorkerClaiming || w.Status == WorkerExecuting
}

// IsStale reports whether the worker's last heartbeat is older than timeout.
func (w *Worker) IsStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > timeout
}
