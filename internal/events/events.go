// Package events defines the structured events emitted for every
// state-changing coordination operation, and a sqlite-backed sink that
// external reporting layers can query.
package events

import "time"

// Type identifies what kind of state change an event records.
type Type string

const (
	TaskClaimed       Type = "task_claimed"
	TaskCompleted     Type = "task_completed"
	TaskFailed        Type = "task_failed"
	TaskUnblocked     Type = "task_unblocked"
	TaskReleased      Type = "task_released" // claim reverted by stale cleanup or recovery
	WorkerRegistered  Type = "worker_registered"
	WorkerTerminated  Type = "worker_terminated"
	CheckpointCreated Type = "checkpoint_created"
	RollbackInitiated Type = "rollback_initiated"
	RunStarted        Type = "run_started"
	RunCompleted      Type = "run_completed"
	RunFailed         Type = "run_failed"
)

// Event is one structured record of a state-changing operation.
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	TaskID    string    `json:"task_id,omitempty"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter receives events from coordination operations. Emission failures
// must not fail the operation that produced the event.
type Emitter interface {
	Emit(event Event) error
}

// NoOpEmitter discards all events. Useful for tests and when no sink is
// configured.
type NoOpEmitter struct{}

// Emit discards the event.
func (NoOpEmitter) Emit(Event) error { return nil }
