package models

import (
	"sort"
	"time"
)

// Lifecycle is the top-level status of a coordination session.
type Lifecycle string

const (
	RunInitializing Lifecycle = "initializing"
	RunRunning      Lifecycle = "running"
	RunPaused       Lifecycle = "paused"
	RunCompleted    Lifecycle = "completed"
)

// SessionConfig is the configuration snapshot frozen into the session when
// the plan loads, so all coordinating processes see the same limits.
type SessionConfig struct {
	MaxWorkers      int   `json:"max_workers"`
	WorkerTimeoutMs int64 `json:"worker_timeout_ms"`
}

// WorkerTimeout returns the heartbeat timeout as a duration.
func (c SessionConfig) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutMs) * time.Millisecond
}

// RecoveryState is the persisted error-handling record. The cooldown is part
// of session state so a retry attempted before CooldownUntil is rejected even
// after a coordinator restart.
type RecoveryState struct {
	ErrorCount    int        `json:"error_count"`
	LastError     string     `json:"last_error,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	IsRecovering  bool       `json:"is_recovering"`
}

// InCooldown reports whether retries are still gated at the given instant.
func (r *RecoveryState) InCooldown(now time.Time) bool {
	if r == nil || r.CooldownUntil == nil {
		return false
	}
	return now.Before(*r.CooldownUntil)
}

// Checkpoint is an immutable reference to a restorable snapshot of the
// session state tree.
type Checkpoint struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	CommitHash string    `json:"commit_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionState is the complete persisted coordination state for one session.
// It is the sole source of truth shared by worker processes; every mutation
// is a full-document replace through the state store.
type SessionState struct {
	SessionID string        `json:"session_id"`
	PlanName  string        `json:"plan_name"`
	Config    SessionConfig `json:"config"`

	Tasks   map[string]*Task   `json:"tasks"`
	Workers map[string]*Worker `json:"workers"`

	// Ledger maps file path -> owning worker id. Absence means free.
	Ledger map[string]string `json:"ledger"`

	Lifecycle Lifecycle      `json:"lifecycle"`
	Recovery  *RecoveryState `json:"recovery,omitempty"`

	// Checkpoints records restorable snapshots in creation order; the last
	// entry is the rollback target when no explicit checkpoint is named.
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`

	// Version increments on every save; a writer holding an older version
	// than the document on disk must not persist.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStats aggregates task and worker counts for progress queries.
type RunStats struct {
	Total         int `json:"total"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	InProgress    int `json:"in_progress"`
	Available     int `json:"available"`
	Blocked       int `json:"blocked"`
	ActiveWorkers int `json:"active_workers"`
}

// RunStatus is the progress-query result for a session.
type RunStatus struct {
	SessionID string    `json:"session_id"`
	Lifecycle Lifecycle `json:"lifecycle"`
	Stats     RunStats  `json:"stats"`
}

// Stats computes aggregate counts over the current task and worker sets.
func (s *SessionState) Stats() RunStats {
	stats := RunStats{Total: len(s.Tasks)}
	for _, task := range s.Tasks {
		switch task.Status {
		case TaskCompleted:
			stats.Completed++
		case TaskFailed:
			stats.Failed++
		case TaskClaimed, TaskExecuting:
			stats.InProgress++
		case TaskAvailable:
			stats.Available++
		case TaskPending:
			stats.Blocked++
		}
	}
	for _, worker := range s.Workers {
		if worker.IsActive() {
			stats.ActiveWorkers++
		}
	}
	return stats
}

// ExecutingWorkers counts workers currently in the executing state. This is
// the figure bounded by MaxWorkers.
func (s *SessionState) ExecutingWorkers() int {
	count := 0
	for _, worker := range s.Workers {
		if worker.Status == WorkerExecuting {
			count++
		}
	}
	return count
}

// RemainingWork reports whether any task could still execute. Failed tasks
// and their permanently blocked dependents do not count as remaining.
func (s *SessionState) RemainingWork() bool {
	memo := make(map[string]bool, len(s.Tasks))
	for _, task := range s.Tasks {
		switch task.Status {
		case TaskAvailable, TaskClaimed, TaskExecuting:
			return true
		case TaskPending:
			// A pending task whose blockers can still all complete is work.
			if !s.permanentlyBlocked(task, memo) {
				return true
			}
		}
	}
	return false
}

// permanentlyBlocked reports whether a pending task can never unblock
// because a blocker has failed, directly or anywhere up its blocker chain.
// The graph is acyclic (validated at session init), so the recursion
// terminates.
func (s *SessionState) permanentlyBlocked(task *Task, memo map[string]bool) bool {
	if blocked, ok := memo[task.ID]; ok {
		return blocked
	}
	blocked := false
	for _, id := range task.BlockedBy {
		blocker, ok := s.Tasks[id]
		if !ok {
			continue
		}
		if blocker.Status == TaskFailed ||
			(blocker.Status == TaskPending && s.permanentlyBlocked(blocker, memo)) {
			blocked = true
			break
		}
	}
	memo[task.ID] = blocked
	return blocked
}

// AvailableTasks returns claimable tasks in deterministic claim order:
// ascending wave, then id.
func (s *SessionState) AvailableTasks() []*Task {
	var available []*Task
	for _, task := range s.Tasks {
		if task.Status == TaskAvailable {
			available = append(available, task)
		}
	}
	sort.Slice(available, func(i, j int) bool {
		if available[i].Wave != available[j].Wave {
			return available[i].Wave < available[j].Wave
		}
		return available[i].ID < available[j].ID
	})
	return available
}
