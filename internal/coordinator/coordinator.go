// Package coordinator implements the pull-based claim protocol worker
// processes use to acquire, complete, and fail tasks against shared
// on-disk session state. Every operation is one linearized state
// transaction, so two workers' claims on the same task or file can never
// both be saved.
package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rcastle/foreman/internal/events"
	"github.com/rcastle/foreman/internal/logger"
	"github.com/rcastle/foreman/internal/models"
	"github.com/rcastle/foreman/internal/ownership"
	"github.com/rcastle/foreman/internal/scheduler"
	"github.com/rcastle/foreman/internal/state"
)

var (
	// ErrNoTasksAvailable means claimable work exists but every candidate
	// is blocked or file-conflicted right now. Callers should retry later
	// or against the next cleanup.
	ErrNoTasksAvailable = errors.New("no tasks available to claim")

	// ErrRunComplete means nothing remains to execute: every task is
	// terminal or permanently blocked behind a failure.
	ErrRunComplete = errors.New("no tasks remaining to execute")

	// ErrNotTaskOwner is returned when a worker reports on a task it does
	// not currently hold.
	ErrNotTaskOwner = errors.New("worker does not own this task")

	// ErrWorkerNotFound is returned for operations naming an unknown worker.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrTaskNotFound is returned for operations naming an unknown task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrMaxWorkersReached enforces the concurrency bound.
	ErrMaxWorkersReached = errors.New("maximum concurrent workers reached")

	// ErrSessionPaused rejects claims against a paused session.
	ErrSessionPaused = errors.New("session is paused")

	// ErrCooldownActive rejects claims while recovery cooldown is running.
	ErrCooldownActive = errors.New("recovery cooldown active")

	// ErrWorkerTerminated rejects operations from a worker that was cleaned
	// up as stale; the process should re-register.
	ErrWorkerTerminated = errors.New("worker has been terminated")

	// ErrWorkerBusy rejects a claim from a worker that still holds a task.
	// One task per worker: a second claim would orphan the first one's
	// CurrentTaskID link and strand it at cleanup.
	ErrWorkerBusy = errors.New("worker already holds a task")
)

// Assignment is what a successful claim returns: the task plus the file
// lease set granted with it.
type Assignment struct {
	Task  *models.Task `json:"task"`
	Files []string     `json:"files"`
}

// Coordinator runs the claim protocol over a state store and emits a
// structured event for every state-changing operation.
type Coordinator struct {
	store   *state.Store
	emitter events.Emitter
	log     logger.Logger
	now     func() time.Time
}

// New creates a Coordinator. A nil emitter or logger disables that output.
func New(store *state.Store, emitter events.Emitter, log logger.Logger) *Coordinator {
	if emitter == nil {
		emitter = events.NoOpEmitter{}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Coordinator{
		store:   store,
		emitter: emitter,
		log:     log,
		now:     time.Now,
	}
}

// emit sends one event; emission failures are logged, never propagated,
// because the state change has already been persisted.
func (c *Coordinator) emit(eventType events.Type, sessionID, taskID, workerID, detail string) {
	err := c.emitter.Emit(events.Event{
		Type:      eventType,
		SessionID: sessionID,
		TaskID:    taskID,
		WorkerID:  workerID,
		Detail:    detail,
		Timestamp: c.now(),
	})
	if err != nil {
		c.log.Warnf("failed to emit %s event: %v", eventType, err)
	}
}

// InitSession builds the task graph from the parsed plan and seeds a new
// session document. Tasks with no blockers start available; the rest start
// pending. A cyclic graph is rejected here, before anything is persisted.
func (c *Coordinator) InitSession(sessionID, planName string, tasks []*models.Task, cfg models.SessionConfig) (*models.SessionState, error) {
	blockedBy, err := scheduler.BuildBlockedBy(tasks)
	if err != nil {
		return nil, fmt.Errorf("invalid task graph: %w", err)
	}

	session := &models.SessionState{
		SessionID: sessionID,
		PlanName:  planName,
		Config:    cfg,
		Tasks:     make(map[string]*models.Task, len(tasks)),
		Workers:   make(map[string]*models.Worker),
		Ledger:    make(map[string]string),
		Lifecycle: models.RunRunning,
	}
	for _, task := range tasks {
		task.BlockedBy = blockedBy[task.ID]
		if len(task.BlockedBy) == 0 {
			task.Status = models.TaskAvailable
		} else {
			task.Status = models.TaskPending
		}
		session.Tasks[task.ID] = task
	}

	if err := c.store.Create(session); err != nil {
		return nil, err
	}

	c.emit(events.RunStarted, sessionID, "", "", fmt.Sprintf("plan=%s tasks=%d", planName, len(tasks)))
	c.log.Infof("session %s initialized with %d tasks from plan %s", sessionID, len(tasks), planName)
	return session, nil
}

// RegisterWorker adds a new execution slot and returns its generated id.
// Registration is refused while MaxWorkers workers are actively claiming
// or executing.
func (c *Coordinator) RegisterWorker(sessionID string) (*models.Worker, error) {
	worker := &models.Worker{
		ID:     uuid.NewString(),
		Status: models.WorkerIdle,
	}

	_, err := c.store.Update(sessionID, func(s *models.SessionState) error {
		// Idle workers are free slots; only workers actively claiming or
		// executing count against the pool bound.
		active := 0
		for _, w := range s.Workers {
			if w.IsActive() {
				active++
			}
		}
		if active >= s.Config.MaxWorkers {
			return fmt.Errorf("%w: %d active workers, limit %d", ErrMaxWorkersReached, active, s.Config.MaxWorkers)
		}

		now := c.now()
		worker.RegisteredAt = now
		worker.LastHeartbeat = now
		s.Workers[worker.ID] = worker
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.emit(events.WorkerRegistered, sessionID, "", worker.ID, "")
	return worker, nil
}

// ClaimTask scans available tasks in ascending (wave, id) order and grants
// the first one whose file leases can all be acquired. A file conflict on
// one candidate moves the scan to the next; conflicts are the expected path
// and are never treated as errors. Returns ErrNoTasksAvailable when work
// exists but nothing is claimable, and ErrRunComplete when nothing remains.
func (c *Coordinator) ClaimTask(sessionID, workerID string) (*Assignment, error) {
	var assignment *Assignment

	_, err := c.store.Update(sessionID, func(s *models.SessionState) error {
		worker, ok := s.Workers[workerID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
		}
		if worker.Status == models.WorkerTerminated {
			return fmt.Errorf("%w: %s", ErrWorkerTerminated, workerID)
		}
		if worker.Status != models.WorkerIdle {
			return fmt.Errorf("%w: %s is %s on task %q", ErrWorkerBusy, workerID, worker.Status, worker.CurrentTaskID)
		}

		now := c.now()
		switch {
		case s.Lifecycle == models.RunPaused:
			return ErrSessionPaused
		case s.Lifecycle == models.RunCompleted:
			return ErrRunComplete
		case s.Recovery.InCooldown(now):
			return fmt.Errorf("%w until %s", ErrCooldownActive, s.Recovery.CooldownUntil.Format(time.RFC3339))
		}

		if s.ExecutingWorkers() >= s.Config.MaxWorkers {
			return fmt.Errorf("%w: limit %d", ErrMaxWorkersReached, s.Config.MaxWorkers)
		}

		worker.Status = models.WorkerClaiming
		worker.LastHeartbeat = now

		candidates := s.AvailableTasks()
		if len(candidates) == 0 {
			worker.Status = models.WorkerIdle
			if !s.RemainingWork() {
				return ErrRunComplete
			}
			return ErrNoTasksAvailable
		}

		for _, task := range candidates {
			leased, err := ownership.Acquire(s.Ledger, workerID, task.Files)
			if err != nil {
				var conflict *ownership.ConflictError
				if errors.As(err, &conflict) {
					// Another worker holds one of this task's files; try
					// the next candidate.
					continue
				}
				return err
			}

			// Claimed and executing collapse into one transition here:
			// the claim transaction is also the execution start.
			task.Status = models.TaskExecuting
			task.ClaimedBy = workerID
			started := now
			task.StartedAt = &started

			worker.Status = models.WorkerExecuting
			worker.CurrentTaskID = task.ID

			assignment = &Assignment{Task: task, Files: leased}
			return nil
		}

		worker.Status = models.WorkerIdle
		return ErrNoTasksAvailable
	})
	if err != nil {
		return nil, err
	}

	c.emit(events.TaskClaimed, sessionID, assignment.Task.ID, workerID, "")
	c.log.Debugf("worker %s claimed task %s (%d files)", workerID, assignment.Task.ID, len(assignment.Files))
	return assignment, nil
}

// CompleteTask records a successful result, releases the task's file
// leases, and promotes any dependents whose blockers are now all complete —
// within the same transaction, so unblocking needs no polling delay. When
// no executable work remains the session lifecycle flips to completed.
func (c *Coordinator) CompleteTask(sessionID, workerID, taskID string, result models.TaskResult) error {
	var promoted []string
	var runDone bool

	_, err := c.store.Update(sessionID, func(s *models.SessionState) error {
		task, worker, err := c.inFlightTask(s, workerID, taskID)
		if err != nil {
			return err
		}

		now := c.now()
		result.Success = true
		task.Status = models.TaskCompleted
		task.Result = &result
		completed := now
		task.CompletedAt = &completed
		task.ClaimedBy = ""

		ownership.Release(s.Ledger, workerID, task.Files)
		promoted = scheduler.RecomputeAvailability(s)

		worker.CompletedTasks = append(worker.CompletedTasks, taskID)
		worker.CurrentTaskID = ""
		worker.Status = models.WorkerIdle
		worker.LastHeartbeat = now

		if !s.RemainingWork() {
			s.Lifecycle = models.RunCompleted
			runDone = true
			for _, w := range s.Workers {
				if w.Status == models.WorkerIdle {
					w.Status = models.WorkerCompleted
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.emit(events.TaskCompleted, sessionID, taskID, workerID, fmt.Sprintf("duration_ms=%d", result.DurationMs))
	for _, id := range promoted {
		c.emit(events.TaskUnblocked, sessionID, id, "", "")
	}
	if runDone {
		c.emit(events.RunCompleted, sessionID, "", "", "")
		c.log.Infof("session %s completed", sessionID)
	}
	return nil
}

// FailTask records a failure. Dependents of a failed task stay blocked:
// proceeding past a missing dependency would build on absent work, so the
// scheduler is deliberately not consulted here.
func (c *Coordinator) FailTask(sessionID, workerID, taskID string, result models.TaskResult) error {
	var runDone bool
	var failedCount int

	_, err := c.store.Update(sessionID, func(s *models.SessionState) error {
		task, worker, err := c.inFlightTask(s, workerID, taskID)
		if err != nil {
			return err
		}

		now := c.now()
		result.Success = false
		task.Status = models.TaskFailed
		task.Result = &result
		completed := now
		task.CompletedAt = &completed
		task.ClaimedBy = ""

		ownership.Release(s.Ledger, workerID, task.Files)

		worker.FailedTasks = append(worker.FailedTasks, taskID)
		worker.CurrentTaskID = ""
		worker.Status = models.WorkerIdle
		worker.LastHeartbeat = now

		if !s.RemainingWork() {
			s.Lifecycle = models.RunCompleted
			runDone = true
		}
		failedCount = s.Stats().Failed
		return nil
	})
	if err != nil {
		return err
	}

	c.emit(events.TaskFailed, sessionID, taskID, workerID, result.Error)
	c.log.Warnf("worker %s failed task %s: %s", workerID, taskID, result.Error)
	if runDone {
		c.emit(events.RunCompleted, sessionID, "", "", fmt.Sprintf("failed=%d", failedCount))
	}
	return nil
}

// inFlightTask validates that the worker currently holds the task.
func (c *Coordinator) inFlightTask(s *models.SessionState, workerID, taskID string) (*models.Task, *models.Worker, error) {
	worker, ok := s.Workers[workerID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}
	task, ok := s.Tasks[taskID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !task.InFlight() || task.ClaimedBy != workerID {
		return nil, nil, fmt.Errorf("%w: task %s is held by %q", ErrNotTaskOwner, taskID, task.ClaimedBy)
	}
	return task, worker, nil
}

// Heartbeat refreshes a worker's liveness signal. Heartbeats are the only
// liveness mechanism; a worker that stops sending them will be cleaned up.
func (c *Coordinator) Heartbeat(sessionID, workerID string) error {
	_, err := c.store.Update(sessionID, func(s *models.SessionState) error {
		worker, ok := s.Workers[workerID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
		}
		if worker.Status == models.WorkerTerminated {
			return fmt.Errorf("%w: %s", ErrWorkerTerminated, workerID)
		}
		worker.LastHeartbeat = c.now()
		return nil
	})
	return err
}

// CleanupStale terminates workers whose heartbeat is older than timeout,
// reverts their in-flight task to available (a crashed worker is a process
// failure, not a task failure), and releases their file leases. Returns the
// terminated worker ids. timeout <= 0 uses the session's configured value.
func (c *Coordinator) CleanupStale(sessionID string, timeout time.Duration) ([]string, error) {
	var terminated []string
	var released []string

	_, err := c.store.Update(sessionID, func(s *models.SessionState) error {
		if timeout <= 0 {
			timeout = s.Config.WorkerTimeout()
		}
		now := c.now()

		for id, worker := range s.Workers {
			switch worker.Status {
			case models.WorkerTerminated, models.WorkerCompleted, models.WorkerFailed:
				continue
			}
			if !worker.IsStale(now, timeout) {
				continue
			}

			if worker.CurrentTaskID != "" {
				if task, ok := s.Tasks[worker.CurrentTaskID]; ok && task.InFlight() {
					task.Status = models.TaskAvailable
					task.ClaimedBy = ""
					task.StartedAt = nil
					released = append(released, task.ID)
				}
			}
			ownership.ReleaseAll(s.Ledger, id)

			worker.Status = models.WorkerTerminated
			worker.CurrentTaskID = ""
			terminated = append(terminated, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range terminated {
		c.emit(events.WorkerTerminated, sessionID, "", id, "heartbeat timeout")
		c.log.Warnf("terminated stale worker %s", id)
	}
	for _, taskID := range released {
		c.emit(events.TaskReleased, sessionID, taskID, "", "stale worker cleanup")
	}
	return terminated, nil
}

// Status returns the aggregate progress counts for a session.
func (c *Coordinator) Status(sessionID string) (*models.RunStatus, error) {
	session, err := c.store.Load(sessionID)
	if err != nil {
		return nil, err
	}
	return &models.RunStatus{
		SessionID: sessionID,
		Lifecycle: session.Lifecycle,
		Stats:     session.Stats(),
	}, nil
}

// Pause stops new claims; in-flight tasks finish normally.
func (c *Coordinator) Pause(sessionID string) error {
	_, err := c.store.Update(sessionID, func(s *models.SessionState) error {
		if s.Lifecycle == models.RunCompleted {
			return ErrRunComplete
		}
		s.Lifecycle = models.RunPaused
		return nil
	})
	return err
}

// Resume re-enables claims on a paused session.
func (c *Coordinator) Resume(sessionID string) error {
	_, err := c.store.Update(sessionID, func(s *models.SessionState) error {
		if s.Lifecycle == models.RunCompleted {
			return ErrRunComplete
		}
		s.Lifecycle = models.RunRunning
		return nil
	})
	return err
}
