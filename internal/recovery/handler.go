package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcastle/foreman/internal/config"
	"github.com/rcastle/foreman/internal/events"
	"github.com/rcastle/foreman/internal/logger"
	"github.com/rcastle/foreman/internal/models"
	"github.com/rcastle/foreman/internal/state"
)

// Action names the recovery decision outcome.
type Action string

const (
	// ActionRetry means the error was absorbed; work may resume once the
	// cooldown expires.
	ActionRetry Action = "retry"

	// ActionMaxRetriesExceeded means the error budget is spent and the run
	// is terminally failed.
	ActionMaxRetriesExceeded Action = "max_retries_exceeded"
)

// Decision is the outcome of one HandleError call.
type Decision struct {
	CanRetry      bool       `json:"can_retry"`
	Action        Action     `json:"action"`
	ErrorCount    int        `json:"error_count"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	RolledBack    bool       `json:"rolled_back"`
	CheckpointID  string     `json:"checkpoint_id,omitempty"`
}

// Options adjusts a single HandleError call.
type Options struct {
	// Rollback overrides the configured rollback-on-error default when set.
	Rollback *bool
}

// Handler implements the bounded-retry error protocol. All of its decision
// state lives in the persisted session document, so the retry budget and
// cooldown hold across process restarts.
type Handler struct {
	store        *state.Store
	checkpointer Checkpointer
	emitter      events.Emitter
	log          logger.Logger
	cfg          config.RecoveryConfig
	now          func() time.Time
}

// NewHandler creates a recovery handler. A nil checkpointer disables
// rollback; errors are still counted and cooldowns still apply.
func NewHandler(store *state.Store, checkpointer Checkpointer, emitter events.Emitter, log logger.Logger, cfg config.RecoveryConfig) *Handler {
	if emitter == nil {
		emitter = events.NoOpEmitter{}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Handler{
		store:        store,
		checkpointer: checkpointer,
		emitter:      emitter,
		log:          log,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Checkpoint commits the current session state tree and records the
// checkpoint in the session document.
func (h *Handler) Checkpoint(ctx context.Context, sessionID, label string) (*models.Checkpoint, error) {
	if h.checkpointer == nil {
		return nil, errors.New("no checkpointer configured")
	}
	cp, err := h.checkpointer.CreateCheckpoint(ctx, label)
	if err != nil {
		return nil, err
	}

	_, err = h.store.Update(sessionID, func(s *models.SessionState) error {
		s.Checkpoints = append(s.Checkpoints, *cp)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.emit(events.CheckpointCreated, sessionID, "", fmt.Sprintf("label=%s commit=%s", cp.Label, cp.CommitHash))
	return cp, nil
}

// HandleError records a run-level error and decides whether work may
// continue. Each call increments the persisted error count; when the count
// reaches MaxRetries the decision is terminal and the session lifecycle is
// marked completed. Otherwise the latest checkpoint is restored (when
// enabled and one exists), all in-flight claim state is cleared, and a
// cooldown is persisted. Errors are always recorded, even while a previous
// cooldown is running; the cooldown gates claims, not error recording. A
// missing checkpoint degrades the rollback, never fails the recovery.
func (h *Handler) HandleError(ctx context.Context, sessionID string, cause error, opts Options) (*Decision, error) {
	rollback := h.cfg.RollbackOnError
	if opts.Rollback != nil {
		rollback = *opts.Rollback
	}

	decision := &Decision{}
	var target *models.Checkpoint
	var carried *models.RecoveryState
	var checkpoints []models.Checkpoint
	var terminal bool

	_, err := h.store.Update(sessionID, func(s *models.SessionState) error {
		now := h.now()
		if s.Recovery == nil {
			s.Recovery = &models.RecoveryState{}
		}

		s.Recovery.ErrorCount++
		s.Recovery.LastError = cause.Error()
		decision.ErrorCount = s.Recovery.ErrorCount

		if s.Recovery.ErrorCount >= h.cfg.MaxRetries {
			decision.CanRetry = false
			decision.Action = ActionMaxRetriesExceeded
			s.Recovery.IsRecovering = false
			s.Recovery.CooldownUntil = nil
			s.Lifecycle = models.RunCompleted
			terminal = true
			return nil
		}

		h.clearInFlight(s)

		until := now.Add(h.cfg.Cooldown)
		s.Recovery.CooldownUntil = &until
		s.Recovery.IsRecovering = true

		decision.CanRetry = true
		decision.Action = ActionRetry
		decision.CooldownUntil = &until

		if rollback && len(s.Checkpoints) > 0 {
			latest := s.Checkpoints[len(s.Checkpoints)-1]
			target = &latest
			// The restore reverts the session document along with the rest
			// of the state tree, so the recovery record and checkpoint list
			// must be carried across it.
			rec := *s.Recovery
			carried = &rec
			checkpoints = append([]models.Checkpoint(nil), s.Checkpoints...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if terminal {
		h.emit(events.RunFailed, sessionID, "", fmt.Sprintf("errors=%d last=%s", decision.ErrorCount, cause.Error()))
		h.log.Errorf("session %s failed after %d errors: %v", sessionID, decision.ErrorCount, cause)
		return decision, nil
	}

	if target != nil && h.checkpointer != nil {
		if err := h.checkpointer.RestoreCheckpoint(ctx, *target, nil); err != nil {
			// In-flight state is already cleared and the cooldown is set,
			// so recovery proceeds without the restore.
			h.log.Warnf("rollback to checkpoint %s failed, continuing without restore: %v", target.ID, err)
		} else {
			// Re-apply the recovery record on top of the restored document:
			// the retry budget and cooldown must survive the rollback, and
			// any claims resurrected by the restore must be cleared again.
			_, err := h.store.Update(sessionID, func(s *models.SessionState) error {
				s.Recovery = carried
				s.Checkpoints = checkpoints
				s.Lifecycle = models.RunRunning
				h.clearInFlight(s)
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to reapply recovery state after rollback: %w", err)
			}
			decision.RolledBack = true
			decision.CheckpointID = target.ID
			h.emit(events.RollbackInitiated, sessionID, "", "checkpoint="+target.ID)
		}
	}

	h.log.Warnf("session %s recovering from error %d/%d: %v", sessionID, decision.ErrorCount, h.cfg.MaxRetries, cause)
	return decision, nil
}

// clearInFlight reverts every claimed or executing task to available and
// returns their workers to idle, releasing all file leases. Recovery must
// not strand a lease: a leaked entry would block its file forever.
func (h *Handler) clearInFlight(s *models.SessionState) {
	for _, task := range s.Tasks {
		if task.InFlight() {
			task.Status = models.TaskAvailable
			task.ClaimedBy = ""
			task.StartedAt = nil
		}
	}
	for _, worker := range s.Workers {
		if worker.IsActive() {
			worker.Status = models.WorkerIdle
			worker.CurrentTaskID = ""
		}
	}
	s.Ledger = make(map[string]string)
}

// ClearRecovery resets the persisted error state after a successful
// resumption, restoring the full retry budget.
func (h *Handler) ClearRecovery(sessionID string) error {
	_, err := h.store.Update(sessionID, func(s *models.SessionState) error {
		s.Recovery = nil
		return nil
	})
	return err
}

func (h *Handler) emit(eventType events.Type, sessionID, taskID, detail string) {
	err := h.emitter.Emit(events.Event{
		Type:      eventType,
		SessionID: sessionID,
		TaskID:    taskID,
		Detail:    detail,
		Timestamp: h.now(),
	})
	if err != nil {
		h.log.Warnf("failed to emit %s event: %v", eventType, err)
	}
}
