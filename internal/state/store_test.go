package state

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcastle/foreman/internal/models"
)

func newTestState(sessionID string) *models.SessionState {
	return &models.SessionState{
		SessionID: sessionID,
		PlanName:  "test-plan",
		Config:    models.SessionConfig{MaxWorkers: 5, WorkerTimeoutMs: 60000},
		Tasks: map[string]*models.Task{
			"1.1": {ID: "1.1", Name: "first", Wave: 1, Status: models.TaskAvailable},
		},
		Workers:   map[string]*models.Worker{},
		Ledger:    map[string]string{},
		Lifecycle: models.RunRunning,
	}
}

func TestCreateAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())

	created := newTestState("session-1")
	require.NoError(t, store.Create(created))
	assert.Equal(t, int64(1), created.Version)
	assert.False(t, created.CreatedAt.IsZero())

	loaded, err := store.Load("session-1")
	require.NoError(t, err)
	assert.Equal(t, "session-1", loaded.SessionID)
	assert.Equal(t, "test-plan", loaded.PlanName)
	assert.Equal(t, int64(1), loaded.Version)
	require.Contains(t, loaded.Tasks, "1.1")
	assert.Equal(t, models.TaskAvailable, loaded.Tasks["1.1"].Status)
}

func TestCreateOnNonexistentStateDir(t *testing.T) {
	// The state root and the session directory must both be created on
	// demand; the lock file lives inside the session directory, so Create
	// has to make the directory before it can take the lock.
	store := NewStore(filepath.Join(t.TempDir(), "nested", "state"))

	require.NoError(t, store.Create(newTestState("session-1")))

	loaded, err := store.Load("session-1")
	require.NoError(t, err)
	assert.Equal(t, "session-1", loaded.SessionID)
}

func TestLoadNotFound(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Load("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateExisting(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Create(newTestState("session-1")))
	err := store.Create(newTestState("session-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestUpdateAppliesMutationAndBumpsVersion(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Create(newTestState("session-1")))

	updated, err := store.Update("session-1", func(s *models.SessionState) error {
		s.Tasks["1.1"].Status = models.TaskCompleted
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	loaded, err := store.Load("session-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, loaded.Tasks["1.1"].Status)
	assert.Equal(t, int64(2), loaded.Version)
}

func TestUpdateErrorLeavesStateUntouched(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Create(newTestState("session-1")))

	_, err := store.Update("session-1", func(s *models.SessionState) error {
		s.Tasks["1.1"].Status = models.TaskFailed
		return assert.AnError
	})
	require.Error(t, err)

	loaded, err := store.Load("session-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskAvailable, loaded.Tasks["1.1"].Status, "failed update must not persist")
	assert.Equal(t, int64(1), loaded.Version)
}

func TestSaveRejectsStaleWriter(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Create(newTestState("session-1")))

	stale, err := store.Load("session-1")
	require.NoError(t, err)

	// Another writer moves the document on.
	_, err = store.Update("session-1", func(s *models.SessionState) error {
		s.Lifecycle = models.RunPaused
		return nil
	})
	require.NoError(t, err)

	stale.Lifecycle = models.RunCompleted
	err = store.Save(stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleState)

	loaded, err := store.Load("session-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunPaused, loaded.Lifecycle, "stale write must not win")
}

func TestDelete(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Create(newTestState("session-1")))

	require.NoError(t, store.Delete("session-1"))
	_, err := store.Load("session-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Deleting again is not an error.
	assert.NoError(t, store.Delete("session-1"))
}

func TestList(t *testing.T) {
	store := NewStore(t.TempDir())

	sessions, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, sessions)

	require.NoError(t, store.Create(newTestState("session-b")))
	require.NoError(t, store.Create(newTestState("session-a")))

	sessions, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"session-a", "session-b"}, sessions)
}

func TestConcurrentUpdatesAreLinearized(t *testing.T) {
	store := NewStore(t.TempDir())
	initial := newTestState("session-1")
	initial.Tasks = map[string]*models.Task{}
	require.NoError(t, store.Create(initial))

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			defer wg.Done()
			_, err := store.Update("session-1", func(s *models.SessionState) error {
				// Each update adds one worker record.
				id := fmt.Sprintf("worker-%d", n)
				s.Workers[id] = &models.Worker{ID: id, Status: models.WorkerIdle}
				return nil
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	loaded, err := store.Load("session-1")
	require.NoError(t, err)
	assert.Len(t, loaded.Workers, writers, "every update must survive")
	assert.Equal(t, int64(1+writers), loaded.Version)
}
