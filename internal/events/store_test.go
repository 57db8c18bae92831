package events

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEmitAndQuery(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Emit(Event{
		Type:      TaskClaimed,
		SessionID: "s1",
		TaskID:    "1.1",
		WorkerID:  "w1",
	}))
	require.NoError(t, store.Emit(Event{
		Type:      TaskCompleted,
		SessionID: "s1",
		TaskID:    "1.1",
		WorkerID:  "w1",
		Detail:    "duration_ms=1200",
	}))
	require.NoError(t, store.Emit(Event{
		Type:      TaskClaimed,
		SessionID: "s2",
		TaskID:    "2.1",
		WorkerID:  "w9",
	}))

	found, err := store.BySession("s1", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)

	assert.Equal(t, TaskClaimed, found[0].Type)
	assert.Equal(t, "1.1", found[0].TaskID)
	assert.Equal(t, "w1", found[0].WorkerID)
	assert.Equal(t, TaskCompleted, found[1].Type)
	assert.Equal(t, "duration_ms=1200", found[1].Detail)
	assert.False(t, found[0].Timestamp.IsZero())
}

func TestBySessionLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Emit(Event{Type: TaskUnblocked, SessionID: "s1"}))
	}

	found, err := store.BySession("s1", 3)
	require.NoError(t, err)
	assert.Len(t, found, 3)
}

func TestBySessionEmpty(t *testing.T) {
	store := newTestStore(t)

	found, err := store.BySession("missing", 0)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestCountByType(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Emit(Event{Type: TaskClaimed, SessionID: "s1"}))
	}
	require.NoError(t, store.Emit(Event{Type: RollbackInitiated, SessionID: "s1"}))
	require.NoError(t, store.Emit(Event{Type: TaskClaimed, SessionID: "other"}))

	counts, err := store.CountByType("s1")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[TaskClaimed])
	assert.Equal(t, 1, counts[RollbackInitiated])
	assert.NotContains(t, counts, TaskCompleted)
}

func TestEmitPreservesExplicitTimestamp(t *testing.T) {
	store := newTestStore(t)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Emit(Event{Type: RunStarted, SessionID: "s1", Timestamp: ts}))

	found, err := store.BySession("s1", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].Timestamp.Equal(ts))
}
