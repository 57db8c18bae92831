package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcastle/foreman/internal/models"
)

func task(id string, wave int, deps ...string) *models.Task {
	return &models.Task{ID: id, Name: "task " + id, Wave: wave, DependsOn: deps}
}

func TestBuildBlockedByWaveRule(t *testing.T) {
	tasks := []*models.Task{
		task("1.1", 1),
		task("1.2", 1),
		task("2.1", 2),
		task("3.1", 3),
	}

	blockedBy, err := BuildBlockedBy(tasks)
	require.NoError(t, err)

	assert.Empty(t, blockedBy["1.1"])
	assert.Empty(t, blockedBy["1.2"])
	assert.Equal(t, []string{"1.1", "1.2"}, blockedBy["2.1"])
	assert.Equal(t, []string{"1.1", "1.2", "2.1"}, blockedBy["3.1"])
}

func TestBuildBlockedByWaveMonotonicity(t *testing.T) {
	tasks := []*models.Task{
		task("a", 1), task("b", 1), task("c", 2), task("d", 2), task("e", 3),
	}
	blockedBy, err := BuildBlockedBy(tasks)
	require.NoError(t, err)

	// Every task in an earlier wave appears in the blocking set.
	for _, tk := range tasks {
		for _, other := range tasks {
			if other.Wave < tk.Wave {
				assert.Contains(t, blockedBy[tk.ID], other.ID,
					"task %s (wave %d) must be blocked by %s (wave %d)", tk.ID, tk.Wave, other.ID, other.Wave)
			}
		}
	}
}

func TestBuildBlockedByExplicitDeps(t *testing.T) {
	tasks := []*models.Task{
		task("1.1", 1),
		task("1.2", 1, "1.1"),
	}

	blockedBy, err := BuildBlockedBy(tasks)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1"}, blockedBy["1.2"])
}

func TestBuildBlockedByDeduplicates(t *testing.T) {
	// Explicit dep on an earlier-wave task must not appear twice.
	tasks := []*models.Task{
		task("1.1", 1),
		task("2.1", 2, "1.1"),
	}

	blockedBy, err := BuildBlockedBy(tasks)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1"}, blockedBy["2.1"])
}

func TestBuildBlockedByValidation(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []*models.Task
		wantErr string
	}{
		{
			name:    "duplicate id",
			tasks:   []*models.Task{task("1.1", 1), task("1.1", 1)},
			wantErr: "duplicate task id",
		},
		{
			name:    "unknown dependency",
			tasks:   []*models.Task{task("1.1", 1, "ghost")},
			wantErr: "non-existent task",
		},
		{
			name:    "zero wave",
			tasks:   []*models.Task{task("1.1", 0)},
			wantErr: "wave must be >= 1",
		},
		{
			name:    "self dependency",
			tasks:   []*models.Task{task("1.1", 1, "1.1")},
			wantErr: "depends on itself",
		},
		{
			name: "cycle within a wave",
			tasks: []*models.Task{
				task("a", 1, "b"),
				task("b", 1, "a"),
			},
			wantErr: "dependency cycle",
		},
		{
			name: "cycle through a later wave",
			tasks: []*models.Task{
				task("a", 1, "b"),
				task("b", 2),
			},
			wantErr: "dependency cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildBlockedBy(tt.tasks)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRecomputeAvailabilityPromotesUnblocked(t *testing.T) {
	session := &models.SessionState{Tasks: map[string]*models.Task{
		"1": {ID: "1", Wave: 1, Status: models.TaskCompleted},
		"2": {ID: "2", Wave: 1, Status: models.TaskCompleted},
		"3": {ID: "3", Wave: 2, Status: models.TaskPending, BlockedBy: []string{"1", "2"}},
	}}

	promoted := RecomputeAvailability(session)
	assert.Equal(t, []string{"3"}, promoted)
	assert.Equal(t, models.TaskAvailable, session.Tasks["3"].Status)
}

func TestRecomputeAvailabilityPartialBlockersStayPending(t *testing.T) {
	// Scenario: waves [1,1,2]; completing only task 1 leaves task 3 pending,
	// completing task 2 as well promotes it.
	session := &models.SessionState{Tasks: map[string]*models.Task{
		"1": {ID: "1", Wave: 1, Status: models.TaskCompleted},
		"2": {ID: "2", Wave: 1, Status: models.TaskExecuting},
		"3": {ID: "3", Wave: 2, Status: models.TaskPending, BlockedBy: []string{"1", "2"}},
	}}

	promoted := RecomputeAvailability(session)
	assert.Empty(t, promoted)
	assert.Equal(t, models.TaskPending, session.Tasks["3"].Status)

	session.Tasks["2"].Status = models.TaskCompleted
	promoted = RecomputeAvailability(session)
	assert.Equal(t, []string{"3"}, promoted)
	assert.Equal(t, models.TaskAvailable, session.Tasks["3"].Status)
}

func TestRecomputeAvailabilityFailedBlockerNeverSatisfies(t *testing.T) {
	session := &models.SessionState{Tasks: map[string]*models.Task{
		"1": {ID: "1", Wave: 1, Status: models.TaskFailed},
		"2": {ID: "2", Wave: 2, Status: models.TaskPending, BlockedBy: []string{"1"}},
	}}

	promoted := RecomputeAvailability(session)
	assert.Empty(t, promoted)
	assert.Equal(t, models.TaskPending, session.Tasks["2"].Status)
}
