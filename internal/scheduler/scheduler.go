// Package scheduler computes task blocking sets from wave annotations and
// explicit dependencies, and recomputes which tasks are claimable as
// blockers complete.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/rcastle/foreman/internal/models"
)

// BuildBlockedBy resolves the blocking set for every task: each task in wave
// N is blocked by every task in waves 1..N-1, plus its explicit DependsOn
// entries. The resolved sets are deduplicated and sorted. Rejects duplicate
// ids, unknown dependencies, and cyclic graphs.
func BuildBlockedBy(tasks []*models.Task) (map[string][]string, error) {
	if err := validateTasks(tasks); err != nil {
		return nil, err
	}

	blockedBy := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		seen := make(map[string]bool)
		var blockers []string

		for _, other := range tasks {
			if other.Wave < task.Wave && !seen[other.ID] {
				seen[other.ID] = true
				blockers = append(blockers, other.ID)
			}
		}
		for _, dep := range task.DependsOn {
			if dep == task.ID {
				return nil, fmt.Errorf("task %s depends on itself", task.ID)
			}
			if !seen[dep] {
				seen[dep] = true
				blockers = append(blockers, dep)
			}
		}

		sort.Strings(blockers)
		blockedBy[task.ID] = blockers
	}

	if hasCycle(blockedBy) {
		return nil, fmt.Errorf("dependency cycle detected")
	}

	return blockedBy, nil
}

// validateTasks checks descriptor well-formedness: non-empty unique ids,
// positive waves, and dependencies that exist.
func validateTasks(tasks []*models.Task) error {
	ids := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return err
		}
		if ids[task.ID] {
			return fmt.Errorf("task %s: duplicate task id", task.ID)
		}
		ids[task.ID] = true
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("task %s (%s): depends on non-existent task %s", task.ID, task.Name, dep)
			}
		}
	}
	return nil
}

// hasCycle runs DFS with color marking over the blocked-by graph.
// Wave-implied edges are strictly monotonic and cannot cycle on their own;
// explicit dependencies pointing into the same or a later wave can.
func hasCycle(blockedBy map[string][]string) bool {
	const (
		white = 0 // not visited
		gray  = 1 // visiting
		black = 2 // visited
	)

	colors := make(map[string]int, len(blockedBy))
	for id := range blockedBy {
		colors[id] = white
	}

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		for _, blocker := range blockedBy[node] {
			if colors[blocker] == gray {
				return true // back edge
			}
			if colors[blocker] == white && dfs(blocker) {
				return true
			}
		}
		colors[node] = black
		return false
	}

	for id := range blockedBy {
		if colors[id] == white {
			if dfs(id) {
				return true
			}
		}
	}
	return false
}

// RecomputeAvailability promotes every pending task whose blockers are all
// completed to available, and returns the promoted ids sorted. It runs in
// the same state transaction as the completion that triggered it, so
// dependents unblock without polling delay. Failed blockers never satisfy a
// dependency.
func RecomputeAvailability(session *models.SessionState) []string {
	var promoted []string
	for id, task := range session.Tasks {
		if task.Status != models.TaskPending {
			continue
		}
		if blockersResolved(session, task) {
			task.Status = models.TaskAvailable
			promoted = append(promoted, id)
		}
	}
	sort.Strings(promoted)
	return promoted
}

func blockersResolved(session *models.SessionState, task *models.Task) bool {
	for _, id := range task.BlockedBy {
		blocker, ok := session.Tasks[id]
		if !ok || blocker.Status != models.TaskCompleted {
			return false
		}
	}
	return true
}
