// Package ownership arbitrates exclusive file leases between workers. The
// ledger itself lives inside the persisted session state; these operations
// run inside a state transaction so two workers' claims on the same path
// can never both be saved.
package ownership

import (
	"fmt"
	"path/filepath"
	"sort"
)

// ConflictError reports the first path in an acquire request that is owned
// by a different worker.
type ConflictError struct {
	Path  string // Path that could not be leased
	Owner string // Worker currently holding it
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("file %s is owned by worker %s", e.Path, e.Owner)
}

// Acquire grants worker an exclusive lease on every path, all-or-nothing:
// if any path is owned by a different worker, paths granted earlier in the
// same request are rolled back and a *ConflictError is returned, so a
// worker never holds a partial, unusable lease. Re-acquiring a path the
// worker already owns is a no-op. Returns the cleaned path set granted.
func Acquire(ledger map[string]string, workerID string, paths []string) ([]string, error) {
	var granted []string
	for _, path := range paths {
		cleaned := filepath.Clean(path)
		owner, owned := ledger[cleaned]
		if owned {
			if owner == workerID {
				continue // already ours
			}
			// Roll back leases granted in this request before reporting.
			for _, p := range granted {
				delete(ledger, p)
			}
			return nil, &ConflictError{Path: cleaned, Owner: owner}
		}
		ledger[cleaned] = workerID
		granted = append(granted, cleaned)
	}

	leased := Owned(ledger, workerID)
	return leased, nil
}

// Release drops the worker's lease on each path. Releasing a free path, or
// one owned by another worker, is a no-op: release is unconditional and
// idempotent because it runs on completion, failure, and stale-worker
// cleanup alike.
func Release(ledger map[string]string, workerID string, paths []string) {
	for _, path := range paths {
		cleaned := filepath.Clean(path)
		if ledger[cleaned] == workerID {
			delete(ledger, cleaned)
		}
	}
}

// ReleaseAll drops every lease the worker holds.
func ReleaseAll(ledger map[string]string, workerID string) {
	for path, owner := range ledger {
		if owner == workerID {
			delete(ledger, path)
		}
	}
}

// Owner returns the worker holding the path, or ("", false) when it is free.
func Owner(ledger map[string]string, path string) (string, bool) {
	owner, ok := ledger[filepath.Clean(path)]
	return owner, ok
}

// Owned returns every path leased to the worker, sorted for deterministic
// output.
func Owned(ledger map[string]string, workerID string) []string {
	var paths []string
	for path, owner := range ledger {
		if owner == workerID {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}
