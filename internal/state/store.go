package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rcastle/foreman/internal/models"
)

var (
	// ErrSessionNotFound is returned when no state document exists for the
	// requested session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when creating a session that already has
	// a state document.
	ErrSessionExists = errors.New("session already exists")

	// ErrStaleState is returned when a save observes a newer document on
	// disk than the one the caller loaded. Last-write-wins is not allowed
	// for coordination state.
	ErrStaleState = errors.New("state document changed since load")
)

// DefaultLockTimeout bounds how long a coordination operation waits for the
// session lock before giving up.
const DefaultLockTimeout = 10 * time.Second

const stateFileName = "session.json"

// Store manages one state document per session under a dedicated state
// directory. All mutations go through Update, which serializes concurrent
// read-modify-write sequences from separate processes behind a flock.
type Store struct {
	dir         string
	lockTimeout time.Duration
}

// NewStore creates a Store rooted at dir. The directory is created on first
// write.
func NewStore(dir string) *Store {
	return &Store{
		dir:         dir,
		lockTimeout: DefaultLockTimeout,
	}
}

// SessionDir returns the directory holding one session's state document.
func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.dir, sessionID)
}

// StatePath returns the path of a session's state document.
func (s *Store) StatePath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), stateFileName)
}

func (s *Store) lockPath(sessionID string) string {
	return s.StatePath(sessionID) + ".lock"
}

// acquireLock takes the session's advisory lock, creating the session
// directory first so the lock file can be opened on a fresh store.
func (s *Store) acquireLock(sessionID string) (*FileLock, error) {
	if err := os.MkdirAll(s.SessionDir(sessionID), 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	lock := NewFileLock(s.lockPath(sessionID))
	if err := lock.LockWithTimeout(s.lockTimeout); err != nil {
		return nil, err
	}
	return lock, nil
}

// Load reads and decodes the state document for a session.
func (s *Store) Load(sessionID string) (*models.SessionState, error) {
	data, err := os.ReadFile(s.StatePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}

	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &state, nil
}

// Create persists a brand-new session document. Fails when the session
// already exists.
func (s *Store) Create(state *models.SessionState) error {
	lock, err := s.acquireLock(state.SessionID)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	if _, err := os.Stat(s.StatePath(state.SessionID)); err == nil {
		return fmt.Errorf("%w: %s", ErrSessionExists, state.SessionID)
	}

	now := time.Now()
	state.CreatedAt = now
	state.UpdatedAt = now
	state.Version = 1
	return s.write(state)
}

// Save replaces a session document. The caller must hold a state loaded from
// this store; Save refuses to clobber a document that moved on since that
// load (optimistic version check) and bumps the version on success.
func (s *Store) Save(state *models.SessionState) error {
	lock, err := s.acquireLock(state.SessionID)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	return s.saveLocked(state)
}

// Update is the linearization primitive for coordination operations: it
// holds the session lock across load, one logical mutation, and save. If fn
// or the save fails, the logical operation did not happen.
func (s *Store) Update(sessionID string, fn func(*models.SessionState) error) (*models.SessionState, error) {
	lock, err := s.acquireLock(sessionID)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	state, err := s.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	if err := s.saveLocked(state); err != nil {
		return nil, err
	}
	return state, nil
}

// saveLocked performs the version check and write. Callers must hold the
// session lock.
func (s *Store) saveLocked(state *models.SessionState) error {
	current, err := s.Load(state.SessionID)
	if err != nil {
		return err
	}
	if current.Version != state.Version {
		return fmt.Errorf("%w: loaded v%d, on disk v%d", ErrStaleState, state.Version, current.Version)
	}

	state.Version++
	state.UpdatedAt = time.Now()
	return s.write(state)
}

func (s *Store) write(state *models.SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", state.SessionID, err)
	}
	return AtomicWrite(s.StatePath(state.SessionID), data)
}

// Delete removes a session's state directory. Removing an absent session is
// not an error.
func (s *Store) Delete(sessionID string) error {
	if err := os.RemoveAll(s.SessionDir(sessionID)); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// List returns the ids of all sessions with a state document, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(s.StatePath(entry.Name())); err == nil {
			sessions = append(sessions, entry.Name())
		}
	}
	sort.Strings(sessions)
	return sessions, nil
}
