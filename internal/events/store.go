package events

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store is a sqlite-backed append-only event sink. Multiple worker
// processes write to it concurrently; WAL mode plus a busy timeout handle
// the contention.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the event database at dbPath.
// ":memory:" is supported for tests.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create event database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open event database: %w", err)
	}

	// busy_timeout must come first so the remaining pragmas wait on locks
	// held by concurrently initializing processes.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := execWithRetry(db, schemaSQL, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// execWithRetry executes a statement with exponential backoff on
// "database is locked" errors from concurrent initialization.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Emit appends one event. Implements Emitter.
func (s *Store) Emit(event Event) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO events (type, session_id, task_id, worker_id, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(event.Type), event.SessionID, event.TaskID, event.WorkerID, event.Detail, ts,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// BySession returns a session's events in emission order. limit <= 0 means
// no limit.
func (s *Store) BySession(sessionID string, limit int) ([]Event, error) {
	query := `SELECT id, type, session_id, task_id, worker_id, detail, created_at
	          FROM events WHERE session_id = ? ORDER BY id`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var eventType string
		if err := rows.Scan(&event.ID, &eventType, &event.SessionID, &event.TaskID,
			&event.WorkerID, &event.Detail, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Type = Type(eventType)
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountByType returns per-type event counts for a session, for diagnostics.
func (s *Store) CountByType(sessionID string) (map[Type]int, error) {
	rows, err := s.db.Query(
		`SELECT type, COUNT(*) FROM events WHERE session_id = ? GROUP BY type`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[Type]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Type(eventType)] = count
	}
	return counts, rows.Err()
}
