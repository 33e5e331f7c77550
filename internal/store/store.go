// Package store persists participant sessions, their trial rows and the
// assignment counters used to balance versions and permutations across
// participants. It is backed by a single SQLite file.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"speriment/internal/logging"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// timeLayout is how timestamps are written to TEXT columns. It is fixed
// width so that the text sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening store at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.StoreError("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("Store ready: %s", path)
	return s, nil
}

// ensureSchema creates the required tables.
func (s *Store) ensureSchema() error {
	sessions := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		study TEXT NOT NULL,
		version INTEGER NOT NULL,
		permutation INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_study ON sessions(study);
	`

	// partial = 1 marks rows journaled while the session was running;
	// they are replaced by the submitted rows on completion.
	trials := `
	CREATE TABLE IF NOT EXISTS trials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		partial INTEGER NOT NULL DEFAULT 0,
		page_id TEXT NOT NULL,
		page_text TEXT,
		condition TEXT,
		resources TEXT,
		block_ids TEXT,
		item_id TEXT,
		start_time TEXT,
		end_time TEXT,
		sequence INTEGER,
		iteration INTEGER,
		selected_id TEXT,
		selected_text TEXT,
		selected_position TEXT,
		option_order TEXT,
		correct TEXT,
		page_tags TEXT,
		item_tags TEXT,
		option_tags TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_trials_session ON trials(session_id, partial);
	`

	assignments := `
	CREATE TABLE IF NOT EXISTS assignments (
		study TEXT NOT NULL,
		version INTEGER NOT NULL,
		permutation INTEGER NOT NULL,
		assigned INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (study, version, permutation)
	);
	`

	for _, stmt := range []string{sessions, trials, assignments} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.StoreDebug("Closing store: %s", s.path)
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v sql.NullString) (time.Time, error) {
	if !v.Valid || v.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, v.String)
}
