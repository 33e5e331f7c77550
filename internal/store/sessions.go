package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"speriment/internal/logging"
)

// SessionInfo describes one participant session.
type SessionInfo struct {
	ID          string
	Study       string
	Version     int
	Permutation int
	StartedAt   time.Time
	CompletedAt time.Time // zero while the session is running
}

// Completed reports whether the session's data was submitted.
func (i SessionInfo) Completed() bool { return !i.CompletedAt.IsZero() }

// NewSession registers a participant session and returns its id.
func (s *Store) NewSession(ctx context.Context, study string, version, permutation int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, study, version, permutation, started_at) VALUES (?, ?, ?, ?, ?)",
		id, study, version, permutation, formatTime(s.now()),
	)
	if err != nil {
		logging.StoreError("Failed to create session for study %s: %v", study, err)
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	logging.Store("Session %s started: study=%s version=%d permutation=%d", id, study, version, permutation)
	return id, nil
}

// Session loads one session.
func (s *Store) Session(ctx context.Context, id string) (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, study, version, permutation, started_at, completed_at FROM sessions WHERE id = ?", id)
	info, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return info, err
}

// Sessions lists the sessions of a study in start order. An empty study
// lists every session.
func (s *Store) Sessions(ctx context.Context, study string) ([]SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, study, version, permutation, started_at, completed_at FROM sessions
		 WHERE ? = '' OR study = ?
		 ORDER BY started_at, id`, study, study)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (SessionInfo, error) {
	var (
		info      SessionInfo
		started   sql.NullString
		completed sql.NullString
	)
	if err := sc.Scan(&info.ID, &info.Study, &info.Version, &info.Permutation, &started, &completed); err != nil {
		return SessionInfo{}, err
	}
	var err error
	if info.StartedAt, err = parseTime(started); err != nil {
		return SessionInfo{}, fmt.Errorf("bad started_at for session %s: %w", info.ID, err)
	}
	if info.CompletedAt, err = parseTime(completed); err != nil {
		return SessionInfo{}, fmt.Errorf("bad completed_at for session %s: %w", info.ID, err)
	}
	return info, nil
}
