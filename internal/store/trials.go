package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"speriment/internal/logging"
	"speriment/internal/record"
)

const trialColumns = `page_id, page_text, condition, resources, block_ids, item_id,
	start_time, end_time, sequence, iteration,
	selected_id, selected_text, selected_position, option_order, correct,
	page_tags, item_tags, option_tags`

// StoredTrial is a trial row read back from the store.
type StoredTrial struct {
	SessionID string
	// Partial marks a row journaled during a session that never completed.
	Partial bool
	record.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTrial(ctx context.Context, ex execer, sessionID string, partial bool, tr record.TrialRecord) error {
	encoded := make([]any, 0, 10)
	for _, v := range []any{
		tr.Resources, tr.BlockIDs,
		tr.SelectedID, tr.SelectedText, tr.SelectedPosition, tr.OptionOrder, tr.Correct,
		tr.PageTags, tr.ItemTags, tr.OptionTags,
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode trial %s: %w", tr.PageID, err)
		}
		encoded = append(encoded, string(data))
	}

	_, err := ex.ExecContext(ctx,
		`INSERT INTO trials (session_id, partial, `+trialColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, partial,
		tr.PageID, tr.PageText, tr.Condition, encoded[0], encoded[1], tr.ItemID,
		formatTime(tr.StartTime), formatTime(tr.EndTime), tr.Sequence, tr.Iteration,
		encoded[2], encoded[3], encoded[4], encoded[5], encoded[6],
		encoded[7], encoded[8], encoded[9],
	)
	return err
}

// Sink writes a session's submitted trial log. Rows are buffered until
// Save, which writes them in one transaction.
type Sink struct {
	store     *Store
	sessionID string
	pending   []record.Row
}

// Sink returns the record sink for a session.
func (s *Store) Sink(sessionID string) *Sink {
	return &Sink{store: s, sessionID: sessionID}
}

// RecordTrial buffers one row.
func (k *Sink) RecordTrial(row record.Row) error {
	k.pending = append(k.pending, row)
	return nil
}

// Save writes the buffered rows.
func (k *Sink) Save() error {
	if len(k.pending) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "Sink.Save")
	defer timer.Stop()

	s := k.store
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, row := range k.pending {
		if err := insertTrial(ctx, tx, k.sessionID, false, row.TrialRecord); err != nil {
			logging.StoreError("Failed to save trial %s for session %s: %v", row.PageID, k.sessionID, err)
			return fmt.Errorf("failed to save trial %s: %w", row.PageID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trials: %w", err)
	}

	logging.Store("Saved %d trials for session %s", len(k.pending), k.sessionID)
	k.pending = nil
	return nil
}

// Complete drops the session's journal rows and marks it completed.
func (k *Sink) Complete() error {
	s := k.store
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM trials WHERE session_id = ? AND partial = 1", k.sessionID); err != nil {
		return fmt.Errorf("failed to clear journal: %w", err)
	}
	res, err := tx.ExecContext(ctx, "UPDATE sessions SET completed_at = ? WHERE id = ?", formatTime(s.now()), k.sessionID)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, k.sessionID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit completion: %w", err)
	}

	logging.Store("Session %s completed", k.sessionID)
	return nil
}

// Journal persists every attempt as it is appended so that a session that
// breaks off keeps its progress.
type Journal struct {
	store     *Store
	sessionID string

	mu  sync.Mutex
	err error
}

// Journal returns the progress journal for a session.
func (s *Store) Journal(sessionID string) *Journal {
	return &Journal{store: s, sessionID: sessionID}
}

// TrialAppended writes the attempt as a partial row. Failures are logged
// and kept for Err.
func (j *Journal) TrialAppended(tr record.TrialRecord) {
	s := j.store
	s.mu.Lock()
	err := insertTrial(context.Background(), s.db, j.sessionID, true, tr)
	s.mu.Unlock()

	if err != nil {
		logging.StoreError("Failed to journal trial %s for session %s: %v", tr.PageID, j.sessionID, err)
		j.mu.Lock()
		if j.err == nil {
			j.err = err
		}
		j.mu.Unlock()
		return
	}
	logging.StoreDebug("Journaled trial %s/%d for session %s", tr.PageID, tr.Iteration, j.sessionID)
}

// Err returns the first journaling failure.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Trials reads back stored trial rows in session start order, then write
// order. An empty sessionID reads every session.
func (s *Store) Trials(ctx context.Context, sessionID string) ([]StoredTrial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT t.session_id, t.partial, `+trialColumns+`
		 FROM trials t JOIN sessions s ON s.id = t.session_id
		 WHERE ? = '' OR t.session_id = ?
		 ORDER BY s.started_at, s.id, t.id`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trials: %w", err)
	}
	defer rows.Close()

	var out []StoredTrial
	for rows.Next() {
		st, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanTrial(sc scanner) (StoredTrial, error) {
	var (
		st               StoredTrial
		tr               record.TrialRecord
		text, cond, item sql.NullString
		start, end       sql.NullString
		encoded          [10]sql.NullString
	)
	err := sc.Scan(&st.SessionID, &st.Partial,
		&tr.PageID, &text, &cond, &encoded[0], &encoded[1], &item,
		&start, &end, &tr.Sequence, &tr.Iteration,
		&encoded[2], &encoded[3], &encoded[4], &encoded[5], &encoded[6],
		&encoded[7], &encoded[8], &encoded[9],
	)
	if err != nil {
		return StoredTrial{}, fmt.Errorf("failed to scan trial: %w", err)
	}
	tr.PageText, tr.Condition, tr.ItemID = text.String, cond.String, item.String
	if tr.StartTime, err = parseTime(start); err != nil {
		return StoredTrial{}, err
	}
	if tr.EndTime, err = parseTime(end); err != nil {
		return StoredTrial{}, err
	}

	var correct []*bool
	targets := []any{
		&tr.Resources, &tr.BlockIDs,
		&tr.SelectedID, &tr.SelectedText, &tr.SelectedPosition, &tr.OptionOrder, &correct,
		&tr.PageTags, &tr.ItemTags, &tr.OptionTags,
	}
	for i, target := range targets {
		if !encoded[i].Valid || encoded[i].String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(encoded[i].String), target); err != nil {
			return StoredTrial{}, fmt.Errorf("failed to decode trial %s: %w", tr.PageID, err)
		}
	}
	for _, c := range correct {
		tr.Correct = append(tr.Correct, record.GradeOf(c))
	}

	st.Row = record.Flatten(tr)
	return st, nil
}
