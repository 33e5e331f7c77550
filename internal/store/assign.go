package store

import (
	"context"
	"fmt"

	"speriment/internal/logging"
)

// Assignment is the Latin-square version and counterbalance permutation a
// participant is run under.
type Assignment struct {
	Version     int `json:"version"`
	Permutation int `json:"permutation"`
}

// NextAssignment reserves the (version, permutation) pair handed out least
// often for study, preferring lower versions and then lower permutations on
// ties. Versions range over [0, conditions) and permutations over
// [0, permutations); values below 1 count as 1.
func (s *Store) NextAssignment(ctx context.Context, study string, conditions, permutations int) (Assignment, error) {
	conditions = max(conditions, 1)
	permutations = max(permutations, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Assignment{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT version, permutation, assigned FROM assignments
		 WHERE study = ? AND version < ? AND permutation < ?`,
		study, conditions, permutations)
	if err != nil {
		return Assignment{}, fmt.Errorf("failed to query assignments: %w", err)
	}
	counts := make(map[Assignment]int)
	for rows.Next() {
		var a Assignment
		var n int
		if err := rows.Scan(&a.Version, &a.Permutation, &n); err != nil {
			rows.Close()
			return Assignment{}, fmt.Errorf("failed to scan assignment: %w", err)
		}
		counts[a] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Assignment{}, err
	}

	best, bestN := Assignment{}, -1
	for v := 0; v < conditions; v++ {
		for p := 0; p < permutations; p++ {
			a := Assignment{Version: v, Permutation: p}
			if n := counts[a]; bestN < 0 || n < bestN {
				best, bestN = a, n
			}
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO assignments (study, version, permutation, assigned) VALUES (?, ?, ?, 1)
		 ON CONFLICT (study, version, permutation) DO UPDATE SET assigned = assigned + 1`,
		study, best.Version, best.Permutation)
	if err != nil {
		return Assignment{}, fmt.Errorf("failed to record assignment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Assignment{}, fmt.Errorf("failed to commit assignment: %w", err)
	}

	logging.Store("Assigned study=%s version=%d permutation=%d (previously %d)", study, best.Version, best.Permutation, bestN)
	return best, nil
}

// AssignmentCounts returns how often each pair was handed out for study.
func (s *Store) AssignmentCounts(ctx context.Context, study string) (map[Assignment]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT version, permutation, assigned FROM assignments WHERE study = ?", study)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	counts := make(map[Assignment]int)
	for rows.Next() {
		var a Assignment
		var n int
		if err := rows.Scan(&a.Version, &a.Permutation, &n); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		counts[a] = n
	}
	return counts, rows.Err()
}
