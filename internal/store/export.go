package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"speriment/internal/logging"
	"speriment/internal/record"
)

// ExportColumns are the fixed leading columns of an export; tag columns
// follow in sorted order.
var ExportColumns = []string{
	"session_id", "partial", "page_id", "page_text", "condition", "resources",
	"block_ids", "item_id", "start_time", "end_time", "sequence", "iteration",
	"selected_id", "selected_text", "selected_position", "option_order", "correct",
}

// Export writes stored trials as tab-separated values with a header row.
// List fields are joined with "|". An empty sessionID exports every
// session. It returns the number of trial rows written.
func (s *Store) Export(ctx context.Context, sessionID string, w io.Writer) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Export")
	defer timer.Stop()

	trials, err := s.Trials(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	rows := make([]record.Row, len(trials))
	for i, t := range trials {
		rows[i] = t.Row
	}
	tagColumns := record.TagColumns(rows)

	out := csv.NewWriter(w)
	out.Comma = '\t'
	if err := out.Write(append(append([]string{}, ExportColumns...), tagColumns...)); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	for _, t := range trials {
		tr := t.TrialRecord
		line := []string{
			t.SessionID,
			strconv.FormatBool(t.Partial),
			tr.PageID,
			tr.PageText,
			tr.Condition,
			strings.Join(tr.Resources, "|"),
			strings.Join(tr.BlockIDs, "|"),
			tr.ItemID,
			formatTime(tr.StartTime),
			formatTime(tr.EndTime),
			strconv.Itoa(tr.Sequence),
			strconv.Itoa(tr.Iteration),
			strings.Join(tr.SelectedID, "|"),
			strings.Join(tr.SelectedText, "|"),
			joinInts(tr.SelectedPosition),
			strings.Join(tr.OptionOrder, "|"),
			formatCorrect(tr.CorrectValue()),
		}
		for _, col := range tagColumns {
			line = append(line, t.Tags[col])
		}
		if err := out.Write(line); err != nil {
			return 0, fmt.Errorf("failed to write trial %s: %w", tr.PageID, err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush export: %w", err)
	}

	logging.Store("Exported %d trials (session=%q)", len(trials), sessionID)
	return len(trials), nil
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "|")
}

func formatCorrect(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(c)
	case []any:
		parts := make([]string, len(c))
		for i, e := range c {
			parts[i] = formatCorrect(e)
		}
		return strings.Join(parts, "|")
	default:
		return fmt.Sprint(c)
	}
}
