package store

import (
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"speriment/internal/record"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "speriment.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func trial(page string, start time.Time, seq int, grades ...record.Grade) record.TrialRecord {
	return record.TrialRecord{
		PageID:           page,
		PageText:         "text of " + page,
		Condition:        "c1",
		Resources:        []string{"cat.png"},
		PageTags:         map[string]string{"kind": "filler"},
		BlockIDs:         []string{"inner", "outer"},
		ItemID:           "item-" + page,
		ItemTags:         map[string]string{"set": "a"},
		StartTime:        start,
		EndTime:          start.Add(2 * time.Second),
		Sequence:         seq,
		SelectedID:       []string{"yes"},
		SelectedText:     []string{"Yes"},
		SelectedPosition: []int{1},
		OptionOrder:      []string{"no", "yes"},
		OptionTags:       []map[string]string{{"polarity": "pos"}},
		Correct:          grades,
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "s.db")
	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.NewSession(ctx, "priming", 1, 3)
	require.NoError(t, err)
	second, err := s.NewSession(ctx, "other", 0, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	info, err := s.Session(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "priming", info.Study)
	assert.Equal(t, 1, info.Version)
	assert.Equal(t, 3, info.Permutation)
	assert.False(t, info.StartedAt.IsZero())
	assert.False(t, info.Completed())

	_, err = s.Session(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	all, err := s.Sessions(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0].ID)

	only, err := s.Sessions(ctx, "other")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, second, only[0].ID)
}

func TestJournalThenSubmit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.NewSession(ctx, "priming", 0, 0)
	require.NoError(t, err)

	journal := s.Journal(id)
	rec := record.New(0)
	rec.Observe(journal)

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec.AddRecord(trial("p1", start, 1, record.Correct))
	rec.AddRecord(trial("p2", start.Add(time.Minute), 2, record.Incorrect, record.Ungraded))
	require.NoError(t, journal.Err())

	partial, err := s.Trials(ctx, id)
	require.NoError(t, err)
	require.Len(t, partial, 2)
	assert.True(t, partial[0].Partial)
	assert.Equal(t, "p1", partial[0].PageID)

	require.NoError(t, rec.Submit(s.Sink(id)))

	final, err := s.Trials(ctx, id)
	require.NoError(t, err)
	require.Len(t, final, 2)
	for _, tr := range final {
		assert.False(t, tr.Partial)
		assert.Equal(t, id, tr.SessionID)
	}

	got := final[1]
	assert.Equal(t, "p2", got.PageID)
	assert.Equal(t, "text of p2", got.PageText)
	assert.Equal(t, 1, got.Iteration)
	assert.Equal(t, 2, got.Sequence)
	assert.True(t, got.StartTime.Equal(start.Add(time.Minute)))
	assert.Equal(t, []string{"inner", "outer"}, got.BlockIDs)
	assert.Equal(t, []int{1}, got.SelectedPosition)
	assert.Equal(t, []record.Grade{record.Incorrect, record.Ungraded}, got.Correct)
	assert.Equal(t, "pos", got.Tags["option_tag:polarity"])
	assert.Equal(t, "filler", got.Tags["page_tag:kind"])

	info, err := s.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.Completed())
}

func TestSink_CompleteUnknownSession(t *testing.T) {
	s := openTestStore(t)
	assert.ErrorIs(t, s.Sink("nope").Complete(), ErrSessionNotFound)
}

func TestSink_SaveWithoutRows(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Sink("nope").Save())
}

func TestNextAssignment_RoundRobin(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var got []Assignment
	for i := 0; i < 5; i++ {
		a, err := s.NextAssignment(ctx, "priming", 2, 2)
		require.NoError(t, err)
		got = append(got, a)
	}
	assert.Equal(t, []Assignment{
		{0, 0}, {0, 1}, {1, 0}, {1, 1}, {0, 0},
	}, got)

	// other studies are counted separately
	a, err := s.NextAssignment(ctx, "other", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, Assignment{0, 0}, a)

	counts, err := s.AssignmentCounts(ctx, "priming")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[Assignment{0, 0}])
	assert.Equal(t, 1, counts[Assignment{1, 1}])
}

func TestNextAssignment_ShrunkSpaceAndDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.NextAssignment(ctx, "priming", 3, 1)
		require.NoError(t, err)
	}
	// pairs outside the smaller space are ignored
	a, err := s.NextAssignment(ctx, "priming", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, Assignment{0, 0}, a)

	a, err = s.NextAssignment(ctx, "bare", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, Assignment{0, 0}, a)
}

func TestExport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.NewSession(ctx, "priming", 0, 0)
	require.NoError(t, err)

	rec := record.New(0)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec.AddRecord(trial("p1", start, 1, record.Correct))
	multi := trial("p2", start.Add(time.Second), 2, record.Incorrect, record.Ungraded)
	multi.SelectedID = []string{"a", "b"}
	multi.OptionTags = []map[string]string{{"polarity": "pos"}, {"polarity": "neg"}}
	rec.AddRecord(multi)
	require.NoError(t, rec.Submit(s.Sink(id)))

	var buf strings.Builder
	n, err := s.Export(ctx, "", &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	r := csv.NewReader(strings.NewReader(buf.String()))
	r.Comma = '\t'
	lines, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 3)

	header := lines[0]
	assert.Equal(t, ExportColumns, header[:len(ExportColumns)])
	assert.Equal(t, []string{"item_tag:set", "option_tag:polarity", "page_tag:kind"}, header[len(ExportColumns):])

	col := func(line []string, name string) string {
		for i, h := range header {
			if h == name {
				return line[i]
			}
		}
		t.Fatalf("no column %s", name)
		return ""
	}
	assert.Equal(t, id, col(lines[1], "session_id"))
	assert.Equal(t, "true", col(lines[1], "correct"))
	assert.Equal(t, "inner|outer", col(lines[1], "block_ids"))
	assert.Equal(t, "false|", col(lines[2], "correct"))
	assert.Equal(t, "a|b", col(lines[2], "selected_id"))
	assert.Equal(t, "pos|neg", col(lines[2], "option_tag:polarity"))
	assert.Equal(t, "false", col(lines[2], "partial"))
}

func TestExport_UnknownSessionIsEmpty(t *testing.T) {
	s := openTestStore(t)
	var buf strings.Builder
	n, err := s.Export(context.Background(), "missing", &buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, strings.Join(ExportColumns, "\t")+"\n", buf.String())
}
