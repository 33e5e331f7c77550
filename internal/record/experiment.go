package record

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"speriment/internal/logging"
)

// ErrSubmitted is returned when Submit is called a second time.
var ErrSubmitted = errors.New("records already submitted")

// Sink receives the finished trial log. It mirrors the hosting platform's
// data API: one call per trial, then a save, then a completion signal.
type Sink interface {
	RecordTrial(row Row) error
	Save() error
	Complete() error
}

// Observer is notified of every attempt as soon as it is appended.
type Observer interface {
	TrialAppended(tr TrialRecord)
}

// ExperimentRecord maps page ids to every attempt at that page, in attempt
// order. Queries only ever consult the latest attempt of a page.
type ExperimentRecord struct {
	trials      map[string][]TrialRecord
	permutation int
	observers   []Observer
	submitted   bool
}

// New creates an empty record for a participant assigned permutation.
func New(permutation int) *ExperimentRecord {
	return &ExperimentRecord{
		trials:      make(map[string][]TrialRecord),
		permutation: permutation,
	}
}

// Observe registers an observer for appended attempts.
func (e *ExperimentRecord) Observe(o Observer) {
	e.observers = append(e.observers, o)
}

// Permutation returns the participant's counterbalance permutation.
func (e *ExperimentRecord) Permutation() int { return e.permutation }

// AddRecord appends an attempt under its page id and numbers it: the first
// attempt at a page is iteration 1. The stored copy is returned.
func (e *ExperimentRecord) AddRecord(tr TrialRecord) TrialRecord {
	stored := tr.clone()
	stored.Iteration = len(e.trials[tr.PageID]) + 1
	e.trials[tr.PageID] = append(e.trials[tr.PageID], stored)

	logging.RecordDebug("recorded page=%s iteration=%d selected=%v", stored.PageID, stored.Iteration, stored.SelectedID)
	for _, o := range e.observers {
		o.TrialAppended(stored.clone())
	}
	return stored
}

// Attempts returns every attempt at a page, oldest first.
func (e *ExperimentRecord) Attempts(pageID string) []TrialRecord {
	out := make([]TrialRecord, 0, len(e.trials[pageID]))
	for _, tr := range e.trials[pageID] {
		out = append(out, tr.clone())
	}
	return out
}

// Latest returns the most recent attempt at a page.
func (e *ExperimentRecord) Latest(pageID string) (TrialRecord, bool) {
	attempts := e.trials[pageID]
	if len(attempts) == 0 {
		return TrialRecord{}, false
	}
	return attempts[len(attempts)-1].clone(), true
}

// ResponseGiven reports whether optionID was among the selections of the
// latest attempt at pageID. A page never attempted yields false.
func (e *ExperimentRecord) ResponseGiven(pageID, optionID string) bool {
	latest, ok := e.Latest(pageID)
	if !ok {
		return false
	}
	return slices.Contains(latest.SelectedID, optionID)
}

// TextMatch reports whether the latest attempt at pageID had exactly one
// response and its text matches pattern.
func (e *ExperimentRecord) TextMatch(pageID string, pattern *regexp.Regexp) bool {
	latest, ok := e.Latest(pageID)
	if !ok || len(latest.SelectedID) != 1 || len(latest.SelectedText) != 1 {
		return false
	}
	return pattern.MatchString(latest.SelectedText[0])
}

// BlockGrades returns the correctness of the latest attempt of every page
// under blockID, in start-time order, flattened across multi-select
// answers, with ungraded answers dropped.
func (e *ExperimentRecord) BlockGrades(blockID string) []bool {
	var latest []TrialRecord
	for _, attempts := range e.trials {
		tr := attempts[len(attempts)-1]
		if tr.InBlock(blockID) {
			latest = append(latest, tr)
		}
	}
	slices.SortFunc(latest, before)

	var grades []bool
	for _, tr := range latest {
		for _, g := range tr.Correct {
			if g != Ungraded {
				grades = append(grades, g == Correct)
			}
		}
	}
	return grades
}

// Len returns the total number of attempts.
func (e *ExperimentRecord) Len() int {
	n := 0
	for _, attempts := range e.trials {
		n += len(attempts)
	}
	return n
}

// Records returns every attempt across all pages in start-time order.
func (e *ExperimentRecord) Records() []TrialRecord {
	var all []TrialRecord
	for _, attempts := range e.trials {
		for _, tr := range attempts {
			all = append(all, tr.clone())
		}
	}
	slices.SortFunc(all, before)
	return all
}

// Submitted reports whether Submit has run.
func (e *ExperimentRecord) Submitted() bool { return e.submitted }

// Submit hands every attempt, oldest first, to sink and then signals save
// and completion. It can run only once per session.
func (e *ExperimentRecord) Submit(sink Sink) error {
	if e.submitted {
		return ErrSubmitted
	}
	e.submitted = true

	records := e.Records()
	logging.Record("submitting %d trial records", len(records))
	for _, tr := range records {
		if err := sink.RecordTrial(Flatten(tr)); err != nil {
			return fmt.Errorf("failed to record trial %s/%d: %w", tr.PageID, tr.Iteration, err)
		}
	}
	if err := sink.Save(); err != nil {
		return fmt.Errorf("failed to save trial data: %w", err)
	}
	if err := sink.Complete(); err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	return nil
}

// Row is a trial flattened for output: the record plus one column per tag.
type Row struct {
	TrialRecord
	Tags map[string]string
}

// Tag column prefixes.
const (
	PageTagPrefix   = "page_tag:"
	ItemTagPrefix   = "item_tag:"
	OptionTagPrefix = "option_tag:"
)

// Flatten turns a trial into a Row. Option tags of several selected
// options are joined with "|" in selection order.
func Flatten(tr TrialRecord) Row {
	tags := make(map[string]string)
	for k, v := range tr.PageTags {
		tags[PageTagPrefix+k] = v
	}
	for k, v := range tr.ItemTags {
		tags[ItemTagPrefix+k] = v
	}
	optionValues := make(map[string][]string)
	for _, ot := range tr.OptionTags {
		for k, v := range ot {
			optionValues[k] = append(optionValues[k], v)
		}
	}
	for k, vs := range optionValues {
		tags[OptionTagPrefix+k] = strings.Join(vs, "|")
	}
	return Row{TrialRecord: tr, Tags: tags}
}

// TagColumns returns the union of tag column names across rows, sorted.
func TagColumns(rows []Row) []string {
	set := make(map[string]struct{})
	for _, r := range rows {
		for k := range r.Tags {
			set[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for k := range set {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
