// Package record holds the append-only trial log of one participant
// session. It is the only read path for branching (run-if) and for
// training-loop grading, and it hands the finished log to an external sink.
package record

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Grade is the correctness of one selected answer.
type Grade int8

const (
	Ungraded Grade = iota
	Incorrect
	Correct
)

// GradeOf converts an optional boolean into a Grade.
func GradeOf(b *bool) Grade {
	switch {
	case b == nil:
		return Ungraded
	case *b:
		return Correct
	default:
		return Incorrect
	}
}

// Value returns nil, false or true.
func (g Grade) Value() any {
	switch g {
	case Correct:
		return true
	case Incorrect:
		return false
	default:
		return nil
	}
}

func (g Grade) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Value())
}

// TrialRecord is one attempt at one page. It is filled in while the page is
// displayed and never changed once EndTime is stamped and it has been added
// to an ExperimentRecord.
type TrialRecord struct {
	PageID    string            `json:"page_id"`
	PageText  string            `json:"page_text"`
	Condition string            `json:"condition,omitempty"`
	Resources []string          `json:"resources,omitempty"`
	PageTags  map[string]string `json:"page_tags,omitempty"`
	BlockIDs  []string          `json:"block_ids"`
	ItemID    string            `json:"item_id,omitempty"`
	ItemTags  map[string]string `json:"item_tags,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	// Sequence orders displays that share a start time.
	Sequence  int `json:"sequence"`
	Iteration int `json:"iteration"`

	SelectedID       []string            `json:"selected_id,omitempty"`
	SelectedText     []string            `json:"selected_text,omitempty"`
	SelectedPosition []int               `json:"selected_position,omitempty"`
	OptionOrder      []string            `json:"option_order,omitempty"`
	OptionTags       []map[string]string `json:"option_tags,omitempty"`
	Correct          []Grade             `json:"-"`
}

// CorrectValue renders correctness the way it is reported: nil when nothing
// was graded or selected, a single bool/nil for one selection, and a list
// when several options were selected.
func (t TrialRecord) CorrectValue() any {
	switch len(t.Correct) {
	case 0:
		return nil
	case 1:
		return t.Correct[0].Value()
	default:
		out := make([]any, len(t.Correct))
		for i, g := range t.Correct {
			out[i] = g.Value()
		}
		return out
	}
}

// InBlock reports whether blockID is on the record's container chain.
func (t TrialRecord) InBlock(blockID string) bool {
	return slices.Contains(t.BlockIDs, blockID)
}

func (t TrialRecord) clone() TrialRecord {
	c := t
	c.Resources = slices.Clone(t.Resources)
	c.BlockIDs = slices.Clone(t.BlockIDs)
	c.SelectedID = slices.Clone(t.SelectedID)
	c.SelectedText = slices.Clone(t.SelectedText)
	c.SelectedPosition = slices.Clone(t.SelectedPosition)
	c.OptionOrder = slices.Clone(t.OptionOrder)
	c.Correct = slices.Clone(t.Correct)
	c.PageTags = maps.Clone(t.PageTags)
	c.ItemTags = maps.Clone(t.ItemTags)
	if t.OptionTags != nil {
		c.OptionTags = make([]map[string]string, len(t.OptionTags))
		for i, tags := range t.OptionTags {
			c.OptionTags[i] = maps.Clone(tags)
		}
	}
	return c
}

// MarshalJSON adds the reported correctness value.
func (t TrialRecord) MarshalJSON() ([]byte, error) {
	type plain TrialRecord
	return json.Marshal(struct {
		plain
		Correct any `json:"correct"`
	}{plain(t), t.CorrectValue()})
}

func before(a, b TrialRecord) int {
	if c := a.StartTime.Compare(b.StartTime); c != 0 {
		return c
	}
	return a.Sequence - b.Sequence
}
