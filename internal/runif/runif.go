// Package runif implements the gating predicates that decide whether a
// block, item, page or option executes, based on earlier responses.
package runif

import (
	"fmt"
	"regexp"

	"speriment/internal/logging"
)

// History is the read side of the trial log a predicate may consult.
type History interface {
	ResponseGiven(pageID, optionID string) bool
	TextMatch(pageID string, pattern *regexp.Regexp) bool
	Permutation() int
}

// Predicate gates execution of one unit.
type Predicate interface {
	ShouldRun(h History) bool
	String() string
}

// Always runs unconditionally.
type Always struct{}

func (Always) ShouldRun(History) bool { return true }
func (Always) String() string         { return "always" }

// SelectedOption runs when OptionID was selected on the latest attempt at
// PageID.
type SelectedOption struct {
	PageID   string
	OptionID string
}

func (s SelectedOption) ShouldRun(h History) bool { return h.ResponseGiven(s.PageID, s.OptionID) }
func (s SelectedOption) String() string {
	return fmt.Sprintf("selected(%s, %s)", s.PageID, s.OptionID)
}

// TextMatches runs when the single free-text answer on the latest attempt
// at PageID matches Pattern.
type TextMatches struct {
	PageID  string
	Pattern *regexp.Regexp
}

func (m TextMatches) ShouldRun(h History) bool { return h.TextMatch(m.PageID, m.Pattern) }
func (m TextMatches) String() string {
	return fmt.Sprintf("matches(%s, /%s/)", m.PageID, m.Pattern)
}

// Permutation runs when the participant was assigned counterbalance
// permutation N. It ignores attempt history.
type Permutation struct {
	N int
}

func (p Permutation) ShouldRun(h History) bool { return h.Permutation() == p.N }
func (p Permutation) String() string           { return fmt.Sprintf("permutation(%d)", p.N) }

// Gate is the declarative form of a run-if as it appears in a definition.
type Gate struct {
	PageID      string
	OptionID    string
	Regex       string
	Permutation *int
}

// New builds the predicate a Gate describes. A nil Gate, or one matching no
// recognized shape, yields Always with a warning. An invalid regular
// expression is an error.
func New(s *Gate) (Predicate, error) {
	if s == nil {
		return Always{}, nil
	}
	switch {
	case s.Permutation != nil:
		return Permutation{N: *s.Permutation}, nil
	case s.PageID != "" && s.OptionID != "":
		return SelectedOption{PageID: s.PageID, OptionID: s.OptionID}, nil
	case s.PageID != "" && s.Regex != "":
		re, err := regexp.Compile(s.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid runIf regex %q: %w", s.Regex, err)
		}
		return TextMatches{PageID: s.PageID, Pattern: re}, nil
	default:
		logging.DefinitionWarn("runIf %+v matches no known shape, running unconditionally", *s)
		return Always{}, nil
	}
}
