// Package engine builds the container tree of an experiment for one
// participant and drives it through the traversal protocol.
//
// A Session is single-threaded and event-driven: Start displays the first
// page, and each Advance records the current page and moves on until the
// next page is displayed or the experiment ends. Nothing in a Session is
// safe for concurrent use.
package engine

import (
	"fmt"
	"math/rand"
	"slices"
	"time"

	"speriment/internal/definition"
	"speriment/internal/logging"
	"speriment/internal/ordering"
	"speriment/internal/record"
)

// Renderer is the display port. Display is called once per page shown;
// Complete once after the records are submitted.
type Renderer interface {
	Display(view PageView)
	Complete()
}

// PageView is everything a renderer needs to show one page.
type PageView struct {
	ID          string
	Text        string
	Kind        PageKind
	OptionKind  OptionKind
	Options     []OptionView
	Resources   []Resource
	Exclusive   bool
	Feedback    bool
	Ready       bool
	CanContinue bool
	Selected    []string
	BlockIDs    []string
}

// OptionView is one offered option in display order.
type OptionView struct {
	ID        string
	Text      string
	Key       string
	Resources []Resource
	// Correct is the option's declared answer, for automated responders.
	Correct *bool
}

// Options configures a Session.
type Options struct {
	// Version selects the Latin-square rotation.
	Version int
	// Permutation selects the counterbalance ordering.
	Permutation int
	Rand        *rand.Rand
	Clock       func() time.Time
	Renderer    Renderer
	Sink        record.Sink
	Observers   []record.Observer
}

// Session is one participant's pass through an experiment.
type Session struct {
	tree     *tree
	record   *record.ExperimentRecord
	rng      *rand.Rand
	clock    func() time.Time
	renderer Renderer
	sink     record.Sink

	seq     int
	current *displayed
	started bool
	done    bool
}

// displayed is the state of the page currently on screen.
type displayed struct {
	idx      int
	trial    record.TrialRecord
	options  []option
	keys     []string
	selected []string
	texts    map[string]string
	ready    bool
}

type nopRenderer struct{}

func (nopRenderer) Display(PageView) {}
func (nopRenderer) Complete()        {}

// New builds the participant's tree. Definition problems surface here as
// ErrDefinition, or ErrImpossibleOrdering for unsatisfiable
// pseudorandomization.
func New(def *definition.Experiment, opts Options) (*Session, error) {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Renderer == nil {
		opts.Renderer = nopRenderer{}
	}

	t, err := build(def, opts.Version, opts.Permutation, opts.Rand)
	if err != nil {
		return nil, err
	}
	rec := record.New(opts.Permutation)
	for _, o := range opts.Observers {
		rec.Observe(o)
	}
	return &Session{
		tree:     t,
		record:   rec,
		rng:      opts.Rand,
		clock:    opts.Clock,
		renderer: opts.Renderer,
		sink:     opts.Sink,
	}, nil
}

// Record returns the participant's trial log.
func (s *Session) Record() *record.ExperimentRecord { return s.record }

// Done reports whether the experiment has ended.
func (s *Session) Done() bool { return s.done }

// Start displays the first page.
func (s *Session) Start() error {
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	logging.Session("session started: permutation=%d", s.record.Permutation())
	return s.run(rootIndex)
}

// Current returns the view of the page on screen.
func (s *Session) Current() (PageView, bool) {
	if s.current == nil {
		return PageView{}, false
	}
	return s.view(s.current), true
}

func (s *Session) display(idx int) error {
	n := s.tree.nodes[idx]
	p := n.page

	var offered []option
	for _, o := range p.options {
		if o.runIf.ShouldRun(s.record) {
			offered = append(offered, o)
		}
	}
	if len(offered) > 1 {
		if p.def.Ordered {
			if s.rng.Float64() < 0.5 {
				offered = ordering.Reverse(offered)
			}
		} else {
			offered = ordering.Shuffle(s.rng, offered)
		}
	}

	var keys []string
	if p.def.Keyboard != nil && len(p.def.Keyboard.Keys) > 0 {
		if len(p.def.Keyboard.Keys) == len(offered) {
			keys = p.def.Keyboard.Keys
		} else {
			logging.SessionWarn("page %q: %d keys for %d options, keyboard disabled", n.id, len(p.def.Keyboard.Keys), len(offered))
		}
	}

	resources := slices.Clone(p.resources)
	for _, o := range offered {
		resources = append(resources, o.resources...)
	}
	sources := make([]string, 0, len(resources))
	for _, r := range resources {
		sources = append(sources, r.Source)
	}
	order := make([]string, len(offered))
	for i, o := range offered {
		order[i] = o.id
	}

	item := s.tree.nodes[n.parent]
	d := &displayed{
		idx: idx,
		trial: record.TrialRecord{
			PageID:      n.id,
			PageText:    p.text,
			Condition:   p.condition,
			Resources:   sources,
			PageTags:    p.tags,
			BlockIDs:    s.tree.blockIDs(idx),
			ItemID:      item.id,
			ItemTags:    item.tags,
			StartTime:   s.clock(),
			Sequence:    s.seq,
			OptionOrder: order,
		},
		options: offered,
		keys:    keys,
		texts:   map[string]string{},
		ready:   len(resources) == 0,
	}
	s.seq++
	s.current = d

	logging.SessionDebug("display %s %q options=%v", p.kind(), n.id, order)
	s.renderer.Display(s.view(d))
	return nil
}

func (s *Session) view(d *displayed) PageView {
	n := s.tree.nodes[d.idx]
	p := n.page
	v := PageView{
		ID:          n.id,
		Text:        p.text,
		Kind:        p.kind(),
		OptionKind:  p.optionKind,
		Resources:   slices.Clone(p.resources),
		Exclusive:   p.def.IsExclusive(),
		Feedback:    p.isFeedback,
		Ready:       d.ready,
		CanContinue: s.canContinue(d),
		Selected:    slices.Clone(d.selected),
		BlockIDs:    slices.Clone(d.trial.BlockIDs),
	}
	for i, o := range d.options {
		ov := OptionView{ID: o.id, Text: o.text, Resources: o.resources, Correct: o.correct}
		if d.keys != nil {
			ov.Key = d.keys[i]
		}
		v.Options = append(v.Options, ov)
	}
	return v
}

func (s *Session) canContinue(d *displayed) bool {
	p := s.tree.nodes[d.idx].page
	if len(d.options) == 0 || p.optionKind == TextBox {
		return true
	}
	return len(d.selected) > 0
}

// Select replaces the selection on the current choice page. An empty call
// clears it and disables continuing.
func (s *Session) Select(optionIDs ...string) error {
	d, err := s.active()
	if err != nil {
		return err
	}
	n := s.tree.nodes[d.idx]
	p := n.page
	if p.optionKind == TextBox {
		return fmt.Errorf("%w: page %q takes text, not selections", ErrInvalidSelection, n.id)
	}

	var selected []string
	for _, id := range optionIDs {
		if !slices.ContainsFunc(d.options, func(o option) bool { return o.id == id }) {
			return fmt.Errorf("%w: option %q is not offered on page %q", ErrInvalidSelection, id, n.id)
		}
		if !slices.Contains(selected, id) {
			selected = append(selected, id)
		}
	}
	if p.def.IsExclusive() && len(selected) > 1 {
		return fmt.Errorf("%w: page %q accepts one answer", ErrInvalidSelection, n.id)
	}
	d.selected = selected
	return nil
}

// SetText stores the typed answer for a text option on the current page.
func (s *Session) SetText(optionID, text string) error {
	d, err := s.active()
	if err != nil {
		return err
	}
	n := s.tree.nodes[d.idx]
	if n.page.optionKind != TextBox {
		return fmt.Errorf("%w: page %q has no text options", ErrInvalidSelection, n.id)
	}
	if !slices.ContainsFunc(d.options, func(o option) bool { return o.id == optionID }) {
		return fmt.Errorf("%w: option %q is not offered on page %q", ErrInvalidSelection, optionID, n.id)
	}
	d.texts[optionID] = text
	return nil
}

// ResourcesReady opens the readiness gate of the current page.
func (s *Session) ResourcesReady() {
	if s.current != nil {
		s.current.ready = true
	}
}

func (s *Session) active() (*displayed, error) {
	if s.done {
		return nil, ErrSessionDone
	}
	if s.current == nil {
		return nil, ErrNoPage
	}
	return s.current, nil
}

// Advance records the current page and continues the traversal: to the
// selected option's feedback, the question's feedback, or the next page.
func (s *Session) Advance() error {
	d, err := s.active()
	if err != nil {
		return err
	}
	if !d.ready {
		return ErrNotReady
	}
	if !s.canContinue(d) {
		return ErrContinueDisabled
	}

	n := s.tree.nodes[d.idx]
	p := n.page
	tr := d.trial
	tr.EndTime = s.clock()
	for pos, o := range d.options {
		response := o.text
		if p.optionKind == TextBox {
			response = d.texts[o.id]
			if response == "" {
				continue
			}
		} else if !slices.Contains(d.selected, o.id) {
			continue
		}
		tr.SelectedID = append(tr.SelectedID, o.id)
		tr.SelectedText = append(tr.SelectedText, response)
		tr.SelectedPosition = append(tr.SelectedPosition, pos)
		tr.OptionTags = append(tr.OptionTags, o.tags)
		tr.Correct = append(tr.Correct, o.grade(response))
	}
	stored := s.record.AddRecord(tr)
	s.current = nil
	logging.SessionDebug("advance %q iteration=%d correct=%v", n.id, stored.Iteration, stored.CorrectValue())

	if fb := s.feedbackFor(p, tr.SelectedID); fb >= 0 {
		if s.tree.nodes[fb].runIf.ShouldRun(s.record) {
			return s.display(fb)
		}
	}
	return s.run(n.parent)
}

// feedbackFor picks the statement shown after a question: a selected
// option's feedback on single-answer questions, else the question's own.
func (s *Session) feedbackFor(p *page, selected []string) int {
	if p.def.IsExclusive() {
		for _, id := range selected {
			if f, ok := p.optionFeedback[id]; ok {
				return f
			}
		}
	}
	return p.feedback
}

func (s *Session) finish() error {
	s.done = true
	s.current = nil
	logging.Session("session complete: %d trial records", s.record.Len())
	if s.sink != nil {
		if err := s.record.Submit(s.sink); err != nil {
			return err
		}
	}
	s.renderer.Complete()
	return nil
}
