package engine

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"speriment/internal/bank"
	"speriment/internal/definition"
	"speriment/internal/record"
	"speriment/internal/runif"
)

// dropdownThreshold is the option count above which a question renders as
// a dropdown.
const dropdownThreshold = 7

// PageKind distinguishes display-only pages from questions.
type PageKind uint8

const (
	Statement PageKind = iota
	Question
)

func (k PageKind) String() string {
	if k == Question {
		return "question"
	}
	return "statement"
}

// OptionKind is the widget a question's options render as.
type OptionKind uint8

const (
	NoOptions OptionKind = iota
	Radio
	Check
	Dropdown
	TextBox
)

func (k OptionKind) String() string {
	switch k {
	case Radio:
		return "radio"
	case Check:
		return "check"
	case Dropdown:
		return "dropdown"
	case TextBox:
		return "text"
	default:
		return "none"
	}
}

func optionKindFor(p definition.Page) OptionKind {
	switch n := len(p.Options); {
	case n == 0:
		return NoOptions
	case n > dropdownThreshold:
		return Dropdown
	case p.Freetext:
		return TextBox
	case p.IsExclusive():
		return Radio
	default:
		return Check
	}
}

// ResourceKind is the media family of a resource.
type ResourceKind string

const (
	ImageResource ResourceKind = "image"
	AudioResource ResourceKind = "audio"
	VideoResource ResourceKind = "video"
)

var resourceKinds = map[string]ResourceKind{
	"jpg": ImageResource, "jpeg": ImageResource, "png": ImageResource, "pdf": ImageResource, "gif": ImageResource,
	"mp3": AudioResource, "wav": AudioResource, "ogg": AudioResource,
	"mp4": VideoResource, "webm": VideoResource,
}

// Resource is a media reference shown with a page or option.
type Resource struct {
	Source    string
	Kind      ResourceKind
	MediaType string
}

func classify(src string) (Resource, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(src), "."))
	k, ok := resourceKinds[ext]
	if !ok {
		return Resource{}, fmt.Errorf("%w: unrecognized resource type %q", ErrDefinition, src)
	}
	mediaType := string(k) + "/" + ext
	if ext == "mp3" {
		mediaType = "audio/mpeg"
	}
	return Resource{Source: src, Kind: k, MediaType: mediaType}, nil
}

// page holds a page's definition and the values sampled for it. Sampled
// values are redrawn whenever the enclosing container is reset.
type page struct {
	def        definition.Page
	isFeedback bool

	text       string
	condition  string
	resources  []Resource
	tags       map[string]string
	options    []option
	optionKind OptionKind

	feedback       int
	optionFeedback map[string]int
}

func (p *page) kind() PageKind {
	if len(p.def.Options) == 0 {
		return Statement
	}
	return Question
}

type option struct {
	id        string
	text      string
	correct   *bool
	pattern   *regexp.Regexp
	tags      map[string]string
	resources []Resource
	runIf     runif.Predicate
}

// grade scores a response to this option. Text options with a pattern are
// correct when the typed text matches it.
func (o option) grade(response string) record.Grade {
	if o.pattern != nil {
		ok := o.pattern.MatchString(response)
		return record.GradeOf(&ok)
	}
	return record.GradeOf(o.correct)
}

func (t *tree) buildPage(def definition.Page, parent int) (int, error) {
	pred, err := gate("page "+def.ID, def.RunIf)
	if err != nil {
		return -1, err
	}
	p := &page{def: def, feedback: -1, optionFeedback: map[string]int{}}
	idx := t.add(&node{kind: kindPage, id: def.ID, parent: parent, runIf: pred, page: p})

	if def.Feedback != nil {
		if p.feedback, err = t.buildFeedback(def.Feedback.Page, def.ID, parent); err != nil {
			return -1, err
		}
	}
	for _, o := range def.Options {
		if o.Feedback == nil {
			continue
		}
		f, err := t.buildFeedback(o.Feedback.Page, def.ID+"_"+o.ID, parent)
		if err != nil {
			return -1, err
		}
		p.optionFeedback[o.ID] = f
	}
	if err := t.materializePage(idx); err != nil {
		return -1, err
	}
	return idx, nil
}

// buildFeedback creates a statement that is shown after its owner is
// answered. It is not part of any container's contents; advancing it
// continues from the owning item.
func (t *tree) buildFeedback(def definition.Page, owner string, item int) (int, error) {
	if def.ID == "" {
		def.ID = owner + "_feedback"
	}
	def.Options = nil
	def.Feedback = nil
	pred, err := gate("feedback "+def.ID, def.RunIf)
	if err != nil {
		return -1, err
	}
	p := &page{def: def, isFeedback: true, feedback: -1, optionFeedback: map[string]int{}}
	return t.add(&node{kind: kindPage, id: def.ID, parent: item, runIf: pred, page: p}), nil
}

// materializePage draws the page's sampled values, and those of its
// feedback statements.
func (t *tree) materializePage(idx int) error {
	n := t.nodes[idx]
	p := n.page
	sc := scope{t: t, idx: idx}
	wrap := func(err error) error { return fmt.Errorf("page %q: %w", n.id, err) }

	text, err := t.resolveText(sc, p.def.Text)
	if err != nil {
		return wrap(err)
	}
	condition := ""
	if p.def.Condition != nil {
		if condition, err = t.resolve(sc, *p.def.Condition); err != nil {
			return wrap(err)
		}
	}
	resources, err := t.resolveResources(sc, p.def.Resources)
	if err != nil {
		return wrap(err)
	}
	tags, err := t.resolveTags(sc, p.def.Tags)
	if err != nil {
		return wrap(err)
	}
	options := make([]option, 0, len(p.def.Options))
	for _, od := range p.def.Options {
		o, err := t.buildOption(sc, od)
		if err != nil {
			return wrap(err)
		}
		options = append(options, o)
	}

	p.text, p.condition, p.resources, p.tags, p.options = text, condition, resources, tags, options
	p.optionKind = optionKindFor(p.def)

	feedback := make([]int, 0, len(p.optionFeedback)+1)
	if p.feedback >= 0 {
		feedback = append(feedback, p.feedback)
	}
	for _, f := range p.optionFeedback {
		feedback = append(feedback, f)
	}
	// map order must not leak into the random stream
	sort.Ints(feedback)
	for _, f := range feedback {
		if err := t.materializePage(f); err != nil {
			return err
		}
	}
	return nil
}

func (t *tree) buildOption(sc bank.Scope, od definition.Option) (option, error) {
	text, err := t.resolveText(sc, od.Text)
	if err != nil {
		return option{}, fmt.Errorf("option %q: %w", od.ID, err)
	}
	pred, err := gate("option "+od.ID, od.RunIf)
	if err != nil {
		return option{}, err
	}
	o := option{id: od.ID, text: text, runIf: pred}
	if od.Correct != nil {
		switch {
		case od.Correct.Bool != nil:
			b := *od.Correct.Bool
			o.correct = &b
		case od.Correct.Pattern != "":
			re, err := regexp.Compile(od.Correct.Pattern)
			if err != nil {
				return option{}, fmt.Errorf("%w: option %q correct pattern: %w", ErrDefinition, od.ID, err)
			}
			o.pattern = re
		}
	}
	if o.tags, err = t.resolveTags(sc, od.Tags); err != nil {
		return option{}, fmt.Errorf("option %q: %w", od.ID, err)
	}
	if o.resources, err = t.resolveResources(sc, od.Resources); err != nil {
		return option{}, fmt.Errorf("option %q: %w", od.ID, err)
	}
	return o, nil
}

func (t *tree) resolve(sc bank.Scope, v definition.Value) (string, error) {
	if v.Sample == nil {
		return v.Literal, nil
	}
	s := v.Sample
	row, err := bank.Resolve(sc, bank.Request{
		SampleFrom:  s.SampleFrom,
		Variable:    s.Variable,
		NotVariable: s.NotVariable,
		Field:       s.Field,
	}, t.rng)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDefinition, err)
	}
	out, err := row.String()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDefinition, err)
	}
	return out, nil
}

func (t *tree) resolveText(sc bank.Scope, text definition.Text) (string, error) {
	parts := make([]string, 0, len(text))
	for _, v := range text {
		s, err := t.resolve(sc, v)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ""), nil
}

func (t *tree) resolveTags(sc bank.Scope, defs map[string]definition.Value) (map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tags := make(map[string]string, len(defs))
	for _, k := range keys {
		s, err := t.resolve(sc, defs[k])
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", k, err)
		}
		tags[k] = s
	}
	return tags, nil
}

func (t *tree) resolveResources(sc bank.Scope, defs []definition.Value) ([]Resource, error) {
	var out []Resource
	for _, v := range defs {
		src, err := t.resolve(sc, v)
		if err != nil {
			return nil, err
		}
		r, err := classify(src)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
