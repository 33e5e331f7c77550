// Package definition decodes experiment definitions. A definition is a
// nested description of blocks, items, pages, options, banks and their
// ordering and gating rules. Decoding is shape-only; building and ordering
// the tree is the engine's job.
package definition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"speriment/internal/runif"
)

// ErrDefinition marks a structurally invalid experiment definition.
var ErrDefinition = errors.New("invalid experiment definition")

// Experiment is the root of a definition.
type Experiment struct {
	Name           string               `json:"name,omitempty"`
	Blocks         []Block              `json:"blocks"`
	Exchangeable   []string             `json:"exchangeable,omitempty"`
	Counterbalance []string             `json:"counterbalance,omitempty"`
	Banks          map[string][]BankRow `json:"banks,omitempty"`
}

// Block is an outer block when Blocks is set and an inner block otherwise.
type Block struct {
	ID             string               `json:"id"`
	RunIf          *RunIf               `json:"runIf,omitempty"`
	Banks          map[string][]BankRow `json:"banks,omitempty"`
	Criterion      *float64             `json:"criterion,omitempty"`
	Cutoff         *int                 `json:"cutoff,omitempty"`
	Exchangeable   []string             `json:"exchangeable,omitempty"`
	Counterbalance []string             `json:"counterbalance,omitempty"`
	LatinSquare    bool                 `json:"latinSquare,omitempty"`
	Pseudorandom   bool                 `json:"pseudorandom,omitempty"`

	Blocks []Block   `json:"blocks,omitempty"`
	Pages  []Entry   `json:"pages,omitempty"`
	Groups [][]Entry `json:"groups,omitempty"`
	Items  []Entry   `json:"items,omitempty"`
}

// IsOuter reports whether the block holds other blocks.
func (b Block) IsOuter() bool { return len(b.Blocks) > 0 }

// Item groups pages that always travel together.
type Item struct {
	ID        string           `json:"id,omitempty"`
	Pages     []Page           `json:"pages"`
	Condition *Value           `json:"condition,omitempty"`
	Tags      map[string]Value `json:"tags,omitempty"`
	RunIf     *RunIf           `json:"runIf,omitempty"`
}

// Page is a statement when it has no options and a question otherwise.
type Page struct {
	ID        string           `json:"id"`
	Text      Text             `json:"text"`
	Condition *Value           `json:"condition,omitempty"`
	Resources []Value          `json:"resources,omitempty"`
	Tags      map[string]Value `json:"tags,omitempty"`
	Options   []Option         `json:"options,omitempty"`
	Feedback  *Feedback        `json:"feedback,omitempty"`
	Ordered   bool             `json:"ordered,omitempty"`
	Exclusive *bool            `json:"exclusive,omitempty"`
	Freetext  bool             `json:"freetext,omitempty"`
	Keyboard  *Keyboard        `json:"keyboard,omitempty"`
	RunIf     *RunIf           `json:"runIf,omitempty"`
}

// IsExclusive reports whether at most one option may be selected. Pages
// are exclusive unless they say otherwise.
func (p Page) IsExclusive() bool { return p.Exclusive == nil || *p.Exclusive }

// Option is one selectable answer.
type Option struct {
	ID        string           `json:"id"`
	Text      Text             `json:"text"`
	Feedback  *Feedback        `json:"feedback,omitempty"`
	Correct   *Correct         `json:"correct,omitempty"`
	Tags      map[string]Value `json:"tags,omitempty"`
	Resources []Value          `json:"resources,omitempty"`
	RunIf     *RunIf           `json:"runIf,omitempty"`
}

// RunIf is the declarative gate on a block, item, page or option.
type RunIf struct {
	PageID      string `json:"pageID,omitempty"`
	OptionID    string `json:"optionID,omitempty"`
	Regex       string `json:"regex,omitempty"`
	Permutation *int   `json:"permutation,omitempty"`
}

// Gate converts r into the predicate description runif.New builds from.
func (r *RunIf) Gate() *runif.Gate {
	if r == nil {
		return nil
	}
	return &runif.Gate{PageID: r.PageID, OptionID: r.OptionID, Regex: r.Regex, Permutation: r.Permutation}
}

// Sample is a draw from a bank.
type Sample struct {
	SampleFrom  string `json:"sampleFrom"`
	Variable    *int   `json:"variable,omitempty"`
	NotVariable *int   `json:"notVariable,omitempty"`
	Field       string `json:"field,omitempty"`
}

// Value is either a literal string or a bank sample.
type Value struct {
	Literal string
	Sample  *Sample
}

// Lit returns a literal Value.
func Lit(s string) Value { return Value{Literal: s} }

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var s Sample
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s.SampleFrom == "" {
			return fmt.Errorf("%w: sample object without sampleFrom: %s", ErrDefinition, data)
		}
		*v = Value{Sample: &s}
		return nil
	}
	lit, err := scalar(data)
	if err != nil {
		return err
	}
	*v = Value{Literal: lit}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Sample != nil {
		return json.Marshal(v.Sample)
	}
	return json.Marshal(v.Literal)
}

// Text is one value, or a list of values concatenated when the page is
// built.
type Text []Value

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var vs []Value
		if err := json.Unmarshal(data, &vs); err != nil {
			return err
		}
		*t = vs
		return nil
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Text{v}
	return nil
}

// Feedback is shown after a question is answered. A string or sample
// becomes the text of a statement; an object with text or id is a full
// statement page.
type Feedback struct {
	Page Page
}

func (f *Feedback) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return err
		}
		if _, sampled := probe["sampleFrom"]; !sampled {
			return json.Unmarshal(data, &f.Page)
		}
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Page = Page{Text: Text{v}}
	return nil
}

func (f Feedback) MarshalJSON() ([]byte, error) { return json.Marshal(f.Page) }

// Correct is a boolean for choice options and a regular expression for
// free-text options.
type Correct struct {
	Bool    *bool
	Pattern string
}

func (c *Correct) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		c.Bool = &b
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: correct must be a boolean or a pattern: %s", ErrDefinition, data)
	}
	c.Pattern = s
	return nil
}

func (c Correct) MarshalJSON() ([]byte, error) {
	if c.Bool != nil {
		return json.Marshal(*c.Bool)
	}
	return json.Marshal(c.Pattern)
}

// DefaultKeys are the bindings used by keyboard: true.
var DefaultKeys = []string{"f", "j"}

// Keyboard binds option positions to keys.
type Keyboard struct {
	Keys []string
}

func (k *Keyboard) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			k.Keys = append([]string(nil), DefaultKeys...)
		} else {
			k.Keys = nil
		}
		return nil
	}
	return json.Unmarshal(data, &k.Keys)
}

func (k Keyboard) MarshalJSON() ([]byte, error) { return json.Marshal(k.Keys) }

// Entry is a bare page or an item, as found in pages, groups and items
// lists.
type Entry struct {
	Page *Page
	Item *Item
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%w: page or item must be an object: %w", ErrDefinition, err)
	}
	if _, ok := probe["pages"]; ok {
		var it Item
		if err := json.Unmarshal(data, &it); err != nil {
			return err
		}
		*e = Entry{Item: &it}
		return nil
	}
	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry{Page: &p}
	return nil
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Item != nil {
		return json.Marshal(e.Item)
	}
	return json.Marshal(e.Page)
}

// Pages returns the pages of the entry.
func (e Entry) Pages() []Page {
	if e.Item != nil {
		return e.Item.Pages
	}
	if e.Page != nil {
		return []Page{*e.Page}
	}
	return nil
}

// BankRow is a plain string or a record of named fields.
type BankRow struct {
	Text   string
	Fields map[string]string
}

func (r *BankRow) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		r.Fields = make(map[string]string, len(raw))
		for k, v := range raw {
			s, err := scalar(v)
			if err != nil {
				return fmt.Errorf("bank field %q: %w", k, err)
			}
			r.Fields[k] = s
		}
		return nil
	}
	s, err := scalar(data)
	if err != nil {
		return err
	}
	r.Text = s
	return nil
}

func (r BankRow) MarshalJSON() ([]byte, error) {
	if r.Fields != nil {
		return json.Marshal(r.Fields)
	}
	return json.Marshal(r.Text)
}

// scalar renders a JSON string, number or boolean as text.
func scalar(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	text := strings.TrimSpace(string(data))
	switch {
	case text == "true", text == "false":
		return text, nil
	case text == "null":
		return "", nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", fmt.Errorf("%w: expected a string, number or boolean, got %s", ErrDefinition, text)
	}
	return n.String(), nil
}
