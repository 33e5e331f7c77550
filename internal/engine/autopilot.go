package engine

import (
	"fmt"
	"math/rand"
)

// Response is an automated participant's answer to one page.
type Response struct {
	Selected []string
	Text     map[string]string
}

// Responder answers pages on behalf of a participant.
type Responder interface {
	Respond(v PageView) Response
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(v PageView) Response

func (f ResponderFunc) Respond(v PageView) Response { return f(v) }

// FirstOption picks the first displayed option, and types "response" into
// text boxes.
var FirstOption = ResponderFunc(func(v PageView) Response {
	switch {
	case len(v.Options) == 0:
		return Response{}
	case v.OptionKind == TextBox:
		return Response{Text: map[string]string{v.Options[0].ID: "response"}}
	default:
		return Response{Selected: []string{v.Options[0].ID}}
	}
})

// CorrectOption picks the first option declared correct, falling back to
// the first option.
var CorrectOption = ResponderFunc(func(v PageView) Response {
	for _, o := range v.Options {
		if v.OptionKind != TextBox && o.Correct != nil && *o.Correct {
			return Response{Selected: []string{o.ID}}
		}
	}
	return FirstOption(v)
})

// RandomOption picks one displayed option uniformly at random.
func RandomOption(rng *rand.Rand) Responder {
	return ResponderFunc(func(v PageView) Response {
		if len(v.Options) == 0 || v.OptionKind == TextBox {
			return FirstOption(v)
		}
		return Response{Selected: []string{v.Options[rng.Intn(len(v.Options))].ID}}
	})
}

// Drive starts s and answers every page with r until the experiment ends.
// It returns the views in the order they were shown. A positive limit
// bounds the number of pages.
func Drive(s *Session, r Responder, limit int) ([]PageView, error) {
	if err := s.Start(); err != nil {
		return nil, err
	}
	var shown []PageView
	for !s.Done() {
		v, ok := s.Current()
		if !ok {
			return shown, ErrNoPage
		}
		if limit > 0 && len(shown) >= limit {
			return shown, fmt.Errorf("stopped after %d pages", limit)
		}
		shown = append(shown, v)
		if !v.Ready {
			s.ResourcesReady()
		}

		resp := r.Respond(v)
		if len(resp.Selected) > 0 {
			if err := s.Select(resp.Selected...); err != nil {
				return shown, err
			}
		}
		for id, text := range resp.Text {
			if err := s.SetText(id, text); err != nil {
				return shown, err
			}
		}
		if err := s.Advance(); err != nil {
			return shown, fmt.Errorf("page %q: %w", v.ID, err)
		}
	}
	return shown, nil
}
