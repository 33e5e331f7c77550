package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"speriment/internal/definition"
	"speriment/internal/record"
)

func parse(t *testing.T, doc string) *definition.Experiment {
	t.Helper()
	exp, err := definition.Parse([]byte(doc))
	require.NoError(t, err)
	return exp
}

// ticker returns a clock that advances one second per reading.
func ticker() func() time.Time {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func newSession(t *testing.T, doc string, seed int64, mutate ...func(*Options)) *Session {
	t.Helper()
	opts := Options{Rand: rand.New(rand.NewSource(seed)), Clock: ticker()}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := New(parse(t, doc), opts)
	require.NoError(t, err)
	return s
}

func pageIDs(views []PageView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

// scripted answers graded questions correctly or not, in turn. The last
// answer repeats once the script runs out.
func scripted(answers ...bool) Responder {
	i := 0
	return ResponderFunc(func(v PageView) Response {
		want := answers[min(i, len(answers)-1)]
		i++
		for _, o := range v.Options {
			if o.Correct != nil && *o.Correct == want {
				return Response{Selected: []string{o.ID}}
			}
		}
		return FirstOption(v)
	})
}

func choose(ids map[string]string) Responder {
	return ResponderFunc(func(v PageView) Response {
		if id, ok := ids[v.ID]; ok {
			return Response{Selected: []string{id}}
		}
		return FirstOption(v)
	})
}

type fakeRenderer struct {
	views     []PageView
	completed int
}

func (f *fakeRenderer) Display(v PageView) { f.views = append(f.views, v) }
func (f *fakeRenderer) Complete()          { f.completed++ }

type memorySink struct {
	rows      []record.Row
	saved     bool
	completed bool
}

func (m *memorySink) RecordTrial(r record.Row) error { m.rows = append(m.rows, r); return nil }
func (m *memorySink) Save() error                    { m.saved = true; return nil }
func (m *memorySink) Complete() error                { m.completed = true; return nil }
