package tui

import (
	"math/rand"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speriment/internal/definition"
	"speriment/internal/engine"
)

func newModel(t *testing.T, doc string) (Model, *engine.Session, *Screen) {
	t.Helper()
	def, err := definition.Parse([]byte(doc))
	require.NoError(t, err)

	screen := NewScreen()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	session, err := engine.New(def, engine.Options{
		Rand:     rand.New(rand.NewSource(7)),
		Clock:    func() time.Time { now = now.Add(time.Second); return now },
		Renderer: screen,
	})
	require.NoError(t, err)

	styles := NewStyles(LightTheme())
	m := NewModel(session, screen, Options{Styles: &styles, MarkdownStyle: "notty", Width: 60})
	m = step(t, m, m.Init()())
	return m, session, screen
}

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func press(t *testing.T, m Model, key string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "space":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// choose moves the cursor to the option with id and marks it.
func choose(t *testing.T, m Model, id string) Model {
	t.Helper()
	for m.cursor > 0 {
		m, _ = press(t, m, "up")
	}
	for i, o := range m.view.Options {
		if o.ID == id {
			for j := 0; j < i; j++ {
				m, _ = press(t, m, "down")
			}
			m, _ = press(t, m, "x")
			return m
		}
	}
	t.Fatalf("option %s not offered", id)
	return m
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

const radioDoc = `{"blocks": [{"id": "A", "pages": [
  {"id": "intro", "text": "Welcome to the **study**"},
  {"id": "q", "text": "Which animal?", "resources": ["cat.png"], "options": [
    {"id": "cat", "text": "Cat", "correct": true},
    {"id": "dog", "text": "Dog", "correct": false}
  ]}
]}]}`

func TestModel_StatementThenQuestion(t *testing.T) {
	m, session, screen := newModel(t, radioDoc)

	assert.Equal(t, "intro", m.view.ID)
	assert.Contains(t, m.View(), "Welcome to the")
	assert.Contains(t, m.View(), "space/enter: continue")

	m, cmd := press(t, m, "space")
	assert.False(t, isQuit(cmd))
	assert.Equal(t, "q", m.view.ID)
	assert.True(t, m.view.Ready, "resources are reported ready on display")
	assert.Contains(t, m.View(), "[image] cat.png")
	assert.Contains(t, m.View(), "( ) Cat")

	m, _ = press(t, m, "enter")
	assert.ErrorIs(t, m.hint, engine.ErrContinueDisabled)
	assert.Contains(t, m.View(), engine.ErrContinueDisabled.Error())

	m = choose(t, m, "dog")
	assert.Nil(t, m.hint)
	assert.Equal(t, []string{"dog"}, m.view.Selected)
	m = choose(t, m, "cat")
	assert.Equal(t, []string{"cat"}, m.view.Selected, "single answer replaces the selection")
	assert.Contains(t, m.View(), "(*) Cat")

	m, cmd = press(t, m, "enter")
	assert.True(t, isQuit(cmd))
	assert.True(t, m.Done())
	assert.False(t, m.Aborted())
	assert.Contains(t, m.View(), "Thank you")
	assert.True(t, screen.Completed())
	assert.Equal(t, 2, screen.Shown())

	tr, ok := session.Record().Latest("q")
	require.True(t, ok)
	assert.Equal(t, []string{"cat"}, tr.SelectedID)
	assert.Equal(t, true, tr.CorrectValue())
}

func TestModel_CheckboxesAndKeys(t *testing.T) {
	doc := `{"blocks": [{"id": "A", "pages": [
	  {"id": "multi", "text": "Pick any", "exclusive": false, "options": [
	    {"id": "a", "text": "A"}, {"id": "b", "text": "B"}, {"id": "c", "text": "C"}
	  ]},
	  {"id": "fj", "text": "Left or right", "keyboard": true, "options": [
	    {"id": "l", "text": "Left"}, {"id": "r", "text": "Right"}
	  ]}
	]}]}`
	m, session, _ := newModel(t, doc)

	m = choose(t, m, "a")
	m = choose(t, m, "c")
	assert.ElementsMatch(t, []string{"a", "c"}, m.view.Selected)
	assert.Contains(t, m.View(), "[x]")
	m = choose(t, m, "a")
	assert.Equal(t, []string{"c"}, m.view.Selected)

	m, _ = press(t, m, "enter")
	require.Equal(t, "fj", m.view.ID)
	assert.Contains(t, m.View(), "[f]")
	assert.Contains(t, m.View(), "keys: choose")

	m, _ = press(t, m, "j")
	require.Len(t, m.view.Selected, 1)
	picked := m.view.Selected[0]
	assert.Equal(t, m.view.Options[1].ID, picked)

	m, cmd := press(t, m, "space")
	assert.True(t, isQuit(cmd))

	tr, _ := session.Record().Latest("fj")
	assert.Equal(t, []string{picked}, tr.SelectedID)
	multi, _ := session.Record().Latest("multi")
	assert.Equal(t, []string{"c"}, multi.SelectedID)
}

func TestModel_TextAnswer(t *testing.T) {
	doc := `{"blocks": [{"id": "A", "pages": [
	  {"id": "name", "text": "Your answer", "freetext": true, "options": [{"id": "t", "text": "type here", "correct": "^hel+o$"}]}
	]}]}`
	m, session, _ := newModel(t, doc)
	require.Len(t, m.inputs, 1)

	for _, r := range "hello" {
		m, _ = press(t, m, string(r))
	}
	m, _ = press(t, m, "space")
	assert.Equal(t, "hello ", m.inputs[0].Value(), "space is typed, not a continue")

	m, _ = press(t, m, "tab")
	m, cmd := press(t, m, "enter")
	assert.True(t, isQuit(cmd))

	tr, ok := session.Record().Latest("name")
	require.True(t, ok)
	assert.Equal(t, []string{"hello "}, tr.SelectedText)
	assert.Equal(t, false, tr.CorrectValue())
}

func TestModel_QuitEarly(t *testing.T) {
	m, session, screen := newModel(t, radioDoc)
	m, cmd := press(t, m, "esc")
	assert.True(t, isQuit(cmd))
	assert.True(t, m.Aborted())
	assert.False(t, session.Done())
	assert.False(t, screen.Completed())
	assert.Zero(t, session.Record().Len())
}

func TestModel_WindowResize(t *testing.T) {
	m, _, _ := newModel(t, radioDoc)
	m = step(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	assert.Equal(t, 100, m.width)
	assert.Contains(t, m.body, "Welcome")
}

func TestDetectTheme(t *testing.T) {
	t.Setenv("SPERIMENT_DARK_MODE", "")
	t.Setenv("COLORFGBG", "15;0")
	assert.True(t, DetectTheme().IsDark)

	t.Setenv("COLORFGBG", "0;15")
	assert.False(t, DetectTheme().IsDark)

	t.Setenv("SPERIMENT_DARK_MODE", "1")
	assert.True(t, DetectTheme().IsDark)
}
