// Package tui presents a participant session in the terminal. The Model
// owns the engine session and calls into it from Update, and the Screen is
// the session's renderer: it hands each displayed page back to the Model.
package tui

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"speriment/internal/engine"
	"speriment/internal/logging"
)

// Screen implements engine.Renderer. Display and Complete are only ever
// called from within Model.Update.
type Screen struct {
	latest    engine.PageView
	fresh     bool
	shown     int
	completed bool
}

// NewScreen creates an empty screen.
func NewScreen() *Screen { return &Screen{} }

// Display records the page the session wants shown.
func (s *Screen) Display(v engine.PageView) {
	s.latest = v
	s.fresh = true
	s.shown++
}

// Complete records that the session ended and its data was submitted.
func (s *Screen) Complete() { s.completed = true }

// Shown returns how many pages were displayed.
func (s *Screen) Shown() int { return s.shown }

// Completed reports whether the session ended.
func (s *Screen) Completed() bool { return s.completed }

func (s *Screen) take() (engine.PageView, bool) {
	if !s.fresh {
		return engine.PageView{}, false
	}
	s.fresh = false
	return s.latest, true
}

// Options configures a Model.
type Options struct {
	Styles *Styles
	// MarkdownStyle is a glamour standard style ("dark", "light", "notty",
	// "ascii"); empty picks one from the terminal.
	MarkdownStyle string
	Width         int
}

// Model is the bubbletea model of a running session.
type Model struct {
	session *engine.Session
	screen  *Screen
	styles  Styles
	mdStyle string
	md      *glamour.TermRenderer
	width   int

	view   engine.PageView
	body   string
	cursor int
	marked []string
	inputs []textinput.Model
	focus  int

	hint    error // recoverable, shown in the footer
	fatal   error
	done    bool
	aborted bool
}

// NewModel creates the model for a session whose renderer is screen.
func NewModel(session *engine.Session, screen *Screen, opts Options) Model {
	styles := DefaultStyles()
	if opts.Styles != nil {
		styles = *opts.Styles
	}
	width := opts.Width
	if width <= 0 {
		width = 80
	}
	m := Model{
		session: session,
		screen:  screen,
		styles:  styles,
		mdStyle: opts.MarkdownStyle,
		width:   width,
	}
	m.md = newMarkdown(m.mdStyle, m.width)
	return m
}

func newMarkdown(style string, width int) *glamour.TermRenderer {
	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStylePath(style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width))
	if err != nil {
		logging.Get(logging.CategoryTUI).Warn("markdown renderer unavailable: %v", err)
		return nil
	}
	return r
}

// Err returns the error that stopped the session, if any.
func (m Model) Err() error { return m.fatal }

// Done reports whether the participant reached the end.
func (m Model) Done() bool { return m.done }

// Aborted reports whether the participant quit before the end.
func (m Model) Aborted() bool { return m.aborted }

type startMsg struct{}

// Init starts the session.
func (m Model) Init() tea.Cmd {
	return func() tea.Msg { return startMsg{} }
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case startMsg:
		m.apply(m.session.Start())
		return m, m.quitIfOver()

	case tea.WindowSizeMsg:
		if msg.Width > 0 && msg.Width != m.width {
			m.width = msg.Width
			m.md = newMarkdown(m.mdStyle, m.width)
			m.body = m.renderText(m.view)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "esc" {
		if !m.done {
			m.aborted = true
			logging.TUI("participant quit on page %q", m.view.ID)
		}
		return m, tea.Quit
	}
	if m.done || m.fatal != nil {
		return m, tea.Quit
	}

	if len(m.inputs) > 0 {
		return m.handleTextKey(msg)
	}

	for i, o := range m.view.Options {
		if o.Key != "" && o.Key == key {
			m.toggle(i)
			return m, nil
		}
	}

	switch key {
	case "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down":
		if m.cursor < len(m.view.Options)-1 {
			m.cursor++
		}
	case "x":
		if len(m.view.Options) > 0 {
			m.toggle(m.cursor)
		}
	case " ", "enter":
		m.apply(m.session.Advance())
		return m, m.quitIfOver()
	}
	return m, nil
}

func (m Model) handleTextKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "down":
		m.setFocus((m.focus + 1) % len(m.inputs))
		return m, nil
	case "shift+tab", "up":
		m.setFocus((m.focus + len(m.inputs) - 1) % len(m.inputs))
		return m, nil
	case "enter":
		for i, in := range m.inputs {
			if err := m.session.SetText(m.view.Options[i].ID, in.Value()); err != nil {
				m.apply(err)
				return m, m.quitIfOver()
			}
		}
		m.apply(m.session.Advance())
		return m, m.quitIfOver()
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *Model) setFocus(i int) {
	m.inputs[m.focus].Blur()
	m.focus = i
	m.inputs[m.focus].Focus()
}

// toggle flips option i: single-answer pages replace the selection.
func (m *Model) toggle(i int) {
	id := m.view.Options[i].ID
	m.cursor = i
	switch {
	case slices.Contains(m.marked, id):
		m.marked = slices.DeleteFunc(slices.Clone(m.marked), func(s string) bool { return s == id })
	case m.view.Exclusive:
		m.marked = []string{id}
	default:
		m.marked = append(slices.Clone(m.marked), id)
	}
	m.apply(m.session.Select(m.marked...))
	m.marked = slices.Clone(m.view.Selected)
}

// apply folds the outcome of a session call into the model.
func (m *Model) apply(err error) {
	m.hint = nil
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrContinueDisabled), errors.Is(err, engine.ErrNotReady), errors.Is(err, engine.ErrInvalidSelection):
		m.hint = err
	default:
		logging.Get(logging.CategoryTUI).Error("session failed on page %q: %v", m.view.ID, err)
		m.fatal = err
		return
	}

	if v, ok := m.screen.take(); ok {
		m.load(v)
	}
	if m.session.Done() {
		m.done = true
		return
	}
	if v, ok := m.session.Current(); ok {
		m.view = v
	}
}

// load resets per-page state for a newly displayed page. The terminal
// cannot play media, so resources are reported ready at once and shown
// as references.
func (m *Model) load(v engine.PageView) {
	m.view = v
	m.body = m.renderText(v)
	m.cursor = 0
	m.marked = nil
	m.inputs = nil
	m.focus = 0
	if v.OptionKind == engine.TextBox && len(v.Options) > 0 {
		for _, o := range v.Options {
			in := textinput.New()
			in.Placeholder = o.Text
			in.CharLimit = 500
			in.Width = max(m.width-10, 20)
			m.inputs = append(m.inputs, in)
		}
		m.inputs[0].Focus()
	}
	if !v.Ready {
		m.session.ResourcesReady()
	}
	logging.TUIDebug("showing %s %q (%s)", v.Kind, v.ID, v.OptionKind)
}

func (m Model) renderText(v engine.PageView) string {
	if m.md == nil || v.Text == "" {
		return v.Text
	}
	out, err := m.md.Render(v.Text)
	if err != nil {
		return v.Text
	}
	return strings.Trim(out, "\n")
}

func (m Model) quitIfOver() tea.Cmd {
	if m.done || m.fatal != nil {
		return tea.Quit
	}
	return nil
}

// View renders the current page.
func (m Model) View() string {
	if m.fatal != nil {
		return m.styles.Error.Render(fmt.Sprintf("The experiment stopped: %v", m.fatal)) + "\n"
	}
	if m.done {
		return m.styles.Done.Render("Thank you! Your responses have been recorded.") + "\n"
	}
	if m.view.ID == "" {
		return ""
	}

	var b strings.Builder
	body := m.body
	if m.view.Feedback {
		body = m.styles.Feedback.Render(body)
	}
	b.WriteString(m.styles.Page.Render(body))
	b.WriteString("\n")

	for _, r := range m.view.Resources {
		b.WriteString(m.styles.Resource.Render(fmt.Sprintf("[%s] %s", r.Kind, r.Source)))
		b.WriteString("\n")
	}
	if len(m.view.Options) > 0 {
		b.WriteString("\n")
		b.WriteString(m.renderOptions())
	}
	b.WriteString(m.styles.Footer.Render(m.footer()))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderOptions() string {
	var b strings.Builder
	for i, o := range m.view.Options {
		if i < len(m.inputs) {
			b.WriteString(m.styles.Option.Render(m.inputs[i].View()))
			b.WriteString("\n")
			continue
		}

		pointer := "  "
		if i == m.cursor {
			pointer = m.styles.Cursor.Render("> ")
		}
		on := slices.Contains(m.view.Selected, o.ID)
		var mark string
		switch m.view.OptionKind {
		case engine.Check:
			mark = "[ ]"
			if on {
				mark = "[x]"
			}
		default:
			mark = "( )"
			if on {
				mark = "(*)"
			}
		}
		if on {
			mark = m.styles.Selected.Render(mark)
		}

		line := pointer + mark + " " + o.Text
		if o.Key != "" {
			line += " " + m.styles.Key.Render("["+o.Key+"]")
		}
		b.WriteString(m.styles.Option.Render(line))
		b.WriteString("\n")
		for _, r := range o.Resources {
			b.WriteString(m.styles.Resource.Render(fmt.Sprintf("    [%s] %s", r.Kind, r.Source)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) footer() string {
	var parts []string
	switch m.view.OptionKind {
	case engine.TextBox:
		parts = append(parts, "tab: next field", "enter: continue")
	case engine.NoOptions:
		parts = append(parts, "space/enter: continue")
	default:
		if hasKeys(m.view.Options) {
			parts = append(parts, "keys: choose")
		} else {
			parts = append(parts, "↑/↓: move", "x: choose")
		}
		if m.view.CanContinue {
			parts = append(parts, "space/enter: continue")
		}
	}
	parts = append(parts, "esc: quit")

	footer := strings.Join(parts, " • ")
	if m.hint != nil {
		footer = m.styles.Error.Render(m.hint.Error()) + "\n" + footer
	}
	return footer
}

func hasKeys(options []engine.OptionView) bool {
	for _, o := range options {
		if o.Key != "" {
			return true
		}
	}
	return false
}
