// Package picker is a terminal reference picker: a Bubble Tea model bound
// to a reference input controller.
package picker

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/controller"
	"github.com/runger/refkit/internal/query"
	"github.com/runger/refkit/internal/suggest"
)

// Input is the controller the picker drives. *controller.ReferenceInput
// implements it.
type Input interface {
	View() controller.View
	Value() any
	Reference() choice.Choice
	Create(ctx context.Context, text string) (choice.Choice, error)
}

// pickerState represents the current state of the picker's state machine.
type pickerState int

const (
	stateLoading   pickerState = iota // Waiting for the first choices
	stateLoaded                       // Suggestions available
	stateEmpty                        // Nothing matches
	stateError                        // Nothing usable, error shown
	stateCancelled                    // User cancelled (Esc / Ctrl+C)
)

// redrawMsg is sent when the store delivered data for the input.
type redrawMsg struct{}

// createdMsg is sent when a create request completes.
type createdMsg struct {
	record choice.Choice
	err    error
}

// Options tune the picker.
type Options struct {
	Accessor    choice.Accessor
	AllowCreate bool
	// SuggestionLimit caps the list; 0 uses the page size.
	SuggestionLimit int
	Prompt          string
}

// Model is the Bubble Tea model of the reference picker.
type Model struct {
	input  Input
	redraw <-chan struct{}
	opts   Options

	state     pickerState
	query     textinput.Model
	items     []choice.Choice
	selection int // Index into items; -1 when empty
	warning   string
	err       string
	isCreate  func(choice.Choice) bool

	width  int
	height int

	chosen bool
	result any
}

// NewModel creates a picker for in. redraw receives a value whenever the
// controller asks for a redraw; it may be nil.
func NewModel(in Input, redraw <-chan struct{}, opts Options) Model {
	if opts.Accessor.OptionText == nil && opts.Accessor.OptionValue == "" {
		opts.Accessor = choice.NewAccessor(nil)
	}
	ti := textinput.New()
	ti.Prompt = "> "
	if opts.Prompt != "" {
		ti.Placeholder = opts.Prompt
	}
	ti.Focus()

	m := Model{
		input:     in,
		redraw:    redraw,
		opts:      opts,
		state:     stateLoading,
		query:     ti,
		selection: -1,
	}
	m.refresh()
	return m
}

// WithQuery pre-fills the filter.
func (m Model) WithQuery(q string) Model {
	m.query.SetValue(q)
	m.input.View().SetFilter(q)
	m.refresh()
	return m
}

// Result returns the chosen value and whether a choice was made.
func (m Model) Result() (any, bool) {
	return m.result, m.chosen
}

// IsCancelled reports whether the user left without choosing.
func (m Model) IsCancelled() bool { return m.state == stateCancelled }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitRedraw())
}

func (m Model) waitRedraw() tea.Cmd {
	if m.redraw == nil {
		return nil
	}
	ch := m.redraw
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return redrawMsg{}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case redrawMsg:
		m.refresh()
		return m, m.waitRedraw()

	case createdMsg:
		if msg.err != nil {
			m.err = fmt.Sprintf("create failed: %v", msg.err)
			return m, nil
		}
		m.chosen = true
		m.result = m.opts.Accessor.Value(msg.record)
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.query, cmd = m.query.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.state = stateCancelled
		return m, tea.Quit

	case tea.KeyEnter:
		return m.choose()

	case tea.KeyUp:
		m.move(-1)
		return m, nil

	case tea.KeyDown:
		m.move(1)
		return m, nil

	case tea.KeyPgDown:
		m.turnPage(1)
		return m, nil

	case tea.KeyPgUp:
		m.turnPage(-1)
		return m, nil
	}

	before := m.query.Value()
	var cmd tea.Cmd
	m.query, cmd = m.query.Update(msg)
	if after := m.query.Value(); after != before {
		m.input.View().SetFilter(after)
		m.refresh()
	}
	return m, cmd
}

func (m Model) choose() (tea.Model, tea.Cmd) {
	if m.selection < 0 || m.selection >= len(m.items) {
		return m, nil
	}
	item := m.items[m.selection]
	if m.opts.Accessor.Disabled(item) {
		return m, nil
	}
	if m.isCreate != nil && m.isCreate(item) {
		in, text := m.input, strings.TrimSpace(m.query.Value())
		if text == "" {
			return m, nil
		}
		return m, func() tea.Msg {
			rec, err := in.Create(context.Background(), text)
			return createdMsg{record: rec, err: err}
		}
	}
	m.chosen = true
	m.result = m.opts.Accessor.Value(item)
	return m, tea.Quit
}

// turnPage asks the controller for the next or previous page of choices.
func (m Model) turnPage(delta int) {
	v := m.input.View()
	if page := v.Pagination.Page + delta; page >= 1 {
		v.SetPagination(query.Pagination{Page: page, PerPage: v.Pagination.PerPage})
	}
}

// move shifts the selection by delta, skipping disabled rows.
func (m *Model) move(delta int) {
	for i := m.selection + delta; i >= 0 && i < len(m.items); i += delta {
		if !m.opts.Accessor.Disabled(m.items[i]) {
			m.selection = i
			return
		}
	}
}

// refresh recomputes the suggestions from the controller view.
func (m *Model) refresh() {
	v := m.input.View()
	limit := m.opts.SuggestionLimit
	if limit == 0 {
		limit = v.Pagination.PerPage
	}
	selected := suggest.Single(m.input.Reference())
	engine := suggest.New(suggest.Options{
		Choices:         suggest.WithSelected(v.Choices, selected, m.opts.Accessor),
		Accessor:        m.opts.Accessor,
		Selected:        selected,
		AllowEmpty:      v.AllowEmpty,
		AllowCreate:     m.opts.AllowCreate && strings.TrimSpace(m.query.Value()) != "",
		SuggestionLimit: limit,
	})
	m.isCreate = engine.IsCreate

	var current any
	if m.selection >= 0 && m.selection < len(m.items) {
		current = m.opts.Accessor.Value(m.items[m.selection])
	} else {
		current = m.input.Value()
	}

	m.items = engine.Suggestions(m.query.Value())
	m.warning = v.Warning
	m.err = v.Error

	switch {
	case v.IsLoading:
		m.state = stateLoading
	case len(m.items) == 0 && v.Error != "":
		m.state = stateError
	case len(m.items) == 0:
		m.state = stateEmpty
	default:
		m.state = stateLoaded
	}
	m.reselect(current)
}

// reselect keeps the cursor on the previously selected value when it is
// still listed, and on the first enabled row otherwise.
func (m *Model) reselect(value any) {
	m.selection = -1
	key := choice.Key(value)
	first := -1
	for i, it := range m.items {
		if m.opts.Accessor.Disabled(it) {
			continue
		}
		if first < 0 {
			first = i
		}
		if value != nil && choice.Key(m.opts.Accessor.Value(it)) == key {
			m.selection = i
			return
		}
	}
	m.selection = first
}

// listHeight returns the number of visible rows.
func (m Model) listHeight() int {
	// query line and status line
	const chrome = 2
	h := m.height - chrome
	if h < 1 {
		h = 20 // before the first WindowSizeMsg
	}
	return h
}

var (
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(true)
	createStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("214"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.query.View())
	b.WriteRune('\n')
	b.WriteString(m.viewContent())
	if status := m.viewStatus(); status != "" {
		b.WriteRune('\n')
		b.WriteString(status)
	}
	return b.String()
}

func (m Model) viewContent() string {
	switch m.state {
	case stateLoading:
		return dimStyle.Render("Loading...")
	case stateEmpty:
		return dimStyle.Render("No results")
	case stateError:
		return errorStyle.Render("Error: " + m.err)
	case stateCancelled:
		return dimStyle.Render("Cancelled")
	default:
		return m.viewList()
	}
}

func (m Model) viewList() string {
	rows := make([]string, 0, len(m.items))
	for i, it := range m.items {
		if i >= m.listHeight() {
			break
		}
		text := m.opts.Accessor.Text(it).String()
		style := normalStyle
		switch {
		case m.isCreate != nil && m.isCreate(it):
			text = fmt.Sprintf("%s %q", text, strings.TrimSpace(m.query.Value()))
			style = createStyle
		case m.opts.Accessor.Disabled(it):
			style = disabledStyle
		case i == m.selection:
			style = selectedStyle
		}
		if m.width > 4 {
			text = displayText(text, m.width-4)
		}
		marker := "  "
		if i == m.selection {
			marker = "> "
		}
		rows = append(rows, style.Render(marker+text))
	}
	return strings.Join(rows, "\n")
}

func (m Model) viewStatus() string {
	switch {
	case m.state == stateError:
		return ""
	case m.err != "":
		return errorStyle.Render(m.err)
	case m.warning != "":
		return warningStyle.Render(m.warning)
	}
	return ""
}
