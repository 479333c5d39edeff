package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.bytecodealliance.org/wit"
	"golang.org/x/term"

	"github.com/wippyai/emhost/runtime"
)

const (
	accent = lipgloss.Color("#7D56F4")
	muted  = lipgloss.Color("#666666")
)

var (
	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(accent).Padding(0, 1)
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98"))
	witStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	cursorStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	noteStyle   = lipgloss.NewStyle().Foreground(muted)
)

type screen int

const (
	screenExports screen = iota
	screenArgs
	screenOutcome
)

type keyMap struct {
	Up, Down, Call, Next, Back, Quit key.Binding
	screen                           screen
}

func newKeyMap() keyMap {
	return keyMap{
		Up:   key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Call: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "call")),
		Next: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next field")),
		Back: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp lists the bindings live on the current screen.
func (k keyMap) ShortHelp() []key.Binding {
	switch k.screen {
	case screenArgs:
		return []key.Binding{k.Next, k.Call, k.Back}
	case screenOutcome:
		return []key.Binding{k.Back, k.Quit}
	default:
		return []key.Binding{k.Up, k.Down, k.Call, k.Quit}
	}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// export is one callable entry in the picker.
type export struct {
	name    string
	params  []wit.Type
	results []wit.Type
}

func (e export) signature() string {
	params := make([]string, len(e.params))
	for i, p := range e.params {
		params[i] = fmt.Sprintf("arg%d: %s", i, witStyle.Render(runtime.TypeName(p)))
	}
	sig := nameStyle.Render(e.name) + "(" + strings.Join(params, ", ") + ")"
	if len(e.results) > 0 {
		sig += " -> " + witStyle.Render(runtime.TypeName(e.results[0]))
	}
	return sig
}

// callDoneMsg carries a finished call back into the update loop.
type callDoneMsg struct {
	output string
	notes  string
	err    error
}

type interactiveModel struct {
	ctx     context.Context
	module  *runtime.Module
	cfg     runtime.InstanceConfig
	inst    *runtime.Instance
	title   string
	exports []export
	cursor  int
	fields  []textinput.Model
	focus   int
	screen  screen
	outcome callDoneMsg
	keys    keyMap
	help    help.Model
}

func newInteractiveModel(ctx context.Context, title string, mod *runtime.Module, cfg runtime.InstanceConfig) *interactiveModel {
	m := &interactiveModel{
		ctx:    ctx,
		module: mod,
		cfg:    cfg,
		title:  title,
		keys:   newKeyMap(),
		help:   help.New(),
	}
	for _, exp := range mod.Exports() {
		m.exports = append(m.exports, export{name: exp.Name, params: exp.Params, results: exp.Results})
	}
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if done, ok := msg.(callDoneMsg); ok {
		m.outcome = done
		m.show(screenOutcome)
		return m, nil
	}
	keyMsg, isKey := msg.(tea.KeyMsg)
	if isKey && keyMsg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.screen {
	case screenArgs:
		return m.updateArgs(msg)
	case screenOutcome:
		if isKey {
			return m.updateOutcome(keyMsg)
		}
	default:
		if isKey {
			return m.updateExports(keyMsg)
		}
	}
	return m, nil
}

func (m *interactiveModel) updateExports(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.cursor = max(m.cursor-1, 0)
	case key.Matches(msg, m.keys.Down):
		m.cursor = min(m.cursor+1, len(m.exports)-1)
	case key.Matches(msg, m.keys.Call):
		if len(m.exports) == 0 {
			return m, nil
		}
		m.fields = argFields(m.exports[m.cursor])
		m.focus = 0
		if len(m.fields) == 0 {
			return m, m.call
		}
		m.show(screenArgs)
	}
	return m, nil
}

// updateArgs forwards everything but the navigation keys to the focused
// field, so q can be typed into an argument.
func (m *interactiveModel) updateArgs(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(keyMsg, m.keys.Call):
			return m, m.call
		case key.Matches(keyMsg, m.keys.Back):
			m.fields = nil
			m.show(screenExports)
			return m, nil
		case key.Matches(keyMsg, m.keys.Next):
			m.fields[m.focus].Blur()
			m.focus = (m.focus + 1) % len(m.fields)
			return m, m.fields[m.focus].Focus()
		}
	}
	var cmd tea.Cmd
	m.fields[m.focus], cmd = m.fields[m.focus].Update(msg)
	return m, cmd
}

func (m *interactiveModel) updateOutcome(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Call):
		m.outcome = callDoneMsg{}
		m.show(screenExports)
	}
	return m, nil
}

func (m *interactiveModel) show(s screen) {
	m.screen = s
	m.keys.screen = s
}

func argFields(exp export) []textinput.Model {
	fields := make([]textinput.Model, len(exp.params))
	for i, p := range exp.params {
		f := textinput.New()
		f.Prompt = fmt.Sprintf("arg%d: ", i)
		f.Placeholder = runtime.TypeName(p)
		f.Width = 40
		fields[i] = f
	}
	if len(fields) > 0 {
		fields[0].Focus()
	}
	return fields
}

// call runs the selected export. The instance is created lazily and
// dropped after a call that terminated it, so the next call starts fresh.
func (m *interactiveModel) call() tea.Msg {
	exp := m.exports[m.cursor]
	values := make([]string, len(m.fields))
	for i, f := range m.fields {
		values[i] = f.Value()
	}
	args, err := convertArgs(values, exp.params)
	if err != nil {
		return callDoneMsg{err: err}
	}

	if m.inst == nil {
		inst, err := m.module.InstantiateWithConfig(m.ctx, m.cfg)
		if err != nil {
			return callDoneMsg{err: err}
		}
		m.inst = inst
	}

	result, err := m.inst.Call(m.ctx, exp.name, args...)
	var notes strings.Builder
	printDiagnostics(&notes, m.inst)
	if err != nil {
		var termErr *runtime.TerminationError
		if stderrors.As(err, &termErr) {
			_ = m.inst.Close(m.ctx)
			m.inst = nil
		}
		return callDoneMsg{err: err, notes: notes.String()}
	}
	return callDoneMsg{output: formatResult(result, exp.results), notes: notes.String()}
}

func (m *interactiveModel) View() string {
	var body string
	switch m.screen {
	case screenArgs:
		body = m.viewArgs()
	case screenOutcome:
		body = m.viewOutcome()
	default:
		body = m.viewExports()
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center, bannerStyle.Render("emrun"), " ", m.title)
	return lipgloss.JoinVertical(lipgloss.Left, header, "", body, "", m.help.View(m.keys)) + "\n"
}

func (m *interactiveModel) viewExports() string {
	if len(m.exports) == 0 {
		return "The module exports no functions."
	}
	rows := []string{"Select an export to call:", ""}
	for i, exp := range m.exports {
		marker := "  "
		if i == m.cursor {
			marker = cursorStyle.Render("> ")
		}
		rows = append(rows, marker+exp.signature())
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m *interactiveModel) viewArgs() string {
	exp := m.exports[m.cursor]
	rows := []string{"Calling " + nameStyle.Render(exp.name), ""}
	for i, f := range m.fields {
		rows = append(rows, f.View()+" "+witStyle.Render(runtime.TypeName(exp.params[i])))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m *interactiveModel) viewOutcome() string {
	rows := []string{nameStyle.Render(m.exports[m.cursor].name) + " returned:", ""}
	if m.outcome.err != nil {
		rows = append(rows, failStyle.Render("Error: "+m.outcome.err.Error()))
	} else {
		rows = append(rows, okStyle.Render(m.outcome.output))
	}
	if m.outcome.notes != "" {
		rows = append(rows, noteStyle.Render(strings.TrimRight(m.outcome.notes, "\n")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func runInteractive(ctx context.Context, title string, mod *runtime.Module, cfg runtime.InstanceConfig) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal")
	}

	// Guest output would corrupt the alternate screen.
	cfg.Stdout, cfg.Stderr = nil, nil

	m := newInteractiveModel(ctx, title, mod, cfg)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if m.inst != nil {
		_ = m.inst.Close(ctx)
	}
	return err
}
