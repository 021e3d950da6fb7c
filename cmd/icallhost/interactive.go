package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/engine"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectMethod modelState = iota
	stateInputArgs
	stateShowResult
)

type interactiveModel struct {
	ctx      context.Context
	src      source
	cfg      *engine.Config
	session  *session
	err      error
	result   string
	status   string
	methods  []methodInfo
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState

	// last managed message, set from inside calls
	message atomic.Pointer[string]
}

type loadedMsg struct {
	err     error
	session *session
}

type reloadedMsg struct {
	err error
}

type callResultMsg struct {
	err    error
	result string
}

func newInteractiveModel(ctx context.Context, src source, cfg *engine.Config) *interactiveModel {
	m := &interactiveModel{ctx: ctx, src: src, state: stateSelectMethod}
	c := engine.Config{}
	if cfg != nil {
		c = *cfg
	}
	c.OnMessage = func(level zapcore.Level, text string) {
		line := formatMessage(level, text)
		m.message.Store(&line)
	}
	m.cfg = &c
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	s, err := newSession(m.ctx, zap.NewNop(), m.src, m.cfg)
	return loadedMsg{err: err, session: s}
}

func (m *interactiveModel) reload() tea.Msg {
	return reloadedMsg{err: m.session.reload(m.ctx)}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m.quit()

		case "q":
			if m.state != stateInputArgs {
				return m.quit()
			}

		case "r":
			if m.state == stateSelectMethod && m.session != nil {
				m.status = "reloading..."
				return m, m.reload
			}

		case "up", "k":
			if m.state == stateSelectMethod && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectMethod && m.selected < len(m.methods)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectMethod:
				if len(m.methods) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callMethod
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callMethod

			case stateShowResult:
				m.state = stateSelectMethod
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectMethod
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectMethod
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.methods = m.session.methods()

	case reloadedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("reload failed: %v", msg.err)
		} else {
			m.status = fmt.Sprintf("reloaded, generation %d", m.session.bridge.Generation())
			m.methods = m.session.methods()
			if m.selected >= len(m.methods) {
				m.selected = 0
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) quit() (tea.Model, tea.Cmd) {
	if m.session != nil {
		_ = m.session.close(context.Background())
	}
	return m, tea.Quit
}

func (m *interactiveModel) prepareInputs() {
	mi := m.methods[m.selected]
	m.inputs = make([]textinput.Model, len(mi.sig.Params))
	for i, p := range mi.sig.Params {
		ti := textinput.New()
		ti.Placeholder = placeholder(p)
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func placeholder(t abi.Type) string {
	if t.Kind == abi.KindStruct {
		return t.Struct + " as name=value,..."
	}
	return t.String()
}

func (m *interactiveModel) callMethod() tea.Msg {
	mi := m.methods[m.selected]
	texts := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		texts[i] = input.Value()
	}
	result, err := m.session.call(m.ctx, mi.name, texts)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: fmt.Sprintf("%v", result)}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.session == nil {
		return "Loading image..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("icall host"))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%s, generation %d", m.session.bridge.State(), m.session.bridge.Generation()))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectMethod:
		b.WriteString("Select a method to call:\n\n")
		for i, mi := range m.methods {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + mi.name + mi.sig.String()))
			} else {
				b.WriteString("  " + formatMethod(mi))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if m.status != "" {
			b.WriteString(m.status)
			b.WriteString("\n")
		}
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • r reload • q quit"))

	case stateInputArgs:
		mi := m.methods[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(mi.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(mi.sig.Params[i].String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		mi := m.methods[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(mi.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		if line := m.message.Load(); line != nil {
			b.WriteString("\n")
			b.WriteString(helpStyle.Render(*line))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatMethod(mi methodInfo) string {
	params := make([]string, len(mi.sig.Params))
	for i, p := range mi.sig.Params {
		params[i] = typeStyle.Render(p.String())
	}
	result := ""
	if mi.sig.Result.Kind != abi.KindVoid {
		result = " -> " + typeStyle.Render(mi.sig.Result.String())
	}
	return funcStyle.Render(mi.name) + "(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(ctx context.Context, src source, cfg *engine.Config) error {
	p := tea.NewProgram(newInteractiveModel(ctx, src, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
