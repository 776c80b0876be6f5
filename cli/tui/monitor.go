package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/espterm/ansi"
	"github.com/pithecene-io/espterm/metrics"
)

// Messages delivered to MonitorModel, usually through a Bridge.
type (
	// LineMsg is one display line, possibly carrying escape sequences.
	LineMsg struct{ Line string }
	// BlockMsg replaces the task monitor pane.
	BlockMsg struct{ Lines []string }
	// ClearMsg empties the task monitor pane.
	ClearMsg struct{}
	// StatsMsg updates the status line counters.
	StatsMsg struct{ Snapshot metrics.Snapshot }
	// LinkDownMsg reports that the reader stopped.
	LinkDownMsg struct{ Err error }
)

// DefaultScrollback is the number of output lines kept.
const DefaultScrollback = 5000

const monitorWidth = 36

type keyMap struct {
	Quit   key.Binding
	Clear  key.Binding
	Follow key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear output"),
	),
	Follow: key.NewBinding(
		key.WithKeys("f", "end"),
		key.WithHelp("f", "follow"),
	),
}

// MonitorModel is a split view: device output on the left, the latest
// task monitor block on the right.
type MonitorModel struct {
	title    string
	color    bool
	interp   *ansi.Interpreter
	out      *ansi.Buffer
	output   viewport.Model
	block    []string
	stats    metrics.Snapshot
	linkErr  error
	linkDown bool
	width    int
	height   int
	ready    bool
	quitting bool
}

// NewMonitorModel returns a model titled title. With color false the
// output pane is rendered without styles.
func NewMonitorModel(title string, color bool) *MonitorModel {
	return &MonitorModel{
		title:  title,
		color:  color,
		interp: ansi.NewInterpreter(),
		out:    ansi.NewBuffer(DefaultScrollback),
	}
}

// Init implements tea.Model.
func (m *MonitorModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Clear):
			m.out.Clear()
			m.refresh(true)
			return m, nil
		case key.Matches(msg, keys.Follow):
			m.output.GotoBottom()
			return m, nil
		}

	case LineMsg:
		m.out.Apply(m.interp.Interpret(msg.Line + "\n"))
		m.refresh(m.output.AtBottom())
		return m, nil

	case BlockMsg:
		m.block = msg.Lines
		return m, nil

	case ClearMsg:
		m.block = nil
		return m, nil

	case StatsMsg:
		m.stats = msg.Snapshot
		return m, nil

	case LinkDownMsg:
		m.linkDown = true
		m.linkErr = msg.Err
		return m, nil
	}

	var cmd tea.Cmd
	m.output, cmd = m.output.Update(msg)
	return m, cmd
}

// layout sizes the output pane from the window. Borders take two cells
// in each direction; the header and footer take one line each.
func (m *MonitorModel) layout() {
	w := max(m.width-monitorWidth-4, 10)
	h := max(m.height-4, 3)
	if !m.ready {
		m.output = viewport.New(w, h)
		m.ready = true
	} else {
		m.output.Width = w
		m.output.Height = h
	}
	m.refresh(true)
}

func (m *MonitorModel) refresh(follow bool) {
	if !m.ready {
		return
	}
	if m.color {
		m.output.SetContent(m.out.Render())
	} else {
		m.output.SetContent(m.out.Plain())
	}
	if follow {
		m.output.GotoBottom()
	}
}

// View implements tea.Model.
func (m *MonitorModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "starting..."
	}

	header := TitleStyle.Render(m.title) + "  " + m.linkStatus()
	left := PaneStyle.Render(m.output.View())
	right := MonitorPaneStyle.
		Width(monitorWidth).
		Height(m.output.Height).
		Render(m.monitorView())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.footer())
}

func (m *MonitorModel) linkStatus() string {
	if !m.linkDown {
		return LinkUpStyle.Render("● connected")
	}
	if m.linkErr != nil {
		return LinkDownStyle.Render("● link lost: " + m.linkErr.Error())
	}
	return LinkDownStyle.Render("● disconnected")
}

func (m *MonitorModel) monitorView() string {
	if len(m.block) == 0 {
		return HelpStyle.Render("no task monitor data")
	}
	lines := m.block
	if n := m.output.Height; n > 0 && len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func (m *MonitorModel) footer() string {
	stat := func(label string, v int64) string {
		return StatLabelStyle.Render(label+" ") + StatValueStyle.Render(fmt.Sprint(v))
	}
	counters := strings.Join([]string{
		stat("rx", m.stats.BytesRead),
		stat("tx", m.stats.BytesWritten),
		stat("stale", m.stats.StaleTags),
		stat("timeouts", m.stats.WaitTimeouts),
	}, "  ")
	help := HelpStyle.Render("q quit · c clear · f follow · pgup/pgdn scroll")
	return counters + "   " + help
}

// Output returns the plain text of the output pane.
func (m *MonitorModel) Output() string { return m.out.Plain() }

// Block returns the task monitor lines on display.
func (m *MonitorModel) Block() []string { return m.block }
