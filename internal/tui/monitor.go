package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hiagors92/open-filter-challange/internal/tui/components"
	"github.com/hiagors92/open-filter-challange/runtime"
)

// MonitorModel is the bubbletea model showing live stage states during a
// run. It quits once RunDoneMsg arrives.
type MonitorModel struct {
	styles   *StyleSet
	spinner  spinner.Model
	version  string
	pipeline string
	stages   []string
	states   map[string]runtime.StateSnapshot
	started  time.Time
	width    int

	// cancel is invoked on ctrl+c; the run then stops in order and the
	// model keeps rendering until RunDoneMsg.
	cancel     func()
	cancelling bool
	done       bool
	result     RunDoneMsg
}

// NewMonitorModel creates a monitor for the named stages.
func NewMonitorModel(theme TermTheme, version, pipeline string, stages []string, cancel func()) MonitorModel {
	styles := NewStyleSet(theme)
	states := make(map[string]runtime.StateSnapshot, len(stages))
	now := time.Now()
	for _, s := range stages {
		states[s] = runtime.StateSnapshot{State: runtime.Pending, Since: now}
	}
	return MonitorModel{
		styles:   styles,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Title)),
		version:  version,
		pipeline: pipeline,
		stages:   append([]string(nil), stages...),
		states:   states,
		started:  now,
		width:    80,
		cancel:   cancel,
	}
}

// Init starts the spinner.
func (m MonitorModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the monitor.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.cancelling && m.cancel != nil {
				m.cancelling = true
				m.cancel()
			}
		}
		return m, nil

	case StageEventMsg:
		ev := msg.Event
		if _, ok := m.states[ev.Stage]; !ok {
			m.stages = append(m.stages, ev.Stage)
		}
		m.states[ev.Stage] = runtime.StateSnapshot{State: ev.To, Reason: ev.Reason, Since: ev.At}
		return m, nil

	case RunDoneMsg:
		m.done = true
		m.result = msg
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the banner and the stage table.
func (m MonitorModel) View() string {
	out := "\n" + RenderBanner(m.styles, m.version, m.pipeline, m.width)

	rows := make([]components.StageRow, 0, len(m.stages))
	for _, name := range m.stages {
		snap := m.states[name]
		detail := ""
		switch {
		case snap.Reason != nil:
			detail = snap.Reason.Error()
		case snap.State == runtime.Running:
			detail = m.spinner.View()
		}
		rows = append(rows, components.StageRow{
			Name:       name,
			State:      snap.State.String(),
			Detail:     detail,
			StateStyle: m.styles.StateStyle(snap.State),
		})
	}
	table := components.NewStageTable(rows, m.styles.PrimaryTxt, m.styles.DimTxt, m.styles.BorderedBox)
	out += "  " + table.View(m.width) + "\n\n"

	elapsed := time.Since(m.started).Round(100 * time.Millisecond)
	switch {
	case m.done && m.result.Success:
		out += "  " + m.styles.SuccessTxt.Render(fmt.Sprintf("✓ finished in %s", elapsed)) + "\n"
	case m.done:
		out += "  " + m.styles.ErrorTxt.Render(fmt.Sprintf("✗ failed after %s", elapsed)) + "\n"
	case m.cancelling:
		out += "  " + m.styles.WarningTxt.Render("stopping…") + "\n"
	default:
		out += "  " + m.styles.DimTxt.Render(fmt.Sprintf("%s elapsed · ctrl+c to stop", elapsed)) + "\n"
	}
	return out
}

// Done reports whether the run finished.
func (m MonitorModel) Done() bool { return m.done }

// State returns the last known state of a stage.
func (m MonitorModel) State(stage string) runtime.State {
	return m.states[stage].State
}
