// Package dashboard renders a terminal status view of tracked services,
// their dependencies, and the live polling event stream.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/depsdash/depsdash/internal/poller"
	"github.com/depsdash/depsdash/internal/store"
)

// Panel width (all panels same width)
const (
	panelTotalWidth = 69 // Total visual width including borders
	panelInnerWidth = 65 // panelTotalWidth - 4 (2 borders + 2 padding spaces)

	maxEventLines = 8
	refreshEvery  = 2 * time.Second
)

// sparkBlocks maps normalized levels (0-8) to Unicode block elements.
var sparkBlocks = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Styles (muted terminal aesthetic)
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3d4450")) // slate

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7ec699")) // sage green

	unhealthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4a054")) // amber

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))
)

// serviceRow is one service line in the SERVICES panel.
type serviceRow struct {
	Name                string
	Tracked             bool
	IsPolling           bool
	LastPollSuccess     *bool
	LastPollError       string
	ConsecutiveFailures int
	DependencyTotal     int
	DependencyHealthy   int
	LatencyHistory      []float64
}

// Model is the TUI model. It reads the registry through the store and
// polling state through the scheduler, refreshing on a tick; the event
// panel is fed by a bus subscription.
type Model struct {
	store     *store.Store
	scheduler *poller.Scheduler
	events    <-chan poller.Event
	cancelSub func()

	rows      []serviceRow
	eventLog  []string
	loadError string
	width     int
	height    int
	quitting  bool
	version   string
}

// tickMsg triggers a registry refresh.
type tickMsg time.Time

// busEventMsg carries one polling event into the model.
type busEventMsg poller.Event

// busClosedMsg signals the event bus shut down.
type busClosedMsg struct{}

// NewModel creates a dashboard model over the store and scheduler.
func NewModel(version string, st *store.Store, sched *poller.Scheduler) Model {
	events, cancel := sched.Bus().Subscribe("")
	return Model{
		store:     st,
		scheduler: sched,
		events:    events,
		cancelSub: cancel,
		version:   version,
	}
}

// Init starts the refresh tick and the event pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick(), m.waitForEvent())
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent blocks on the bus subscription and delivers one event.
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return busClosedMsg{}
		}
		return busEventMsg(ev)
	}
}

// refresh reloads service rows from the registry.
func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		rows, err := loadRows(m.store, m.scheduler)
		if err != nil {
			return loadErrorMsg(err.Error())
		}
		return rowsMsg(rows)
	}
}

type rowsMsg []serviceRow
type loadErrorMsg string

// loadRows builds the display rows: registry services joined with live
// poll state and a dependency health summary.
func loadRows(st *store.Store, sched *poller.Scheduler) ([]serviceRow, error) {
	services, err := st.ListServices()
	if err != nil {
		return nil, err
	}

	rows := make([]serviceRow, 0, len(services))
	for _, svc := range services {
		row := serviceRow{
			Name:            svc.Name,
			LastPollSuccess: svc.LastPollSuccess,
			LastPollError:   svc.LastPollError,
		}
		if ps := sched.GetPollState(svc.ID); ps != nil {
			row.Tracked = true
			row.IsPolling = ps.IsPolling
			row.ConsecutiveFailures = ps.ConsecutiveFailures
		}

		deps, err := st.ListDependencies(svc.ID)
		if err == nil {
			row.DependencyTotal = len(deps)
			since := time.Now().Add(-time.Hour)
			for _, d := range deps {
				if d.Healthy != nil && *d.Healthy {
					row.DependencyHealthy++
				}
				samples, err := st.LatencySince(d.ID, since)
				if err != nil {
					continue
				}
				for _, s := range samples {
					row.LatencyHistory = append(row.LatencyHistory, float64(s.LatencyMS))
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			if m.cancelSub != nil {
				m.cancelSub()
			}
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case rowsMsg:
		m.rows = msg
		m.loadError = ""

	case loadErrorMsg:
		m.loadError = string(msg)

	case busEventMsg:
		m.eventLog = append(m.eventLog, formatEvent(poller.Event(msg)))
		if len(m.eventLog) > maxEventLines {
			m.eventLog = m.eventLog[len(m.eventLog)-maxEventLines:]
		}
		return m, m.waitForEvent()

	case busClosedMsg:
		m.eventLog = append(m.eventLog, dimStyle.Render("event stream closed"))
	}

	return m, nil
}

// formatEvent renders one bus event as a log line.
func formatEvent(ev poller.Event) string {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	line := fmt.Sprintf("%s  %-14s %s", ts.Format("15:04:05"), ev.Name, ev.ServiceName)
	switch ev.Name {
	case poller.EventPollError:
		return unhealthyStyle.Render(line)
	case poller.EventStatusChange:
		return warningStyle.Render(line)
	default:
		return line
	}
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("DEPSDASH") + dimStyle.Render("  v"+m.version))
	b.WriteString("\n\n")

	b.WriteString(m.servicesPanel())
	b.WriteString("\n")
	b.WriteString(m.eventsPanel())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("  q quit · r refresh"))
	b.WriteString("\n")
	return b.String()
}

// servicesPanel renders per-service health lines.
func (m *Model) servicesPanel() string {
	var content strings.Builder
	w := panelInnerWidth

	if m.loadError != "" {
		content.WriteString(unhealthyStyle.Render("  " + truncateString(m.loadError, w-2)))
		return renderPanel("SERVICES", content.String())
	}
	if len(m.rows) == 0 {
		content.WriteString(dimStyle.Render("  No services registered"))
		return renderPanel("SERVICES", content.String())
	}

	for i, row := range m.rows {
		if i > 0 {
			content.WriteString("\n")
		}

		status, style := rowStatus(row)
		depSummary := fmt.Sprintf("%d/%d deps", row.DependencyHealthy, row.DependencyTotal)
		content.WriteString(dotLeaderStyled(truncateString(row.Name, 28), status+"  "+depSummary, style, w))

		if len(row.LatencyHistory) > 1 {
			content.WriteString("\n")
			spark := renderSparkline(row.LatencyHistory, 24)
			content.WriteString(dimStyle.Render("    latency " + spark))
		}
		if row.LastPollError != "" && (row.LastPollSuccess == nil || !*row.LastPollSuccess) {
			content.WriteString("\n")
			content.WriteString(unhealthyStyle.Render("    " + truncateString(row.LastPollError, w-4)))
		}
	}
	return renderPanel("SERVICES", content.String())
}

// rowStatus summarizes one service's poll state for display.
func rowStatus(row serviceRow) (string, lipgloss.Style) {
	switch {
	case row.IsPolling:
		return "polling", warningStyle
	case !row.Tracked:
		return "idle", dimStyle
	case row.LastPollSuccess == nil:
		return "pending", dimStyle
	case *row.LastPollSuccess:
		return "ok", healthyStyle
	case row.ConsecutiveFailures > 0:
		return fmt.Sprintf("failing x%d", row.ConsecutiveFailures), unhealthyStyle
	default:
		return "failing", unhealthyStyle
	}
}

// eventsPanel renders the recent event log.
func (m *Model) eventsPanel() string {
	var content strings.Builder
	if len(m.eventLog) == 0 {
		content.WriteString(dimStyle.Render("  No events yet"))
	} else {
		for i, line := range m.eventLog {
			if i > 0 {
				content.WriteString("\n")
			}
			content.WriteString("  " + line)
		}
	}
	return renderPanel("EVENTS", content.String())
}

// Run starts the dashboard program and blocks until exit.
func Run(version string, st *store.Store, sched *poller.Scheduler) error {
	p := tea.NewProgram(NewModel(version, st, sched), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
