package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/spork/internal/events"
	"github.com/mattjoyce/spork/internal/metrics"
)

// Model is the BubbleTea model for `spork watch`.
type Model struct {
	apiURL string

	width  int
	height int

	health HealthState
	stats  metrics.Snapshot
	rows   []dispatchRow
	log    []events.Event
	lastID int64
	pulse  Pulse

	table table.Model
	theme Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the server at apiURL.
func New(apiURL string) *Model {
	return &Model{
		apiURL:    apiURL,
		table:     newDispatchTable(),
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		func() tea.Msg { return fetchStats(m.apiURL) },
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(20, msg.Width-8))
		m.table.SetHeight(max(5, msg.Height-30))

	case tickMsg:
		m.pulse.Decay(time.Time(msg))
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		m.lastID = max(m.lastID, e.ID)
		m.log = append([]events.Event{e}, m.log...)
		if len(m.log) > 50 {
			m.log = m.log[:50]
		}
		if rows, changed := applyEvent(m.rows, e); changed {
			m.rows = rows
			m.table.SetRows(tableRows(rows))
		}
		if e.Type != events.TypeProcessExited {
			m.pulse.OnEvent(e.At)
		}
		m.health.Connected = true
		m.lastError = ""
		return m, tea.Batch(receiveNextEvent(m.hubEvents), func() tea.Msg { return fetchStats(m.apiURL) })

	case statsMsg:
		m.stats = msg.Live
		m.health.Connected = true
		return m, nil

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Ledger = msg.Ledger
		m.health.Remote = msg.RemoteEnabled
		m.health.Connected = true
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })

	case streamClosedMsg:
		m.health.Connected = false
		m.lastError = "event stream closed, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// Resume after the last seen id so the ring buffer fills the gap.
		return m, subscribe(m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}
	now := time.Now()

	parts := []string{
		renderHeader(m.health, m.pulse, m.theme, m.width, now),
		renderStrategies(m.stats, m.theme, m.width),
		m.theme.Border.Width(m.width - 4).Render(
			lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render("DISPATCHES"), m.table.View()),
		),
		renderEventStream(m.log, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll dispatches"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// Run starts the TUI against apiURL and blocks until the user quits.
func Run(apiURL string) error {
	_, err := tea.NewProgram(New(apiURL)).Run()
	return err
}
