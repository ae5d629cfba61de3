package watch

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/spork/internal/events"
)

const maxRows = 200

func newDispatchTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 8},
			{Title: "Strategy", Width: 16},
			{Title: "PID", Width: 7},
			{Title: "Target", Width: 28},
			{Title: "Took", Width: 10},
			{Title: "Exit/Error", Width: 22},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// dispatchRow is one row of the table, updated when its child exits.
type dispatchRow struct {
	At       time.Time
	Strategy string
	PID      int
	Target   string
	Took     time.Duration
	Outcome  string
}

func (r dispatchRow) cells() table.Row {
	pid := "-"
	if r.PID > 0 {
		pid = strconv.Itoa(r.PID)
	}
	return table.Row{
		r.At.Format("15:04:05"),
		r.Strategy,
		pid,
		r.Target,
		r.Took.Round(time.Microsecond).String(),
		r.Outcome,
	}
}

// applyEvent folds a hub event into rows (newest first) and reports whether
// anything changed.
func applyEvent(rows []dispatchRow, e events.Event) ([]dispatchRow, bool) {
	switch e.Type {
	case events.TypeDispatchCompleted, events.TypeDispatchFailed:
		var p events.DispatchPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return rows, false
		}
		row := dispatchRow{
			At:       e.At,
			Strategy: p.Strategy,
			PID:      p.PID,
			Target:   p.Target,
			Took:     time.Duration(p.DurationNS),
			Outcome:  "running",
		}
		if p.ErrorKind != "" {
			row.Outcome = p.ErrorKind
		} else if p.Strategy == "full-duplication" {
			row.Outcome = "forked"
		}
		rows = append([]dispatchRow{row}, rows...)
		if len(rows) > maxRows {
			rows = rows[:maxRows]
		}
		return rows, true

	case events.TypeProcessExited:
		var p events.ExitPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return rows, false
		}
		for i := range rows {
			if rows[i].PID == p.PID && rows[i].Outcome == "running" {
				rows[i].Outcome = "exit " + strconv.Itoa(p.ExitCode)
				return rows, true
			}
		}
	}
	return rows, false
}

func tableRows(rows []dispatchRow) []table.Row {
	out := make([]table.Row, len(rows))
	for i, r := range rows {
		out[i] = r.cells()
	}
	return out
}
