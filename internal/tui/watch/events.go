package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/spork/internal/events"
)

func renderEventStream(log []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	lines := []string{theme.Title.Render("EVENT STREAM")}
	if len(log) == 0 {
		lines = append(lines, theme.Dim.Render("  Waiting for events..."))
	}
	for i, e := range log {
		if i >= 6 {
			break
		}
		lines = append(lines, " "+formatEvent(e, theme))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func formatEvent(e events.Event, theme Theme) string {
	style := theme.Dim
	switch e.Type {
	case events.TypeDispatchCompleted:
		style = theme.OK
	case events.TypeDispatchFailed:
		style = theme.Failed
	case events.TypeProcessExited:
		style = theme.Highlight
	}

	raw := string(e.Data)
	if len(raw) > 80 {
		raw = raw[:80] + "..."
	}
	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Format("15:04:05")),
		style.Render(fmt.Sprintf("%-19s", e.Type)),
		strings.TrimSpace(raw),
	)
}
