package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks the server as seen through /healthz and the stream.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Remote        bool
	Ledger        bool
	Connected     bool
}

func renderHeader(h HealthState, pulse Pulse, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	status := theme.OK.Render("SERVING")
	if !h.Connected {
		status = theme.Failed.Render("CONNECTING")
	} else if h.Status != "ok" && h.Status != "" {
		status = theme.Failed.Render("DEGRADED")
	}

	last := "never"
	if !pulse.Last().IsZero() {
		last = fmt.Sprintf("%s ago", now.Sub(pulse.Last()).Round(time.Second))
	}

	title := " SPORK WATCH"
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := max(1, innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	flags := []string{}
	if h.Ledger {
		flags = append(flags, "ledger")
	}
	if h.Remote {
		flags = append(flags, "remote dispatch")
	}
	statusLine := fmt.Sprintf(" %s  up %s  %s", status, formatDuration(time.Duration(h.UptimeSeconds)*time.Second),
		theme.Dim.Render(strings.Join(flags, ", ")))
	activity := fmt.Sprintf(" Last dispatch: %s %s", last, pulse.Render(theme))

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statusLine, activity),
	)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
