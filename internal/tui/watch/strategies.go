package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/spork/internal/metrics"
)

// renderStrategies draws one bar per strategy scaled to the busiest.
func renderStrategies(s metrics.Snapshot, theme Theme, width int) string {
	innerWidth := width - 4
	barWidth := max(10, innerWidth-40)

	rows := []struct {
		name  string
		count int64
	}{
		{"direct-spawn", s.DirectSpawn},
		{"primed-spawn", s.PrimedSpawn},
		{"full-duplication", s.FullDuplication},
	}
	peak := s.Failures
	for _, r := range rows {
		peak = max(peak, r.count)
	}

	bar := func(n int64, style lipgloss.Style) string {
		filled := 0
		if peak > 0 {
			filled = int(n * int64(barWidth) / peak)
		}
		return style.Render(strings.Repeat("█", filled)) + strings.Repeat(" ", barWidth-filled)
	}

	lines := []string{theme.Title.Render("STRATEGIES")}
	for _, r := range rows {
		style := theme.ForStrategy(r.name)
		lines = append(lines, fmt.Sprintf(" %-17s %s %6d", style.Render(r.name), bar(r.count, style), r.count))
	}
	lines = append(lines, fmt.Sprintf(" %-17s %s %6d", theme.Failed.Render("failed"), bar(s.Failures, theme.Failed), s.Failures))
	lines = append(lines, theme.Dim.Render(fmt.Sprintf(" total %d  avg %s  cumulative %s",
		s.Total, s.AverageTime.Round(time.Microsecond), s.TotalTime.Round(time.Millisecond))))

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
