// Package watch implements `spork watch`, a live view of a serving
// dispatcher fed by /stats and the /events stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds every style the watch view uses.
type Theme struct {
	Direct lipgloss.Style
	Primed lipgloss.Style
	Full   lipgloss.Style
	Failed lipgloss.Style
	OK     lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Direct: lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		Primed: lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD")),
		Full:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Failed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// ForStrategy picks the style for a strategy name.
func (t Theme) ForStrategy(name string) lipgloss.Style {
	switch name {
	case "direct-spawn":
		return t.Direct
	case "primed-spawn":
		return t.Primed
	case "full-duplication":
		return t.Full
	default:
		return t.Dim
	}
}
