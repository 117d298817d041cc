package report

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	goodColor    = lipgloss.Color("#10B981") // Green
	warnColor    = lipgloss.Color("#F59E0B") // Amber
	badColor     = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
)

// Styles holds the styles used by Render.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Good    lipgloss.Style
	Warning lipgloss.Style
	Bad     lipgloss.Style
	Muted   lipgloss.Style
}

// ColorStyles returns the styles for color terminals.
func ColorStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(primaryColor),
		Label:   lipgloss.NewStyle().Foreground(mutedColor),
		Good:    lipgloss.NewStyle().Foreground(goodColor),
		Warning: lipgloss.NewStyle().Foreground(warnColor),
		Bad:     lipgloss.NewStyle().Foreground(badColor),
		Muted:   lipgloss.NewStyle().Foreground(mutedColor).Italic(true),
	}
}

// PlainStyles returns styles that add no escape sequences.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{Title: plain, Label: plain, Good: plain, Warning: plain, Bad: plain, Muted: plain}
}
