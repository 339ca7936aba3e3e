package ui

import "github.com/charmbracelet/lipgloss"

// ANSI 256 palette. One accent, the rest grays.
const (
	colorAccent = "39"  // sky blue
	colorMuted  = "24"  // deep blue for finished stages
	colorText   = "252" // values
	colorLabel  = "244"
	colorFaint  = "240"
	colorWarn   = "214"
	colorFail   = "203"
)

// Styles are the text styles shared by the TUI, chat and status output.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Active  lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	// Accent colors charts and rates.
	Accent lipgloss.Style
	Done   lipgloss.Style
	Border lipgloss.Style
}

func fg(c string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  fg(colorAccent).Bold(true),
		Success: fg(colorAccent),
		Warning: fg(colorWarn),
		Error:   fg(colorFail).Bold(true),
		Dim:     fg(colorFaint),
		Active:  fg(colorAccent).Bold(true),
		Label:   fg(colorLabel),
		Value:   fg(colorText),
		Accent:  fg(colorAccent),
		Done:    fg(colorMuted),
		Border:  fg(colorFaint),
	}
}

// NoColorStyles returns styles that render text unchanged.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain, Success: plain, Warning: plain, Error: plain,
		Dim: plain, Active: plain, Label: plain, Value: plain,
		Accent: plain, Done: plain, Border: plain,
	}
}

// GetStyles picks the styles for the given color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
