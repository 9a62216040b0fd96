package tui

import "github.com/charmbracelet/lipgloss"

// Base styles
var (
	// TitleStyle is for titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// BoxStyle is the style for containers.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 2)

	// LabelStyle is for the left column of key/value listings.
	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Width(15)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	// Status styles
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	RunningStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)
)

// StatusStyle returns the style for a run or access status.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "success":
		return SuccessStyle
	case "running":
		return RunningStyle
	case "aborted", "access_denied":
		return WarningStyle
	case "failed", "error":
		return ErrorStyle
	default:
		return ValueStyle
	}
}
