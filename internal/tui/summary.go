package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

// RenderSummary formats the end-of-run report.
func RenderSummary(s *core.RunSummary) string {
	title := "Run summary"
	if s.Aborted {
		title = "Run aborted"
	}

	lines := []string{
		row("Total", strconv.Itoa(s.Total), ValueStyle),
		row("Successful", strconv.Itoa(s.Successful), SuccessStyle),
		row("Skipped", strconv.Itoa(s.Skipped), SubtleStyle),
		row("Access denied", strconv.Itoa(s.AccessDenied), WarningStyle),
		row("Errors", strconv.Itoa(s.Errors), countStyle(s.Errors)),
	}
	if s.Aggregated > 0 {
		lines = append(lines, row("Aggregated", strconv.Itoa(s.Aggregated), ValueStyle))
	}
	lines = append(lines, row("Output", s.OutputPath, ValueStyle))
	if s.RunID != "" {
		lines = append(lines, row("Run", s.RunID, SubtleStyle))
	}
	if !s.StartedAt.IsZero() && s.FinishedAt.After(s.StartedAt) {
		lines = append(lines, row("Duration", s.FinishedAt.Sub(s.StartedAt).Round(time.Second).String(), SubtleStyle))
	}
	if s.Aborted {
		lines = append(lines, "", WarningStyle.Render(s.AbortReason))
	}

	body := lipgloss.JoinVertical(lipgloss.Left, TitleStyle.Render(title), "", strings.Join(lines, "\n"))
	return BoxStyle.Render(body)
}

// RenderError formats an error for the terminal.
func RenderError(err error) string {
	return ErrorStyle.Render(fmt.Sprintf("Error: %v", err))
}

func row(label, value string, style lipgloss.Style) string {
	return LabelStyle.Render(label) + style.Render(value)
}

func countStyle(n int) lipgloss.Style {
	if n > 0 {
		return ErrorStyle
	}
	return ValueStyle
}
