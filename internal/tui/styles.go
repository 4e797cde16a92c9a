// Package tui renders workflow progress in the terminal.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorSuccess   = lipgloss.Color("#10B981") // Green
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorTextMuted = lipgloss.Color("#9CA3AF") // Muted gray
	ColorBorder    = lipgloss.Color("#374151") // Dark gray
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			MarginTop(1)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	// Status styles
	PendingStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	RunningStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)

	CompletedStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	FailedStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	CancelledStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	SkippedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Italic(true)
)

// StateStyle returns the style for a step or workflow state.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case string(core.StepRunning):
		return RunningStyle
	case string(core.StepCompleted):
		return CompletedStyle
	case string(core.StepFailed):
		return FailedStyle
	case string(core.StepCancelled):
		return CancelledStyle
	case string(core.StepSkipped):
		return SkippedStyle
	default:
		return PendingStyle
	}
}

// StateIcon returns a one-cell marker for a step state.
func StateIcon(state string) string {
	switch state {
	case string(core.StepCompleted):
		return "✓"
	case string(core.StepFailed):
		return "✗"
	case string(core.StepCancelled):
		return "⊘"
	case string(core.StepSkipped):
		return "↷"
	case string(core.StepRunning):
		return "●"
	default:
		return "○"
	}
}
