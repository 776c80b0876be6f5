// Package tui provides the Bubble Tea monitor view for espterm.
//
// The view is opt-in (--tui) and read-only: it shows what the session
// routes to the display and monitor sinks and never writes to the device.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for the header bar.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// PaneStyle frames the output and monitor panes.
	PaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor)

	// MonitorPaneStyle frames the task monitor pane.
	MonitorPaneStyle = PaneStyle.
				BorderForeground(highlightColor)

	// LinkUpStyle marks a live link.
	LinkUpStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// LinkDownStyle marks a lost link.
	LinkDownStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// StatLabelStyle for counter labels in the status line.
	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// StatValueStyle for counter values in the status line.
	StatValueStyle = lipgloss.NewStyle().
			Bold(true)
)
