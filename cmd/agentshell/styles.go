package main

import "github.com/charmbracelet/lipgloss"

var (
	green = lipgloss.Color("#10B981")
	amber = lipgloss.Color("#F59E0B")
	red   = lipgloss.Color("#EF4444")
	gray  = lipgloss.Color("#6B7280")
	cyan  = lipgloss.Color("#06B6D4")
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(gray).Width(12)
	okStyle      = lipgloss.NewStyle().Foreground(green).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(amber)
	errorStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(gray)
	outputStyle  = lipgloss.NewStyle().Foreground(cyan)
)

// check renders a pass/fail marker.
func check(ok bool) string {
	if ok {
		return okStyle.Render("✓")
	}
	return errorStyle.Render("✗")
}
