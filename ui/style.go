// Package ui holds the shared terminal styling for command output and
// the interactive views.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7FD962"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E84855"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9C22E"))
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	verifiedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#53B3CB"))
)

// Title renders a section heading.
func Title(text string) string { return titleStyle.Render(text) }

// Error renders a failure line.
func Error(text string) string { return errorStyle.Render(text) }

// Warn renders an advisory line.
func Warn(text string) string { return warnStyle.Render(text) }

// Degraded marks output served from cache while offline.
func Degraded(text string) string { return degradedStyle.Render(text) }

// Approval colors a mod's approval status: verified and approved mods
// stand out, sandbox mods render plainly.
func Approval(status string) string {
	switch status {
	case "Verified", "Approved":
		return verifiedStyle.Render(status)
	default:
		return status
	}
}
