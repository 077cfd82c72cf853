package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#1F3A5F", Dark: "#9CC3E6"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	colorSuccess = lipgloss.Color("#16A34A")
	colorWarning = lipgloss.Color("#D97706")
	colorDanger  = lipgloss.Color("#DC2626")
)

type styles struct {
	title        lipgloss.Style
	subtitle     lipgloss.Style
	connected    lipgloss.Style
	connecting   lipgloss.Style
	disconnected lipgloss.Style
	user         lipgloss.Style
	assistant    lipgloss.Style
	pending      lipgloss.Style
	author       lipgloss.Style
	errorLine    lipgloss.Style
	hint         lipgloss.Style
	divider      lipgloss.Style
}

func defaultStyles() styles {
	bubble := lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder())
	return styles{
		title:        lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		subtitle:     lipgloss.NewStyle().Foreground(colorMuted),
		connected:    lipgloss.NewStyle().Foreground(colorSuccess),
		connecting:   lipgloss.NewStyle().Foreground(colorWarning),
		disconnected: lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		user:         bubble.BorderForeground(colorPrimary),
		assistant:    bubble.BorderForeground(colorMuted),
		pending:      bubble.BorderForeground(colorMuted).Faint(true),
		author:       lipgloss.NewStyle().Foreground(colorMuted).Bold(true),
		errorLine:    lipgloss.NewStyle().Foreground(colorDanger),
		hint:         lipgloss.NewStyle().Foreground(colorMuted).Faint(true),
		divider:      lipgloss.NewStyle().Foreground(colorMuted),
	}
}
