package ui

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha palette.
var (
	colorGreen  = lipgloss.Color("#a6e3a1")
	colorRed    = lipgloss.Color("#f38ba8")
	colorTeal   = lipgloss.Color("#94e2d5")
	colorYellow = lipgloss.Color("#f9e2af")
	colorMuted  = lipgloss.Color("#5a6278")
	colorBright = lipgloss.Color("#cdd6f4")
)

var (
	styleIconDone   = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconFailed = lipgloss.NewStyle().Foreground(colorRed)
	styleFileDir    = lipgloss.NewStyle().Foreground(colorMuted)
	styleFileName   = lipgloss.NewStyle().Foreground(colorBright)
	styleCounts     = lipgloss.NewStyle().Foreground(colorTeal)
	styleFileSize   = lipgloss.NewStyle().Foreground(colorMuted)
	styleError      = lipgloss.NewStyle().Foreground(colorRed)
	styleWarning    = lipgloss.NewStyle().Foreground(colorYellow).Italic(true)
)
