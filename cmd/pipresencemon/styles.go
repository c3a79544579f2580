package main

import "github.com/charmbracelet/lipgloss"

var (
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	pinHighStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A6E3A1"))
	pinLowStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#585B70"))
	pinWatchedStyle = lipgloss.NewStyle().Underline(true)
	timeStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA"))
	labelStyle      = lipgloss.NewStyle().Bold(true)
)
