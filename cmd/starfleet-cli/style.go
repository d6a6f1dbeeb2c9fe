package main

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#20B9B4")
	colorError  = lipgloss.Color("#E74C3C")
	colorMuted  = lipgloss.Color("#5C7A84")
)

var (
	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleError  = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	styleMuted  = lipgloss.NewStyle().Foreground(colorMuted)
	stylePrompt = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
)
