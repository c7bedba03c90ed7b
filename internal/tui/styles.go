package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sebastianm/provinggrounds/internal/catalog"
	"github.com/sebastianm/provinggrounds/internal/session"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFD700")).
			Background(lipgloss.Color("#1a1a2e")).
			Padding(0, 2)

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Padding(0, 2)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555")).
			Padding(1, 2)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	selectedNameStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFD700")).
				Bold(true)

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	addressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5599FF"))

	hotkeysStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555")).
			Padding(0, 2)

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700")).
			Padding(0, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4444")).
			Padding(0, 2)

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusOther   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00"))

	difficultyEasy   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00CC66"))
	difficultyMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00"))
	difficultyHard   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444"))
)

func statusStyle(s session.Status) lipgloss.Style {
	switch s {
	case session.StatusRunning:
		return statusRunning
	case session.StatusStopped:
		return statusStopped
	default:
		return statusOther
	}
}

func difficultyStyle(d catalog.Difficulty) lipgloss.Style {
	switch d {
	case catalog.Easy:
		return difficultyEasy
	case catalog.Medium:
		return difficultyMedium
	default:
		return difficultyHard
	}
}
