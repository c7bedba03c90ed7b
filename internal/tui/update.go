package tui

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/sebastianm/provinggrounds/internal/lifecycle"
	"github.com/sebastianm/provinggrounds/internal/session"
)

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case viewsMsg:
		m.views = msg
		if m.cursor >= len(m.views) {
			m.cursor = max(len(m.views)-1, 0)
		}
		return m, m.feed.next()

	case opResultMsg:
		switch {
		case msg.err == nil && msg.kind == lifecycle.KindStart:
			m.message, m.isError = fmt.Sprintf("%s is running", msg.name), false
		case msg.err == nil:
			m.message, m.isError = fmt.Sprintf("%s stopped", msg.name), false
		case lifecycle.IsPolicy(msg.err):
			m.message, m.isError = fmt.Sprintf("%s: %v", msg.name, msg.err), false
		case errors.Is(msg.err, lifecycle.ErrProvisionFailed):
			m.message, m.isError = fmt.Sprintf("Failed to start %s: %v", msg.name, msg.err), true
		default:
			m.message, m.isError = fmt.Sprintf("Failed to %s %s: %v", msg.kind, msg.name, msg.err), true
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.views)-1 {
			m.cursor++
		}

	case "enter", "s":
		v, ok := m.selected()
		if !ok {
			return m, nil
		}
		if v.Status != session.StatusStopped {
			m.message, m.isError = fmt.Sprintf("%s is already %s", v.Name, v.Status), false
			return m, nil
		}
		m.message, m.isError = fmt.Sprintf("Starting %s...", v.Name), false
		return m, m.runOp(lifecycle.KindStart, v)

	case "x":
		v, ok := m.selected()
		if !ok {
			return m, nil
		}
		if v.Status != session.StatusRunning {
			m.message, m.isError = fmt.Sprintf("%s is not running", v.Name), false
			return m, nil
		}
		m.message, m.isError = fmt.Sprintf("Stopping %s...", v.Name), false
		return m, m.runOp(lifecycle.KindStop, v)
	}
	return m, nil
}
