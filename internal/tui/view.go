package tui

import (
	"fmt"
	"strings"

	"github.com/sebastianm/provinggrounds/internal/reconcile"
	"github.com/sebastianm/provinggrounds/internal/session"
)

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("Proving Grounds"))
	b.WriteString("\n")

	sum := reconcile.Summarize(m.views)
	b.WriteString(statsStyle.Render(fmt.Sprintf(
		"Active Boxes: %d   Available: %d   Starting: %d   Stopping: %d",
		sum.Active, sum.Available, sum.Starting, sum.Stopping)))
	b.WriteString("\n\n")

	if len(m.views) == 0 {
		b.WriteString(emptyStyle.Render("Loading boxes..."))
		b.WriteString("\n")
	}

	for i, v := range m.views {
		b.WriteString(m.renderRow(i, v))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.message != "" {
		if m.isError {
			b.WriteString(errorStyle.Render(m.message))
		} else {
			b.WriteString(messageStyle.Render(m.message))
		}
		b.WriteString("\n")
	}
	b.WriteString(hotkeysStyle.Render("↑/↓ select   s start   x stop   q quit"))
	return b.String()
}

func (m model) renderRow(i int, v reconcile.View) string {
	cursor := "  "
	name := nameStyle.Render(fmt.Sprintf("%-16s", truncate(v.Name, 16)))
	if i == m.cursor {
		cursor = "> "
		name = selectedNameStyle.Render(fmt.Sprintf("%-16s", truncate(v.Name, 16)))
	}

	status := statusStyle(v.Status).Render(fmt.Sprintf("%-9s", v.Status))
	if v.Status == session.StatusStarting || v.Status == session.StatusStopping {
		status = m.spinner.View() + " " + status
	} else {
		status = "  " + status
	}

	row := fmt.Sprintf("%s%s %s %s %s",
		cursor,
		name,
		difficultyStyle(v.Difficulty).Render(fmt.Sprintf("%-6s", v.Difficulty)),
		detailStyle.Render(fmt.Sprintf("%-8s %-10s", truncate(v.OS, 8), truncate(v.Category, 10))),
		status,
	)
	if v.Status == session.StatusRunning || v.Status == session.StatusStopping {
		row += " " + addressStyle.Render(v.Address) + " " + detailStyle.Render(v.TimeRemaining)
	}
	return row
}
