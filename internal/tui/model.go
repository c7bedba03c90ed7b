package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sebastianm/provinggrounds/internal/lifecycle"
	"github.com/sebastianm/provinggrounds/internal/reconcile"
)

// Controller is the part of the lifecycle controller the view drives.
type Controller interface {
	Start(ctx context.Context, environmentID int) (*lifecycle.Operation, error)
	Stop(ctx context.Context, environmentID int) (*lifecycle.Operation, error)
}

// model is the Bubble Tea model for the lab dashboard.
type model struct {
	ctx      context.Context
	ctrl     Controller
	feed     *Feed
	views    []reconcile.View
	cursor   int
	spinner  spinner.Model
	message  string
	isError  bool
	quitting bool
	width    int
}

func newModel(ctx context.Context, ctrl Controller, feed *Feed) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusOther

	return model{
		ctx:     ctx,
		ctrl:    ctrl,
		feed:    feed,
		spinner: sp,
		width:   80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.feed.next(), m.spinner.Tick)
}

// Run shows the dashboard until the user quits. Views pushed to feed are
// rendered as they arrive.
func Run(ctx context.Context, ctrl Controller, feed *Feed) error {
	defer feed.Close()

	p := tea.NewProgram(newModel(ctx, ctrl, feed), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func (m model) selected() (reconcile.View, bool) {
	if m.cursor < 0 || m.cursor >= len(m.views) {
		return reconcile.View{}, false
	}
	return m.views[m.cursor], true
}

// runOp issues a start or stop and waits for it in a command goroutine.
func (m model) runOp(kind lifecycle.Kind, v reconcile.View) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		call := ctrl.Start
		if kind == lifecycle.KindStop {
			call = ctrl.Stop
		}
		op, err := call(ctx, v.ID)
		if err == nil {
			_, err = op.Wait(ctx)
		}
		return opResultMsg{environmentID: v.ID, name: v.Name, kind: kind, err: err}
	}
}

func truncate(s string, n int) string {
	if lipgloss.Width(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
