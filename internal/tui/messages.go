package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sebastianm/provinggrounds/internal/lifecycle"
	"github.com/sebastianm/provinggrounds/internal/reconcile"
)

// viewsMsg carries a freshly materialized view from the observer.
type viewsMsg []reconcile.View

// opResultMsg is sent when a start or stop requested from the view finishes.
type opResultMsg struct {
	environmentID int
	name          string
	kind          lifecycle.Kind
	err           error
}

// Feed hands views from the observer goroutine to the program. Only the
// newest undelivered view is kept.
type Feed struct {
	ch   chan []reconcile.View
	done chan struct{}
	once sync.Once
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan []reconcile.View, 1), done: make(chan struct{})}
}

// Push replaces any undelivered view with views.
func (f *Feed) Push(views []reconcile.View) {
	for {
		select {
		case f.ch <- views:
			return
		case <-f.done:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

// Close releases a pending read. Safe to call more than once.
func (f *Feed) Close() {
	f.once.Do(func() { close(f.done) })
}

func (f *Feed) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case views := <-f.ch:
			return viewsMsg(views)
		case <-f.done:
			return nil
		}
	}
}
