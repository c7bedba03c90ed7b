// Package reconcile merges the static catalog with live session records
// into the rows a view displays.
package reconcile

import (
	"github.com/sebastianm/provinggrounds/internal/catalog"
	"github.com/sebastianm/provinggrounds/internal/session"
)

// View is one catalog entry decorated with its session state.
type View struct {
	catalog.Environment
	Status        session.Status
	ContainerID   string
	Address       string
	TimeRemaining string
	Owner         string
}

// Materialize decorates every catalog entry, in catalog order, with its
// session. Entries without a record are stopped. Records for ids missing
// from the catalog are ignored.
func Materialize(envs []catalog.Environment, snapshot map[int]session.Session) []View {
	views := make([]View, len(envs))
	for i, e := range envs {
		v := View{Environment: e, Status: session.StatusStopped}
		if s, ok := snapshot[e.ID]; ok {
			v.Status = s.Status
			v.Owner = s.Owner
			if s.HasContainer() {
				v.ContainerID = s.ContainerID
				v.Address = s.Address
				v.TimeRemaining = s.TimeRemaining
			}
		}
		views[i] = v
	}
	return views
}

// Summary holds the dashboard counters.
type Summary struct {
	Total     int
	Active    int // running
	Available int // stopped
	Starting  int
	Stopping  int
}

func Summarize(views []View) Summary {
	sum := Summary{Total: len(views)}
	for _, v := range views {
		switch v.Status {
		case session.StatusRunning:
			sum.Active++
		case session.StatusStopped:
			sum.Available++
		case session.StatusStarting:
			sum.Starting++
		case session.StatusStopping:
			sum.Stopping++
		}
	}
	return sum
}
