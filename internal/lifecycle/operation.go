package lifecycle

import (
	"context"
	"sync"

	"github.com/sebastianm/provinggrounds/internal/session"
)

type Kind string

const (
	KindStart Kind = "start"
	KindStop  Kind = "stop"
)

// Operation is an accepted start or stop whose control-plane call may still
// be running. Callers that start or stop a lab already being started or
// stopped by the same controller receive the same Operation.
type Operation struct {
	kind          Kind
	environmentID int
	done          chan struct{}

	once   sync.Once
	result session.Session
	err    error
}

func newOperation(kind Kind, environmentID int) *Operation {
	return &Operation{kind: kind, environmentID: environmentID, done: make(chan struct{})}
}

func (o *Operation) Kind() Kind            { return o.kind }
func (o *Operation) EnvironmentID() int    { return o.environmentID }
func (o *Operation) Done() <-chan struct{} { return o.done }

// Err returns the outcome once Done is closed, and nil before.
func (o *Operation) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Wait blocks until the operation finishes or ctx ends. On success it returns
// the record the operation left behind: running after a start, a stopped
// placeholder after a stop.
func (o *Operation) Wait(ctx context.Context) (session.Session, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return session.Session{}, ctx.Err()
	}
}

func (o *Operation) finish(result session.Session, err error) {
	o.once.Do(func() {
		o.result = result
		o.err = err
		close(o.done)
	})
}
