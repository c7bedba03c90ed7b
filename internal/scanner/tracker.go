package scanner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sebastianm/provinggrounds/internal/reconcile"
	"github.com/sebastianm/provinggrounds/internal/session"
)

// Result is the outcome of one scan. An empty Address means no lab is
// running and nothing was scanned.
type Result struct {
	Address     string
	URL         string
	Deployments []Deployment
	Err         error
}

// Target picks the lab to scan: the first running view with an address.
func Target(views []reconcile.View) (string, bool) {
	for _, v := range views {
		if v.Status == session.StatusRunning && v.Address != "" {
			return v.Address, true
		}
	}
	return "", false
}

type TrackerOptions struct {
	Scanner *Scanner
	// OnResult receives every finished scan, from the Run goroutine.
	OnResult func(Result)
	Log      *slog.Logger
}

// Tracker rescans whenever the running lab changes. Feed it views through
// Update, typically from a reconcile.Observer.
//
// A target change cancels the scan in flight; its result is dropped.
type Tracker struct {
	scanner  *Scanner
	onResult func(Result)
	log      *slog.Logger
	wake     chan struct{}

	mu      sync.Mutex
	target  string
	seen    bool
	pending bool
	cancel  context.CancelFunc
}

func NewTracker(opts TrackerOptions) *Tracker {
	if opts.Scanner == nil {
		opts.Scanner = New(Options{Log: opts.Log})
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.OnResult == nil {
		opts.OnResult = func(Result) {}
	}
	return &Tracker{
		scanner:  opts.Scanner,
		onResult: opts.OnResult,
		log:      opts.Log.With("component", "scanner"),
		wake:     make(chan struct{}, 1),
	}
}

// Update records the latest views and schedules a scan if the target moved.
func (t *Tracker) Update(views []reconcile.View) {
	addr, _ := Target(views)

	t.mu.Lock()
	if t.seen && addr == t.target {
		t.mu.Unlock()
		return
	}
	t.seen = true
	t.target = addr
	t.pending = true
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	t.signal()
}

// Refresh rescans the current target.
func (t *Tracker) Refresh() {
	t.mu.Lock()
	if !t.seen {
		t.mu.Unlock()
		return
	}
	t.pending = true
	t.mu.Unlock()

	t.signal()
}

func (t *Tracker) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run performs scheduled scans until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.wake:
		}
		for t.scanPending(ctx) {
		}
	}
}

// scanPending runs at most one scan and reports whether another one is due.
func (t *Tracker) scanPending(ctx context.Context) bool {
	t.mu.Lock()
	if !t.pending || ctx.Err() != nil {
		t.mu.Unlock()
		return false
	}
	t.pending = false
	addr := t.target
	scanCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	if addr == "" {
		t.onResult(Result{})
		return t.isPending()
	}

	res := Result{Address: addr, URL: t.scanner.URL(addr)}
	res.Deployments, res.Err = t.scanner.Scan(scanCtx, addr)
	if scanCtx.Err() != nil {
		// Superseded by a newer target or shut down.
		return t.isPending()
	}
	if res.Err != nil {
		t.log.Warn("contract scan failed", "url", res.URL, "error", res.Err)
	}
	t.onResult(res)
	return t.isPending()
}

func (t *Tracker) isPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
