package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sebastianm/provinggrounds/internal/catalog"
	"github.com/sebastianm/provinggrounds/internal/session"
)

const defaultResync = 5 * time.Second

type ObserverOptions struct {
	Loader catalog.Loader
	Store  session.Store
	// OnUpdate receives every freshly materialized view, from the Run
	// goroutine.
	OnUpdate func([]View)
	// Resync re-reads the store on this interval even without notifications.
	Resync time.Duration
	Clock  clockwork.Clock
	Log    *slog.Logger
}

// Observer keeps one view in sync with the store. It never writes.
//
// It materializes once on start and again whenever the store announces a
// change or the resync ticker fires. Bursts of notifications are coalesced
// into a single pass.
type Observer struct {
	loader   catalog.Loader
	store    session.Store
	onUpdate func([]View)
	resync   time.Duration
	clock    clockwork.Clock
	log      *slog.Logger
	notify   chan struct{}

	mu     sync.RWMutex
	latest []View
}

func NewObserver(opts ObserverOptions) *Observer {
	if opts.Resync <= 0 {
		opts.Resync = defaultResync
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.OnUpdate == nil {
		opts.OnUpdate = func([]View) {}
	}
	return &Observer{
		loader:   opts.Loader,
		store:    opts.Store,
		onUpdate: opts.OnUpdate,
		resync:   opts.Resync,
		clock:    opts.Clock,
		log:      opts.Log.With("component", "observer"),
		notify:   make(chan struct{}, 1),
	}
}

// Notify wakes the observer to re-materialize immediately.
// Non-blocking; coalesces multiple signals into one pass.
func (o *Observer) Notify() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Run loads the catalog and keeps the view current until ctx is cancelled.
// A catalog that cannot be loaded is fatal for the view and returned as is.
func (o *Observer) Run(ctx context.Context) error {
	envs, err := o.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	unsubscribe := o.store.Subscribe(func(session.Change) { o.Notify() })
	defer unsubscribe()

	ticker := o.clock.NewTicker(o.resync)
	defer ticker.Stop()

	o.refresh(ctx, envs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.notify:
		case <-ticker.Chan():
		}
		o.refresh(ctx, envs)
	}
}

// Latest returns the last materialized view, or nil before the first pass.
func (o *Observer) Latest() []View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}

func (o *Observer) refresh(ctx context.Context, envs []catalog.Environment) {
	snapshot, err := o.store.GetAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			o.log.Error("reading sessions failed, keeping previous view", "error", err)
		}
		return
	}

	views := Materialize(envs, snapshot)
	o.mu.Lock()
	o.latest = views
	o.mu.Unlock()

	o.onUpdate(views)
}
