// Package lifecycle sequences the start and stop of labs.
//
// A start writes a starting record, provisions a container in the background
// and then writes the running record. A stop writes stopping, deprovisions
// and removes the record. Each failure has exactly one rollback:
//
//	provision fails          -> record removed
//	running write fails      -> container deprovisioned, record removed
//	deprovision fails        -> previous running record restored
//
// Nothing is retried. The store, not this controller, is the source of
// truth; every decision re-reads it first.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sebastianm/provinggrounds/internal/auth"
	"github.com/sebastianm/provinggrounds/internal/catalog"
	"github.com/sebastianm/provinggrounds/internal/controlplane"
	"github.com/sebastianm/provinggrounds/internal/metrics"
	"github.com/sebastianm/provinggrounds/internal/session"
)

const (
	defaultCallTimeout  = 30 * time.Second
	defaultRentalWindow = 4 * time.Hour
)

type Options struct {
	Store  session.Store
	Client controlplane.Client
	// Catalog restricts which ids may be started. Nil accepts any id.
	Catalog []catalog.Environment
	// CallTimeout bounds every control-plane call. A call that runs out of
	// time is a failure and is rolled back.
	CallTimeout  time.Duration
	RentalWindow time.Duration
	Clock        clockwork.Clock
	Log          *slog.Logger
}

type Controller struct {
	store         session.Store
	client        controlplane.Client
	known         map[int]struct{}
	callTimeout   time.Duration
	staleAfter    time.Duration
	timeRemaining string
	clock         clockwork.Clock
	log           *slog.Logger
	tracer        trace.Tracer

	mu       sync.Mutex
	inflight map[int]*Operation
	wg       sync.WaitGroup
}

func New(opts Options) *Controller {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.RentalWindow <= 0 {
		opts.RentalWindow = defaultRentalWindow
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	var known map[int]struct{}
	if opts.Catalog != nil {
		known = make(map[int]struct{}, len(opts.Catalog))
		for _, e := range opts.Catalog {
			known[e.ID] = struct{}{}
		}
	}

	return &Controller{
		store:         opts.Store,
		client:        opts.Client,
		known:         known,
		callTimeout:   opts.CallTimeout,
		staleAfter:    2 * opts.CallTimeout,
		timeRemaining: FormatRemaining(opts.RentalWindow),
		clock:         opts.Clock,
		log:           opts.Log.With("component", "lifecycle"),
		tracer:        otel.Tracer("github.com/sebastianm/provinggrounds/internal/lifecycle"),
		inflight:      make(map[int]*Operation),
	}
}

// FormatRemaining renders a rental window the way it is shown next to a
// running lab, e.g. "4h 0m".
func FormatRemaining(d time.Duration) string {
	d = d.Truncate(time.Minute)
	return fmt.Sprintf("%dh %dm", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Start requests a lab for environmentID. The returned Operation completes
// when the control plane has answered and the store reflects the outcome.
// The owner is taken from the subject in ctx.
//
// Cancelling ctx does not cancel the provisioning call.
func (c *Controller) Start(ctx context.Context, environmentID int) (*Operation, error) {
	if err := c.checkKnown(environmentID); err != nil {
		return nil, err
	}

	op, joined, err := c.reserve(KindStart, environmentID)
	if joined || err != nil {
		return op, err
	}

	current, exists, err := c.store.Get(ctx, environmentID)
	if err != nil {
		return nil, c.reject(op, fmt.Errorf("reading session %d: %w", environmentID, err))
	}
	if exists {
		switch {
		case current.HasContainer():
			return nil, c.reject(op, ErrAlreadyActive)
		case !c.stale(current):
			return nil, c.reject(op, ErrOperationInProgress)
		default:
			c.log.Warn("reclaiming orphaned starting record", "environment_id", environmentID, "updated_at", current.UpdatedAt)
		}
	}

	owner := auth.SubjectFrom(ctx)
	starting := session.Session{
		EnvironmentID: environmentID,
		Status:        session.StatusStarting,
		Owner:         owner,
		UpdatedAt:     c.now(),
	}
	if err := c.store.Put(ctx, starting); err != nil {
		return nil, c.reject(op, fmt.Errorf("writing starting record: %w", err))
	}
	metrics.LabTransitionsTotal.WithLabelValues(string(session.StatusStarting)).Inc()
	c.log.Info("lab starting", "environment_id", environmentID, "owner", owner)

	c.wg.Add(1)
	go c.provision(context.WithoutCancel(ctx), op, owner)
	return op, nil
}

// Stop tears down the lab for environmentID. Only a running lab can be
// stopped; a lab that is still starting is rejected, not queued.
//
// Cancelling ctx does not cancel the deprovisioning call.
func (c *Controller) Stop(ctx context.Context, environmentID int) (*Operation, error) {
	if err := c.checkKnown(environmentID); err != nil {
		return nil, err
	}

	op, joined, err := c.reserve(KindStop, environmentID)
	if joined || err != nil {
		return op, err
	}

	current, exists, err := c.store.Get(ctx, environmentID)
	if err != nil {
		return nil, c.reject(op, fmt.Errorf("reading session %d: %w", environmentID, err))
	}
	retry := false
	switch {
	case !exists:
		return nil, c.reject(op, ErrNotActive)
	case current.Status == session.StatusStarting:
		return nil, c.reject(op, fmt.Errorf("%w: %w", ErrNotActive, ErrOperationInProgress))
	case current.Status == session.StatusStopping && !c.stale(current):
		return nil, c.reject(op, ErrOperationInProgress)
	case current.Status == session.StatusStopping:
		retry = true
		c.log.Warn("retrying orphaned stopping record", "environment_id", environmentID, "container", current.ContainerID)
	}

	previous := current
	previous.Status = session.StatusRunning

	stopping := current
	stopping.Status = session.StatusStopping
	stopping.UpdatedAt = c.now()
	if err := c.store.Put(ctx, stopping); err != nil {
		return nil, c.reject(op, fmt.Errorf("writing stopping record: %w", err))
	}
	metrics.LabTransitionsTotal.WithLabelValues(string(session.StatusStopping)).Inc()
	c.log.Info("lab stopping", "environment_id", environmentID, "container", current.ContainerID)

	c.wg.Add(1)
	go c.deprovision(context.WithoutCancel(ctx), op, previous, retry)
	return op, nil
}

// Accounts lists the practice accounts of a running lab.
func (c *Controller) Accounts(ctx context.Context, environmentID int) ([]controlplane.Account, error) {
	if err := c.checkKnown(environmentID); err != nil {
		return nil, err
	}
	current, exists, err := c.store.Get(ctx, environmentID)
	if err != nil {
		return nil, fmt.Errorf("reading session %d: %w", environmentID, err)
	}
	if !exists || current.Status != session.StatusRunning {
		return nil, ErrNotActive
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	accounts, err := c.client.Accounts(callCtx, current.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts of %s: %w", current.ContainerID, err)
	}
	return accounts, nil
}

// Close waits for in-flight operations to finish or ctx to end.
func (c *Controller) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) provision(ctx context.Context, op *Operation, owner string) {
	defer c.wg.Done()
	id := op.EnvironmentID()

	ctx, span := c.tracer.Start(ctx, "lifecycle.provision", trace.WithAttributes(attribute.Int("environment_id", id)))
	defer span.End()
	metrics.LabOperationsInFlight.Inc()
	defer metrics.LabOperationsInFlight.Dec()
	began := c.clock.Now()

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	p, err := c.client.Provision(callCtx, controlplane.ProvisionRequest{EnvironmentID: id, Owner: owner})
	cancel()
	metrics.LabOperationDuration.WithLabelValues(string(KindStart)).Observe(c.clock.Since(began).Seconds())

	if err != nil {
		failure := fmt.Errorf("%w: %w", ErrProvisionFailed, err)
		if rmErr := c.store.Remove(ctx, id); rmErr != nil {
			c.log.Error("rollback of starting record failed", "environment_id", id, "error", rmErr)
			failure = errors.Join(failure, rmErr)
		} else {
			metrics.LabTransitionsTotal.WithLabelValues(string(session.StatusStopped)).Inc()
		}
		c.fail(span, op, failure)
		return
	}
	span.SetAttributes(attribute.String("container", p.ContainerID))

	running := session.Session{
		EnvironmentID: id,
		Status:        session.StatusRunning,
		ContainerID:   p.ContainerID,
		Address:       p.Address,
		TimeRemaining: c.timeRemaining,
		Owner:         owner,
		UpdatedAt:     c.now(),
	}
	if err := c.store.Put(ctx, running); err != nil {
		c.fail(span, op, c.compensate(ctx, running, err))
		return
	}
	metrics.LabTransitionsTotal.WithLabelValues(string(session.StatusRunning)).Inc()

	c.log.Info("lab running", "environment_id", id, "container", p.ContainerID, "address", p.Address)
	c.succeed(op, running)
}

// compensate undoes a provision whose running record could not be saved.
func (c *Controller) compensate(ctx context.Context, running session.Session, putErr error) error {
	metrics.LabCompensationsTotal.Inc()
	failure := fmt.Errorf("saving running record: %w", putErr)
	if !errors.Is(putErr, session.ErrPersistence) {
		failure = fmt.Errorf("%w: %w", session.ErrPersistence, failure)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if err := c.client.Deprovision(callCtx, running.ContainerID); err != nil {
		c.log.Error("compensating deprovision failed, container leaked", "environment_id", running.EnvironmentID, "container", running.ContainerID, "error", err)
		failure = errors.Join(failure, err)
	}
	if err := c.store.Remove(ctx, running.EnvironmentID); err != nil {
		c.log.Error("rollback of starting record failed", "environment_id", running.EnvironmentID, "error", err)
		failure = errors.Join(failure, err)
	}
	return failure
}

// deprovision tears down previous.ContainerID. When retry is set the record
// was an orphaned stopping record whose first teardown may already have
// succeeded: a rejection then means the container is gone, and any other
// failure leaves the record stopping because the container state is unknown.
func (c *Controller) deprovision(ctx context.Context, op *Operation, previous session.Session, retry bool) {
	defer c.wg.Done()
	id := op.EnvironmentID()

	ctx, span := c.tracer.Start(ctx, "lifecycle.deprovision", trace.WithAttributes(
		attribute.Int("environment_id", id),
		attribute.String("container", previous.ContainerID),
	))
	defer span.End()
	metrics.LabOperationsInFlight.Inc()
	defer metrics.LabOperationsInFlight.Dec()
	began := c.clock.Now()

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	err := c.client.Deprovision(callCtx, previous.ContainerID)
	cancel()
	metrics.LabOperationDuration.WithLabelValues(string(KindStop)).Observe(c.clock.Since(began).Seconds())

	switch {
	case err != nil && retry && errors.Is(err, controlplane.ErrRejected):
		c.log.Warn("container already gone, clearing orphaned record", "environment_id", id, "container", previous.ContainerID, "error", err)
		err = nil
	case err != nil && retry:
		c.log.Error("retried deprovision failed, record left stopping", "environment_id", id, "container", previous.ContainerID, "error", err)
		c.fail(span, op, fmt.Errorf("%w: %w", ErrDeprovisionFailed, err))
		return
	}

	if err != nil {
		failure := fmt.Errorf("%w: %w", ErrDeprovisionFailed, err)
		restored := previous
		restored.UpdatedAt = c.now()
		if putErr := c.store.Put(ctx, restored); putErr != nil {
			c.log.Error("restoring running record failed", "environment_id", id, "error", putErr)
			failure = errors.Join(failure, putErr)
		} else {
			metrics.LabTransitionsTotal.WithLabelValues(string(session.StatusRunning)).Inc()
		}
		c.fail(span, op, failure)
		return
	}

	if err := c.store.Remove(ctx, id); err != nil {
		// The container is gone but the stopping record stays behind. Once
		// stale, a later stop retries and clears it.
		c.log.Error("removing stopped record failed", "environment_id", id, "error", err)
		c.fail(span, op, fmt.Errorf("removing record after deprovision: %w", err))
		return
	}
	metrics.LabTransitionsTotal.WithLabelValues(string(session.StatusStopped)).Inc()

	c.log.Info("lab stopped", "environment_id", id, "container", previous.ContainerID)
	c.succeed(op, session.Session{EnvironmentID: id, Status: session.StatusStopped})
}

// reserve claims the in-flight slot for environmentID. A second request of
// the same kind joins the existing operation; a request of the other kind is
// answered with the policy error for the status the lab is in.
func (c *Controller) reserve(kind Kind, environmentID int) (op *Operation, joined bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.inflight[environmentID]; ok {
		if existing.Kind() == kind {
			return existing, true, nil
		}
		metrics.LabOperationsTotal.WithLabelValues(string(kind), "rejected").Inc()
		if kind == KindStart {
			// The lab is stopping, so it still holds a container.
			return nil, false, ErrAlreadyActive
		}
		return nil, false, fmt.Errorf("%w: %w", ErrNotActive, ErrOperationInProgress)
	}

	op = newOperation(kind, environmentID)
	c.inflight[environmentID] = op
	return op, false, nil
}

// reject releases a reservation that did not turn into a call. Anyone who
// joined it in the meantime sees the same error.
func (c *Controller) reject(op *Operation, err error) error {
	c.release(op)
	result := "rejected"
	if !IsPolicy(err) {
		result = "failure"
	}
	metrics.LabOperationsTotal.WithLabelValues(string(op.Kind()), result).Inc()
	op.finish(session.Session{}, err)
	return err
}

func (c *Controller) succeed(op *Operation, result session.Session) {
	c.release(op)
	metrics.LabOperationsTotal.WithLabelValues(string(op.Kind()), "success").Inc()
	op.finish(result, nil)
}

func (c *Controller) fail(span trace.Span, op *Operation, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.release(op)
	metrics.LabOperationsTotal.WithLabelValues(string(op.Kind()), "failure").Inc()
	c.log.Warn("lab operation failed", "kind", op.Kind(), "environment_id", op.EnvironmentID(), "error", err)
	op.finish(session.Session{}, err)
}

func (c *Controller) release(op *Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[op.EnvironmentID()] == op {
		delete(c.inflight, op.EnvironmentID())
	}
}

func (c *Controller) checkKnown(environmentID int) error {
	if c.known == nil {
		return nil
	}
	if _, ok := c.known[environmentID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEnvironment, environmentID)
	}
	return nil
}

// stale reports whether a transient record was left behind by an observer
// that died mid-operation.
func (c *Controller) stale(s session.Session) bool {
	return c.clock.Since(s.UpdatedAt) > c.staleAfter
}

func (c *Controller) now() time.Time {
	return c.clock.Now().UTC().Truncate(time.Millisecond)
}
