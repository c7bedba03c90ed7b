package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/sebastianm/provinggrounds/internal/auth"
	"github.com/sebastianm/provinggrounds/internal/catalog"
	"github.com/sebastianm/provinggrounds/internal/config"
	"github.com/sebastianm/provinggrounds/internal/controlplane"
	"github.com/sebastianm/provinggrounds/internal/lifecycle"
	"github.com/sebastianm/provinggrounds/internal/session"
	_ "github.com/sebastianm/provinggrounds/internal/session/redisstore"
	_ "github.com/sebastianm/provinggrounds/internal/session/store"
	"github.com/sebastianm/provinggrounds/internal/telemetry"
)

// closeTimeout bounds how long labctl waits for in-flight operations to
// settle on exit.
const closeTimeout = 2 * time.Minute

type rootOptions struct {
	configPath string
	token      string
}

// app holds everything a command needs. Parts are opened on demand so that
// read-only commands never touch the store or the control plane.
type app struct {
	opts *rootOptions
	cfg  *config.Config
	// log has no component attribute; subsystems add their own.
	log      *slog.Logger
	shutdown func(context.Context) error

	catalog []catalog.Environment
	store   session.Medium
	ctrl    *lifecycle.Controller
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(config.Path(opts.configPath))
	if err != nil {
		return nil, err
	}

	log := telemetry.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	shutdown, err := telemetry.Setup(ctx, "labctl", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}

	return &app{
		opts:     opts,
		cfg:      cfg,
		log:      log,
		shutdown: shutdown,
	}, nil
}

// authenticate verifies the --token value and returns ctx carrying the
// subject. Without an auth secret configured the token is used as-is.
func (a *app) authenticate(ctx context.Context) (context.Context, error) {
	verifier, err := auth.NewVerifierFromEnv()
	if err != nil {
		return nil, err
	}
	subject, err := verifier.Verify(ctx, a.opts.token)
	if err != nil {
		return nil, err
	}
	return auth.WithSubject(ctx, subject), nil
}

func (a *app) loadCatalog(ctx context.Context) ([]catalog.Environment, error) {
	if a.catalog != nil {
		return a.catalog, nil
	}
	envs, err := catalog.NewLoader(a.cfg.Catalog.Source).Load(ctx)
	if err != nil {
		return nil, err
	}
	a.catalog = envs
	return envs, nil
}

func (a *app) openStore(ctx context.Context) (session.Medium, error) {
	if a.store != nil {
		return a.store, nil
	}
	m, err := session.OpenMedium(ctx, a.cfg.Store, a.log)
	if err != nil {
		return nil, err
	}
	a.store = m
	return m, nil
}

// controller wires the lifecycle controller to the store and to the control
// plane behind its circuit breaker.
func (a *app) controller(ctx context.Context) (*lifecycle.Controller, error) {
	if a.ctrl != nil {
		return a.ctrl, nil
	}
	envs, err := a.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	cp := a.cfg.ControlPlane
	client := controlplane.NewBreaker(
		controlplane.NewConnectClient(cp.URL, cp.Secret, cp.Timeout),
		controlplane.BreakerSettings{
			MaxFailures: cp.Breaker.MaxFailures,
			OpenTimeout: cp.Breaker.OpenTimeout,
		},
		a.log,
	)

	a.ctrl = lifecycle.New(lifecycle.Options{
		Store:        store,
		Client:       client,
		Catalog:      envs,
		CallTimeout:  cp.Timeout,
		RentalWindow: a.cfg.Lab.RentalWindow,
		Log:          a.log,
	})
	return a.ctrl, nil
}

// close lets in-flight operations finish their rollback, then releases the
// store and flushes traces.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if a.ctrl != nil {
		if err := a.ctrl.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("waiting for operations: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.log.Warn("flushing traces", "error", err)
		}
	}
	return errors.Join(errs...)
}

func parseEnvironmentID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid environment id %q", arg)
	}
	return id, nil
}
