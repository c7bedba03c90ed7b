package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianm/provinggrounds/internal/catalog"
	"github.com/sebastianm/provinggrounds/internal/controlplane"
	"github.com/sebastianm/provinggrounds/internal/lifecycle"
	"github.com/sebastianm/provinggrounds/internal/session"
)

type staticLoader struct {
	envs []catalog.Environment
	err  error
}

func (l staticLoader) Load(context.Context) ([]catalog.Environment, error) {
	return l.envs, l.err
}

// blockingClient holds every provision until release is closed.
type blockingClient struct {
	release chan struct{}
}

func (c blockingClient) Provision(ctx context.Context, req controlplane.ProvisionRequest) (controlplane.Provisioned, error) {
	select {
	case <-c.release:
		return controlplane.Provisioned{ContainerID: "c-2", Address: "10.0.0.2"}, nil
	case <-ctx.Done():
		return controlplane.Provisioned{}, controlplane.ErrUnavailable
	}
}

func (blockingClient) Deprovision(context.Context, string) error { return nil }

func (blockingClient) Accounts(context.Context, string) ([]controlplane.Account, error) {
	return nil, nil
}

func collect(t *testing.T) (func([]View), <-chan []View) {
	t.Helper()
	ch := make(chan []View, 64)
	return func(v []View) { ch <- v }, ch
}

// awaitStatus reads updates until environment id reaches want.
func awaitStatus(t *testing.T, updates <-chan []View, id int, want session.Status) []View {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case views := <-updates:
			for _, v := range views {
				if v.ID == id && v.Status == want {
					return views
				}
			}
		case <-timeout:
			t.Fatalf("environment %d never reached %s", id, want)
			return nil
		}
	}
}

func runObserver(t *testing.T, o *Observer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestObserver_CatalogFailureIsFatal(t *testing.T) {
	o := NewObserver(ObserverOptions{
		Loader: staticLoader{err: catalog.ErrUnavailable},
		Store:  session.NewMemoryStore(),
	})
	err := o.Run(context.Background())
	assert.ErrorIs(t, err, catalog.ErrUnavailable)
	assert.Nil(t, o.Latest())
}

func TestObserver_InitialAndChange(t *testing.T) {
	store := session.NewMemoryStore()
	onUpdate, updates := collect(t)
	o := NewObserver(ObserverOptions{
		Loader:   staticLoader{envs: envs},
		Store:    store,
		OnUpdate: onUpdate,
		Log:      slog.Default(),
	})
	runObserver(t, o)

	first := awaitStatus(t, updates, 1, session.StatusStopped)
	assert.Len(t, first, 3)

	require.NoError(t, store.Put(context.Background(), session.Session{
		EnvironmentID: 1, Status: session.StatusStarting, UpdatedAt: time.Now(),
	}))
	awaitStatus(t, updates, 1, session.StatusStarting)
	assert.Equal(t, session.StatusStarting, o.Latest()[0].Status)
}

func TestObserver_ResyncTicker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	onUpdate, updates := collect(t)
	store := session.NewMemoryStore()
	o := NewObserver(ObserverOptions{
		Loader:   staticLoader{envs: envs},
		Store:    &silentStore{Store: store},
		OnUpdate: onUpdate,
		Resync:   time.Second,
		Clock:    clock,
	})
	runObserver(t, o)
	awaitStatus(t, updates, 3, session.StatusStopped)

	require.NoError(t, store.Put(context.Background(), session.Session{
		EnvironmentID: 3, Status: session.StatusStarting, UpdatedAt: time.Now(),
	}))
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)
	awaitStatus(t, updates, 3, session.StatusStarting)
}

// silentStore drops subscriptions so only the resync ticker can refresh.
type silentStore struct {
	session.Store
}

func (silentStore) Subscribe(func(session.Change)) func() { return func() {} }

// failingStore fails every read.
type failingStore struct {
	session.Store
}

func (failingStore) GetAll(context.Context) (map[int]session.Session, error) {
	return nil, errors.Join(session.ErrPersistence, errors.New("disk gone"))
}

func TestObserver_StoreFailureKeepsView(t *testing.T) {
	onUpdate, updates := collect(t)
	o := NewObserver(ObserverOptions{
		Loader:   staticLoader{envs: envs},
		Store:    failingStore{Store: session.NewMemoryStore()},
		OnUpdate: onUpdate,
	})
	runObserver(t, o)

	o.Notify()
	select {
	case <-updates:
		t.Fatal("no view may be delivered from a failed read")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Nil(t, o.Latest())
}

func TestTwoObserversShareStore(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	client := blockingClient{release: make(chan struct{})}

	ctrlA := lifecycle.New(lifecycle.Options{Store: store, Client: client, Catalog: envs, CallTimeout: 5 * time.Second})
	ctrlB := lifecycle.New(lifecycle.Options{Store: store, Client: client, Catalog: envs, CallTimeout: 5 * time.Second})

	onUpdateB, updatesB := collect(t)
	observerB := NewObserver(ObserverOptions{
		Loader:   staticLoader{envs: envs},
		Store:    store,
		OnUpdate: onUpdateB,
	})
	runObserver(t, observerB)
	awaitStatus(t, updatesB, 2, session.StatusStopped)

	op, err := ctrlA.Start(ctx, 2)
	require.NoError(t, err)

	views := awaitStatus(t, updatesB, 2, session.StatusStarting)
	assert.Equal(t, session.StatusStopped, views[0].Status)

	// B must not start what A is already starting.
	_, err = ctrlB.Start(ctx, 2)
	assert.ErrorIs(t, err, lifecycle.ErrOperationInProgress)

	close(client.release)
	_, err = op.Wait(ctx)
	require.NoError(t, err)

	views = awaitStatus(t, updatesB, 2, session.StatusRunning)
	assert.Equal(t, "10.0.0.2", views[1].Address)
	assert.Equal(t, "4h 0m", views[1].TimeRemaining)

	require.NoError(t, ctrlA.Close(ctx))
	require.NoError(t, ctrlB.Close(ctx))
}
