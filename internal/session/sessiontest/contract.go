// Package sessiontest holds the behavioural checks every session medium must
// pass.
package sessiontest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianm/provinggrounds/internal/session"
)

// Running returns a valid running record for id.
func Running(id int) session.Session {
	return session.Session{
		EnvironmentID: id,
		Status:        session.StatusRunning,
		ContainerID:   "lab-c",
		Address:       "10.10.11.100",
		TimeRemaining: "4h 0m",
		Owner:         "0xabc",
		UpdatedAt:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Starting returns a valid starting record for id.
func Starting(id int) session.Session {
	return session.Session{
		EnvironmentID: id,
		Status:        session.StatusStarting,
		UpdatedAt:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Recorder collects the changes delivered to a subscriber.
type Recorder struct {
	mu      sync.Mutex
	changes []session.Change
}

func (r *Recorder) Record(c session.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *Recorder) Changes() []session.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Change(nil), r.changes...)
}

// RunContract exercises the Store contract against stores built by newStore.
// Each subtest gets a fresh, empty store.
func RunContract(t *testing.T, newStore func(t *testing.T) session.Store) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		st := newStore(t)
		all, err := st.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		_, ok, err := st.Get(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put then get", func(t *testing.T) {
		st := newStore(t)
		want := Running(3)
		require.NoError(t, st.Put(ctx, want))

		got, ok, err := st.Get(ctx, 3)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, want.ContainerID, got.ContainerID)
		assert.Equal(t, want.Address, got.Address)
		assert.Equal(t, want.TimeRemaining, got.TimeRemaining)
		assert.Equal(t, want.Owner, got.Owner)
		assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at %v != %v", got.UpdatedAt, want.UpdatedAt)
	})

	t.Run("put upserts", func(t *testing.T) {
		st := newStore(t)
		require.NoError(t, st.Put(ctx, Starting(5)))
		require.NoError(t, st.Put(ctx, Running(5)))

		all, err := st.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, session.StatusRunning, all[5].Status)
	})

	t.Run("remove deletes and tolerates absent", func(t *testing.T) {
		st := newStore(t)
		require.NoError(t, st.Put(ctx, Running(2)))
		require.NoError(t, st.Remove(ctx, 2))
		require.NoError(t, st.Remove(ctx, 2))

		_, ok, err := st.Get(ctx, 2)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid record rejected", func(t *testing.T) {
		st := newStore(t)
		bad := Running(4)
		bad.ContainerID = ""
		err := st.Put(ctx, bad)
		require.ErrorIs(t, err, session.ErrInvalidRecord)

		stopped := session.Session{EnvironmentID: 4, Status: session.StatusStopped}
		require.ErrorIs(t, st.Put(ctx, stopped), session.ErrInvalidRecord)

		all, err := st.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("every write notifies once", func(t *testing.T) {
		st := newStore(t)
		var rec Recorder
		unsub := st.Subscribe(rec.Record)

		require.NoError(t, st.Put(ctx, Starting(1)))
		require.NoError(t, st.Put(ctx, Running(1)))
		require.NoError(t, st.Remove(ctx, 1))
		require.NoError(t, st.Remove(ctx, 9))

		assert.Equal(t, []session.Change{
			{EnvironmentID: 1, Kind: session.ChangePut},
			{EnvironmentID: 1, Kind: session.ChangePut},
			{EnvironmentID: 1, Kind: session.ChangeRemove},
			{EnvironmentID: 9, Kind: session.ChangeRemove},
		}, rec.Changes())

		unsub()
		require.NoError(t, st.Put(ctx, Starting(2)))
		assert.Len(t, rec.Changes(), 4)
	})

	t.Run("failed write does not notify", func(t *testing.T) {
		st := newStore(t)
		var rec Recorder
		defer st.Subscribe(rec.Record)()

		_ = st.Put(ctx, session.Session{EnvironmentID: 1, Status: "bogus"})
		assert.Empty(t, rec.Changes())
	})
}
