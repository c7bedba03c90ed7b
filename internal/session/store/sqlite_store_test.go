package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianm/provinggrounds/internal/config"
	"github.com/sebastianm/provinggrounds/internal/database"
	"github.com/sebastianm/provinggrounds/internal/session"
	"github.com/sebastianm/provinggrounds/internal/session/sessiontest"
)

// openStore opens a separate connection to path, like a second labctl
// process would.
func openStore(t *testing.T, path string, opts ...Option) *SQLiteStore {
	t.Helper()
	db, err := database.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db, path, opts...)
}

func TestSQLiteStoreContract(t *testing.T) {
	sessiontest.RunContract(t, func(t *testing.T) session.Store {
		return openStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	})
}

func TestSQLiteStore_SharedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	a := openStore(t, path)
	b := openStore(t, path)

	require.NoError(t, a.Put(ctx, sessiontest.Running(7)))

	got, ok, err := b.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lab-c", got.ContainerID)

	require.NoError(t, b.Remove(ctx, 7))
	all, err := a.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLiteStore_DrainSkipsOwnOrigin(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	a := openStore(t, path)
	b := openStore(t, path)

	var rec sessiontest.Recorder
	defer a.Subscribe(rec.Record)()

	require.NoError(t, a.Put(ctx, sessiontest.Starting(1)))
	require.NoError(t, b.Put(ctx, sessiontest.Starting(2)))
	require.NoError(t, b.Remove(ctx, 2))

	require.NoError(t, a.drain(ctx))
	assert.Equal(t, []session.Change{
		{EnvironmentID: 1, Kind: session.ChangePut},
		{EnvironmentID: 2, Kind: session.ChangePut, Remote: true},
		{EnvironmentID: 2, Kind: session.ChangeRemove, Remote: true},
	}, rec.Changes())

	// A second drain has nothing new.
	require.NoError(t, a.drain(ctx))
	assert.Len(t, rec.Changes(), 3)
}

func TestSQLiteStore_WatchDeliversRemoteWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "sessions.db")
	clock := clockwork.NewFakeClock()
	watcher := openStore(t, path, WithClock(clock), WithLogger(slog.Default()))
	writer := openStore(t, path)

	var rec sessiontest.Recorder
	defer watcher.Subscribe(rec.Record)()

	done := make(chan error, 1)
	go func() { done <- watcher.Watch(ctx) }()

	// The ticker is created after the log head is read.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	require.NoError(t, writer.Put(ctx, sessiontest.Starting(4)))

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		for _, c := range rec.Changes() {
			if c.EnvironmentID == 4 && c.Remote {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestSQLiteStore_PrunesChangeLog(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, filepath.Join(t.TempDir(), "sessions.db"))

	for i := range changeLogRetention + 20 {
		require.NoError(t, st.Remove(ctx, i+1))
	}

	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM lab_session_changes`).Scan(&n))
	assert.Equal(t, changeLogRetention, n)
}

func TestSQLiteStore_ClosedDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	db, err := database.Open(ctx, path)
	require.NoError(t, err)
	st := NewSQLiteStore(db, path)
	require.NoError(t, db.Close())

	var rec sessiontest.Recorder
	defer st.Subscribe(rec.Record)()

	assert.ErrorIs(t, st.Put(ctx, sessiontest.Starting(1)), session.ErrPersistence)
	assert.ErrorIs(t, st.Remove(ctx, 1), session.ErrPersistence)
	_, err = st.GetAll(ctx)
	assert.ErrorIs(t, err, session.ErrPersistence)
	assert.Empty(t, rec.Changes())
}

func TestSQLiteStore_CorruptTimestamp(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, st.Put(ctx, sessiontest.Starting(3)))

	_, err := st.db.ExecContext(ctx, `UPDATE lab_sessions SET updated_at = 'yesterday' WHERE environment_id = 3`)
	require.NoError(t, err)

	_, _, err = st.Get(ctx, 3)
	require.ErrorIs(t, err, session.ErrPersistence)
	assert.Contains(t, err.Error(), "updated_at")

	_, err = st.GetAll(ctx)
	assert.ErrorIs(t, err, session.ErrPersistence)
}

func TestRegisteredMedium(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	m, err := session.OpenMedium(context.Background(), config.StoreConfig{
		Driver:       "sqlite",
		SQLitePath:   path,
		PollInterval: 50 * time.Millisecond,
	}, slog.Default())
	require.NoError(t, err)
	defer m.Close()

	st, ok := m.(*SQLiteStore)
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, st.poll)
	assert.NotEmpty(t, st.Origin())
}

func TestOwnsFile(t *testing.T) {
	st := &SQLiteStore{path: "/tmp/x/sessions.db"}
	assert.True(t, st.ownsFile("/tmp/x/sessions.db-wal"))
	assert.True(t, st.ownsFile("/tmp/x/sessions.db"))
	assert.False(t, st.ownsFile("/tmp/x/other.db"))
}
