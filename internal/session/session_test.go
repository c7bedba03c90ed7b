package session_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianm/provinggrounds/internal/config"
	"github.com/sebastianm/provinggrounds/internal/session"
	"github.com/sebastianm/provinggrounds/internal/session/sessiontest"
)

func TestMemoryStoreContract(t *testing.T) {
	sessiontest.RunContract(t, func(t *testing.T) session.Store {
		return session.NewMemoryStore()
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		sess session.Session
		ok   bool
	}{
		{"starting bare", sessiontest.Starting(1), true},
		{"running full", sessiontest.Running(1), true},
		{"stopping keeps container", func() session.Session {
			s := sessiontest.Running(1)
			s.Status = session.StatusStopping
			return s
		}(), true},
		{"starting with container", func() session.Session {
			s := sessiontest.Starting(1)
			s.ContainerID = "c"
			return s
		}(), false},
		{"running without address", func() session.Session {
			s := sessiontest.Running(1)
			s.Address = ""
			return s
		}(), false},
		{"stopped is never persisted", session.Session{EnvironmentID: 1, Status: session.StatusStopped}, false},
		{"unknown status", session.Session{EnvironmentID: 1, Status: "paused"}, false},
		{"zero id", session.Session{Status: session.StatusStarting}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sess.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, session.ErrInvalidRecord)
			}
		})
	}
}

func TestHasContainer(t *testing.T) {
	assert.False(t, sessiontest.Starting(1).HasContainer())
	assert.True(t, sessiontest.Running(1).HasContainer())
}

func TestBroadcaster(t *testing.T) {
	t.Run("delivers in subscription order", func(t *testing.T) {
		var b session.Broadcaster
		var order []int
		b.Subscribe(func(session.Change) { order = append(order, 1) })
		b.Subscribe(func(session.Change) { order = append(order, 2) })

		b.Publish(session.Change{EnvironmentID: 1})
		assert.Equal(t, []int{1, 2}, order)
	})

	t.Run("callback may resubscribe without deadlock", func(t *testing.T) {
		var b session.Broadcaster
		calls := 0
		var unsub func()
		unsub = b.Subscribe(func(session.Change) {
			calls++
			unsub()
			b.Subscribe(func(session.Change) {})
		})
		b.Publish(session.Change{})
		b.Publish(session.Change{})
		assert.Equal(t, 1, calls)
	})

	t.Run("double unsubscribe is safe", func(t *testing.T) {
		var b session.Broadcaster
		unsub := b.Subscribe(func(session.Change) {})
		unsub()
		unsub()
	})

	t.Run("concurrent publish", func(t *testing.T) {
		var b session.Broadcaster
		var rec sessiontest.Recorder
		b.Subscribe(rec.Record)

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.Publish(session.Change{EnvironmentID: i})
			}()
		}
		wg.Wait()
		assert.Len(t, rec.Changes(), 20)
	})
}

func TestOpenMedium(t *testing.T) {
	ctx := context.Background()

	t.Run("memory is built in", func(t *testing.T) {
		m, err := session.OpenMedium(ctx, config.StoreConfig{Driver: "memory"}, slog.Default())
		require.NoError(t, err)
		defer m.Close()
		assert.IsType(t, &session.MemoryStore{}, m)
		assert.Contains(t, session.Media(), "memory")
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := session.OpenMedium(ctx, config.StoreConfig{Driver: "etcd"}, slog.Default())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "etcd")
	})

	t.Run("watch returns on cancel", func(t *testing.T) {
		m := session.NewMemoryStore()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.NoError(t, m.Watch(cctx))
	})
}
