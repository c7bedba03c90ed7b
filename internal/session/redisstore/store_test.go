package redisstore

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/sebastianm/provinggrounds/internal/config"
	"github.com/sebastianm/provinggrounds/internal/session"
	"github.com/sebastianm/provinggrounds/internal/session/sessiontest"
)

var testRedisURL string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		// No docker: the integration tests below skip themselves.
		fmt.Fprintf(os.Stderr, "redis container unavailable: %v\n", err)
		os.Exit(m.Run())
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

func setupClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() || testRedisURL == "" {
		t.Skip("skipping redis integration test")
	}

	opts, err := redis.ParseURL(testRedisURL)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	require.NoError(t, rdb.FlushAll(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestStoreContract(t *testing.T) {
	sessiontest.RunContract(t, func(t *testing.T) session.Store {
		return New(setupClient(t), "test", slog.Default())
	})
}

func TestStore_RecordFormat(t *testing.T) {
	rdb := setupClient(t)
	ctx := context.Background()
	st := New(rdb, "fmt", slog.Default())

	require.NoError(t, st.Put(ctx, sessiontest.Running(12)))

	raw, err := rdb.HGet(ctx, "fmt:sessions", "12").Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"environment_id": 12,
		"status": "running",
		"container_identity": "lab-c",
		"leased_address": "10.10.11.100",
		"time_remaining": "4h 0m",
		"owner": "0xabc",
		"updated_at": "2025-03-01T12:00:00Z"
	}`, raw)
}

func TestStore_WatchDeliversRemoteWrites(t *testing.T) {
	rdb := setupClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := New(rdb, "shared", slog.Default())
	writer := New(rdb, "shared", slog.Default())
	other := New(rdb, "elsewhere", slog.Default())

	var rec sessiontest.Recorder
	defer watcher.Subscribe(rec.Record)()

	done := make(chan error, 1)
	go func() { done <- watcher.Watch(ctx) }()

	// Give the subscription time to register before writing.
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(ctx, "shared:sessions:changes").Result()
		return err == nil && n["shared:sessions:changes"] > 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, other.Put(ctx, sessiontest.Starting(1)))
	require.NoError(t, watcher.Put(ctx, sessiontest.Starting(2)))
	require.NoError(t, writer.Put(ctx, sessiontest.Starting(3)))
	require.NoError(t, writer.Remove(ctx, 3))

	require.Eventually(t, func() bool {
		return len(rec.Changes()) >= 3
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []session.Change{
		{EnvironmentID: 2, Kind: session.ChangePut},
		{EnvironmentID: 3, Kind: session.ChangePut, Remote: true},
		{EnvironmentID: 3, Kind: session.ChangeRemove, Remote: true},
	}, rec.Changes())
}

func TestRegisteredMedium(t *testing.T) {
	setupClient(t)
	m, err := session.OpenMedium(context.Background(), config.StoreConfig{
		Driver:      "redis",
		RedisURL:    testRedisURL,
		RedisPrefix: "reg",
	}, slog.Default())
	require.NoError(t, err)
	defer m.Close()

	assert.IsType(t, &Store{}, m)
}

func TestRegisteredMedium_Unreachable(t *testing.T) {
	_, err := session.OpenMedium(context.Background(), config.StoreConfig{
		Driver:   "redis",
		RedisURL: "redis://127.0.0.1:1/0",
	}, slog.Default())
	assert.ErrorIs(t, err, session.ErrPersistence)
}

func TestNew_Defaults(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = rdb.Close() })

	var st *Store
	require.NotPanics(t, func() { st = New(rdb, "", nil) })
	assert.Equal(t, "labs:sessions", st.hashKey)
	assert.Equal(t, "labs:sessions:changes", st.channel)
	assert.NotEmpty(t, st.origin)
}
