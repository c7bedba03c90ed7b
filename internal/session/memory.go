package session

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/sebastianm/provinggrounds/internal/config"
)

func init() {
	RegisterMedium("memory", func(_ context.Context, _ config.StoreConfig, _ *slog.Logger) (Medium, error) {
		return NewMemoryStore(), nil
	})
}

// MemoryStore keeps sessions in process memory. Observers share it by
// holding the same instance.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int]Session
	bc       Broadcaster
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int]Session)}
}

func (m *MemoryStore) GetAll(_ context.Context) (map[int]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.sessions), nil
}

func (m *MemoryStore) Get(_ context.Context, environmentID int) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[environmentID]
	return s, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, s Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[s.EnvironmentID] = s
	m.mu.Unlock()

	m.bc.Publish(Change{EnvironmentID: s.EnvironmentID, Kind: ChangePut})
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, environmentID int) error {
	m.mu.Lock()
	delete(m.sessions, environmentID)
	m.mu.Unlock()

	m.bc.Publish(Change{EnvironmentID: environmentID, Kind: ChangeRemove})
	return nil
}

func (m *MemoryStore) Subscribe(fn func(Change)) func() {
	return m.bc.Subscribe(fn)
}

// Watch has nothing to pump: every writer is local.
func (m *MemoryStore) Watch(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
