package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sebastianm/provinggrounds/internal/config"
)

// MediumFactory opens a medium from the store configuration.
type MediumFactory func(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (Medium, error)

var (
	mediaMu sync.RWMutex
	media   = make(map[string]MediumFactory)
)

// RegisterMedium makes a medium available under name. Medium packages call
// it from init; a binary links a medium in with a blank import.
func RegisterMedium(name string, f MediumFactory) {
	mediaMu.Lock()
	defer mediaMu.Unlock()
	media[name] = f
}

// OpenMedium opens the medium named by cfg.Driver.
func OpenMedium(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (Medium, error) {
	mediaMu.RLock()
	f, ok := media[cfg.Driver]
	mediaMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, Media())
	}

	m, err := f(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Driver, err)
	}
	return m, nil
}

// Media lists the registered medium names.
func Media() []string {
	mediaMu.RLock()
	defer mediaMu.RUnlock()
	names := make([]string, 0, len(media))
	for name := range media {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
