package store

import (
	"context"
	"log/slog"

	"github.com/sebastianm/provinggrounds/internal/config"
	"github.com/sebastianm/provinggrounds/internal/database"
	"github.com/sebastianm/provinggrounds/internal/session"
)

func init() {
	session.RegisterMedium("sqlite", func(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (session.Medium, error) {
		db, err := database.Open(ctx, cfg.SQLitePath, database.WithLogger(log))
		if err != nil {
			return nil, err
		}
		s := NewSQLiteStore(db, cfg.SQLitePath, WithLogger(log), WithPollInterval(cfg.PollInterval))
		s.ownsDB = true
		return s, nil
	})
}
