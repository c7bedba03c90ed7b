// Package database opens the SQLite file that labctl processes on one host
// share as their session store.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const defaultBusyTimeout = 5 * time.Second

type options struct {
	busyTimeout time.Duration
	log         *slog.Logger
}

type Option func(*options)

// WithBusyTimeout sets how long a write waits for another process holding
// the write lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// Open opens (or creates) the session database at dbPath and brings its
// schema up to date.
//
// Several labctl processes may open the same file. WAL plus the busy
// timeout lets their short write transactions queue instead of failing, and
// the capped WAL keeps the file the watchers stat small.
func Open(ctx context.Context, dbPath string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: defaultBusyTimeout, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("component", "database", "path", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// modernc.org/sqlite serialises writes; limit to one connection.
	db.SetMaxOpenConns(1)

	if err := pragmas(ctx, db, o.busyTimeout); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func pragmas(ctx context.Context, db *sql.DB, busyTimeout time.Duration) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_size_limit=4194304",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("setting %s: %w", p, err)
		}
	}
	return nil
}

// migrate runs through a goose Provider rather than the package-level goose
// state, so stores opened concurrently in one process do not share it.
func migrate(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	for _, r := range results {
		log.Info("applied migration", "version", r.Source.Version, "file", filepath.Base(r.Source.Path), "duration", r.Duration)
	}
	return nil
}
