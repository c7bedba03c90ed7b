package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/sebastianm/provinggrounds/internal/session"
)

type logEntry struct {
	seq           int64
	environmentID int
	kind          string
	origin        string
}

// Watch tails the change log and publishes writes made by other processes as
// remote changes. It wakes on filesystem events in the database directory and
// on the poll ticker, whichever comes first.
func (s *SQLiteStore) Watch(ctx context.Context) error {
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM lab_session_changes`).Scan(&s.lastSeq); err != nil {
		return fmt.Errorf("%w: reading change log head: %w", session.ErrPersistence, err)
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err = watcher.Add(filepath.Dir(s.path)); err == nil {
			events, errs = watcher.Events, watcher.Errors
		}
	}
	if err != nil {
		s.log.Warn("file watch unavailable, polling only", "error", err, "interval", s.poll)
	}

	ticker := s.clock.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 || !s.ownsFile(ev.Name) {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.Warn("file watch error", "error", err)
			continue
		case <-ticker.Chan():
		}

		if err := s.drain(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("reading change log failed", "error", err)
		}
	}
}

// ownsFile reports whether name is the database or one of its WAL/SHM files.
func (s *SQLiteStore) ownsFile(name string) bool {
	base := filepath.Base(s.path)
	switch filepath.Base(name) {
	case base, base + "-wal", base + "-shm", base + "-journal":
		return true
	}
	return false
}

// drain publishes every foreign change logged after lastSeq.
func (s *SQLiteStore) drain(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, environment_id, kind, origin
		FROM lab_session_changes WHERE seq > ? ORDER BY seq`, s.lastSeq)
	if err != nil {
		return err
	}

	var entries []logEntry
	for rows.Next() {
		var e logEntry
		if err := rows.Scan(&e.seq, &e.environmentID, &e.kind, &e.origin); err != nil {
			rows.Close()
			return err
		}
		entries = append(entries, e)
	}
	// The pool holds a single connection; release it before subscribers
	// re-read the store.
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range entries {
		s.lastSeq = e.seq
		if e.origin == s.origin {
			continue
		}
		s.bc.Publish(session.Change{
			EnvironmentID: e.environmentID,
			Kind:          session.ChangeKind(e.kind),
			Remote:        true,
		})
	}
	return nil
}
