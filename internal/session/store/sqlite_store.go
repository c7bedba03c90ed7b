package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sebastianm/provinggrounds/internal/session"
)

const (
	timeFormat = "2006-01-02T15:04:05.000Z"

	// changeLogRetention is how many change rows survive pruning. A watcher
	// that falls further behind than this relies on the observer resync.
	changeLogRetention = 1000
)

// SQLiteStore persists sessions in a SQLite file that several processes on
// the same host may open at once. Every write appends to lab_session_changes
// in the same transaction; Watch tails that log to surface writes made by
// other processes.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	log    *slog.Logger
	clock  clockwork.Clock
	poll   time.Duration
	origin string
	ownsDB bool

	bc session.Broadcaster

	// lastSeq is only touched by Watch.
	lastSeq int64
}

type Option func(*SQLiteStore)

// WithClock overrides the clock driving the poll ticker.
func WithClock(c clockwork.Clock) Option {
	return func(s *SQLiteStore) { s.clock = c }
}

// WithPollInterval sets how often Watch re-reads the change log when no
// filesystem event wakes it.
func WithPollInterval(d time.Duration) Option {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.poll = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *SQLiteStore) { s.log = log }
}

// NewSQLiteStore wraps an already migrated database. path is the database
// file; its directory is watched for changes.
func NewSQLiteStore(db *sql.DB, path string, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		db:     db,
		path:   path,
		log:    slog.Default(),
		clock:  clockwork.NewRealClock(),
		poll:   time.Second,
		origin: uuid.NewString(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "sqlite-session-store", "origin", s.origin)
	return s
}

// Origin identifies this store's writes in the change log.
func (s *SQLiteStore) Origin() string { return s.origin }

func (s *SQLiteStore) GetAll(ctx context.Context) (map[int]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT environment_id, status, container_identity, leased_address, time_remaining, owner, updated_at
		FROM lab_sessions`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing sessions: %w", session.ErrPersistence, err)
	}
	defer rows.Close()

	out := make(map[int]session.Session)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning session: %w", session.ErrPersistence, err)
		}
		out[sess.EnvironmentID] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing sessions: %w", session.ErrPersistence, err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, environmentID int) (session.Session, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT environment_id, status, container_identity, leased_address, time_remaining, owner, updated_at
		FROM lab_sessions WHERE environment_id = ?`, environmentID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, fmt.Errorf("%w: getting session %d: %w", session.ErrPersistence, environmentID, err)
	}
	return sess, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, sess session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	err := s.write(ctx, sess.EnvironmentID, session.ChangePut, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lab_sessions (environment_id, status, container_identity, leased_address, time_remaining, owner, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (environment_id) DO UPDATE SET
				status = excluded.status,
				container_identity = excluded.container_identity,
				leased_address = excluded.leased_address,
				time_remaining = excluded.time_remaining,
				owner = excluded.owner,
				updated_at = excluded.updated_at`,
			sess.EnvironmentID, string(sess.Status), sess.ContainerID, sess.Address,
			sess.TimeRemaining, sess.Owner, sess.UpdatedAt.UTC().Format(timeFormat))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: putting session %d: %w", session.ErrPersistence, sess.EnvironmentID, err)
	}

	s.bc.Publish(session.Change{EnvironmentID: sess.EnvironmentID, Kind: session.ChangePut})
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, environmentID int) error {
	err := s.write(ctx, environmentID, session.ChangeRemove, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM lab_sessions WHERE environment_id = ?`, environmentID)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: removing session %d: %w", session.ErrPersistence, environmentID, err)
	}

	s.bc.Publish(session.Change{EnvironmentID: environmentID, Kind: session.ChangeRemove})
	return nil
}

func (s *SQLiteStore) Subscribe(fn func(session.Change)) func() {
	return s.bc.Subscribe(fn)
}

// write runs mutate and the matching change-log append in one transaction.
func (s *SQLiteStore) write(ctx context.Context, environmentID int, kind session.ChangeKind, mutate func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := mutate(tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lab_session_changes (environment_id, kind, origin, created_at)
		VALUES (?, ?, ?, ?)`,
		environmentID, string(kind), s.origin, s.clock.Now().UTC().Format(timeFormat)); err != nil {
		return fmt.Errorf("appending change: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM lab_session_changes
		WHERE seq <= (SELECT MAX(seq) FROM lab_session_changes) - ?`, changeLogRetention); err != nil {
		return fmt.Errorf("pruning change log: %w", err)
	}

	return tx.Commit()
}

// Close closes the database if the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (session.Session, error) {
	var (
		sess      session.Session
		status    string
		updatedAt string
	)
	if err := r.Scan(&sess.EnvironmentID, &status, &sess.ContainerID, &sess.Address,
		&sess.TimeRemaining, &sess.Owner, &updatedAt); err != nil {
		return session.Session{}, err
	}
	sess.Status = session.Status(status)
	ts, err := time.Parse(timeFormat, updatedAt)
	if err != nil {
		// A zero time would make a fresh record look orphaned.
		return session.Session{}, fmt.Errorf("environment %d: parsing updated_at %q: %w", sess.EnvironmentID, updatedAt, err)
	}
	sess.UpdatedAt = ts
	return sess, nil
}
