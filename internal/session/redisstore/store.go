// Package redisstore keeps lab sessions in a Redis hash and announces every
// write on a Pub/Sub channel, so observers on different hosts stay in sync.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sebastianm/provinggrounds/internal/config"
	"github.com/sebastianm/provinggrounds/internal/session"
)

func init() {
	session.RegisterMedium("redis", func(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (session.Medium, error) {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("%w: pinging redis: %w", session.ErrPersistence, err)
		}
		s := New(rdb, cfg.RedisPrefix, log)
		s.ownsClient = true
		return s, nil
	})
}

// changeMessage is published on the change channel for every write.
type changeMessage struct {
	EnvironmentID int    `json:"environment_id"`
	Kind          string `json:"kind"`
	Origin        string `json:"origin"`
}

type Store struct {
	rdb        *redis.Client
	hashKey    string
	channel    string
	origin     string
	log        *slog.Logger
	ownsClient bool

	bc session.Broadcaster
}

// New creates a store under prefix. Stores sharing a prefix share sessions.
func New(rdb *redis.Client, prefix string, log *slog.Logger) *Store {
	if prefix == "" {
		prefix = "labs"
	}
	if log == nil {
		log = slog.Default()
	}
	origin := uuid.NewString()
	return &Store{
		rdb:     rdb,
		hashKey: prefix + ":sessions",
		channel: prefix + ":sessions:changes",
		origin:  origin,
		log:     log.With("component", "redis-session-store", "origin", origin),
	}
}

func (s *Store) GetAll(ctx context.Context) (map[int]session.Session, error) {
	fields, err := s.rdb.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: listing sessions: %w", session.ErrPersistence, err)
	}

	out := make(map[int]session.Session, len(fields))
	for field, raw := range fields {
		var sess session.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			s.log.Warn("skipping undecodable session", "field", field, "error", err)
			continue
		}
		out[sess.EnvironmentID] = sess
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, environmentID int) (session.Session, bool, error) {
	raw, err := s.rdb.HGet(ctx, s.hashKey, strconv.Itoa(environmentID)).Result()
	if errors.Is(err, redis.Nil) {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, fmt.Errorf("%w: getting session %d: %w", session.ErrPersistence, environmentID, err)
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return session.Session{}, false, fmt.Errorf("%w: decoding session %d: %w", session.ErrPersistence, environmentID, err)
	}
	return sess, true, nil
}

func (s *Store) Put(ctx context.Context, sess session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session %d: %w", sess.EnvironmentID, err)
	}

	err = s.write(ctx, sess.EnvironmentID, session.ChangePut, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, s.hashKey, strconv.Itoa(sess.EnvironmentID), data)
	})
	if err != nil {
		return fmt.Errorf("%w: putting session %d: %w", session.ErrPersistence, sess.EnvironmentID, err)
	}

	s.bc.Publish(session.Change{EnvironmentID: sess.EnvironmentID, Kind: session.ChangePut})
	return nil
}

func (s *Store) Remove(ctx context.Context, environmentID int) error {
	err := s.write(ctx, environmentID, session.ChangeRemove, func(pipe redis.Pipeliner) {
		pipe.HDel(ctx, s.hashKey, strconv.Itoa(environmentID))
	})
	if err != nil {
		return fmt.Errorf("%w: removing session %d: %w", session.ErrPersistence, environmentID, err)
	}

	s.bc.Publish(session.Change{EnvironmentID: environmentID, Kind: session.ChangeRemove})
	return nil
}

func (s *Store) Subscribe(fn func(session.Change)) func() {
	return s.bc.Subscribe(fn)
}

// write queues mutate and the change announcement in one MULTI/EXEC block.
func (s *Store) write(ctx context.Context, environmentID int, kind session.ChangeKind, mutate func(redis.Pipeliner)) error {
	msg, err := json.Marshal(changeMessage{EnvironmentID: environmentID, Kind: string(kind), Origin: s.origin})
	if err != nil {
		return fmt.Errorf("marshaling change: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	mutate(pipe)
	pipe.Publish(ctx, s.channel, msg)
	_, err = pipe.Exec(ctx)
	return err
}

// Watch subscribes to the change channel and republishes foreign writes to
// local subscribers until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no write after Watch
	// starts is missed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: subscribing to %s: %w", session.ErrPersistence, s.channel, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var m changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				s.log.Warn("dropping undecodable change", "error", err)
				continue
			}
			if m.Origin == s.origin {
				continue
			}
			s.bc.Publish(session.Change{
				EnvironmentID: m.EnvironmentID,
				Kind:          session.ChangeKind(m.Kind),
				Remote:        true,
			})
		}
	}
}

// Close closes the client if the store created it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.rdb.Close()
}
