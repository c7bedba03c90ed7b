// Package session defines the persisted lab session record and the store
// contract every storage medium implements.
//
// The store is the single source of truth for which labs are active. Records
// exist only for starting, running and stopping labs; a stopped lab has no
// record at all.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPersistence is returned when the medium could not complete a read or
	// write. Writes are never dropped silently.
	ErrPersistence = errors.New("session store unavailable")

	// ErrInvalidRecord is returned by Put for a record that breaks the
	// status/container pairing.
	ErrInvalidRecord = errors.New("invalid session record")
)

type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Session is the lifecycle record of one environment.
type Session struct {
	EnvironmentID int    `json:"environment_id"`
	Status        Status `json:"status"`
	ContainerID   string `json:"container_identity,omitempty"`
	Address       string `json:"leased_address,omitempty"`
	TimeRemaining string `json:"time_remaining,omitempty"`
	Owner         string `json:"owner,omitempty"`
	// UpdatedAt is the time of the last write. Records stuck in a transient
	// status long past the call timeout were left behind by a dead observer.
	UpdatedAt time.Time `json:"updated_at"`
}

// HasContainer reports whether the record carries a provisioned container.
func (s Session) HasContainer() bool {
	return s.Status == StatusRunning || s.Status == StatusStopping
}

// Validate checks that a record is fit to be persisted.
func (s Session) Validate() error {
	if s.EnvironmentID <= 0 {
		return fmt.Errorf("%w: environment id must be positive, got %d", ErrInvalidRecord, s.EnvironmentID)
	}
	switch s.Status {
	case StatusStarting:
		if s.ContainerID != "" || s.Address != "" || s.TimeRemaining != "" {
			return fmt.Errorf("%w: environment %d is starting but carries a container", ErrInvalidRecord, s.EnvironmentID)
		}
	case StatusRunning, StatusStopping:
		if s.ContainerID == "" || s.Address == "" {
			return fmt.Errorf("%w: environment %d is %s without container and address", ErrInvalidRecord, s.EnvironmentID, s.Status)
		}
	case StatusStopped:
		return fmt.Errorf("%w: stopped sessions are not persisted (environment %d)", ErrInvalidRecord, s.EnvironmentID)
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, s.Status)
	}
	return nil
}

type ChangeKind string

const (
	ChangePut    ChangeKind = "put"
	ChangeRemove ChangeKind = "remove"
)

// Change tells a subscriber that a record was written. Subscribers should
// re-read the store instead of trusting the payload: remote changes may be
// duplicated or arrive out of order.
type Change struct {
	EnvironmentID int
	Kind          ChangeKind
	// Remote is set for writes made by another process sharing the medium.
	Remote bool
}

// Store is the persisted map from environment id to session record.
type Store interface {
	GetAll(ctx context.Context) (map[int]Session, error)
	Get(ctx context.Context, environmentID int) (Session, bool, error)
	// Put upserts a record after validating it.
	Put(ctx context.Context, s Session) error
	// Remove deletes a record. Removing an absent record is not an error and
	// still notifies subscribers.
	Remove(ctx context.Context, environmentID int) error
	// Subscribe registers fn for every successful put or remove made by any
	// writer sharing the medium. The returned func unsubscribes.
	Subscribe(fn func(Change)) (unsubscribe func())
}

// Medium is a Store backed by a shareable storage medium.
type Medium interface {
	Store
	// Watch delivers changes written by other processes to subscribers.
	// It blocks until ctx is cancelled.
	Watch(ctx context.Context) error
	Close() error
}
