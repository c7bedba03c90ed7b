// Package controlplane talks to the provisioning backend that creates and
// destroys lab containers.
//
// The backend is opaque: it answers Provision with a container identity and a
// leased address, and Deprovision with a plain acknowledgement. Every failure
// is reported as either ErrRejected (the backend said no) or ErrUnavailable
// (it could not be reached in time). Callers roll back on both and never
// retry.
package controlplane

import (
	"context"
	"errors"
)

var (
	// ErrRejected is returned when the backend answered with success=false.
	// The backend's message is kept in the error text.
	ErrRejected = errors.New("control plane rejected request")

	// ErrUnavailable covers transport failures, timeouts and an open circuit.
	ErrUnavailable = errors.New("control plane unavailable")
)

type ProvisionRequest struct {
	EnvironmentID int
	// Owner is the opaque subject of the user starting the lab. It may be
	// empty.
	Owner string
}

type Provisioned struct {
	ContainerID string
	Address     string
}

// Account is a practice credential inside a running lab.
type Account struct {
	Name       string `json:"account"`
	PrivateKey string `json:"private_key"`
}

// Client is the provisioning backend as seen by the lifecycle controller.
type Client interface {
	Provision(ctx context.Context, req ProvisionRequest) (Provisioned, error)
	Deprovision(ctx context.Context, containerID string) error
	Accounts(ctx context.Context, containerID string) ([]Account, error)
}
