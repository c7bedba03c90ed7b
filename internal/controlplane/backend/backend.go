// Package backend is an in-memory stand-in for the provisioning control
// plane. It hands out container identities and addresses without running
// anything, so labctl can be exercised end to end on a laptop.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sebastianm/provinggrounds/internal/controlplane"
	"github.com/sebastianm/provinggrounds/internal/metrics"
)

var (
	ErrPoolExhausted    = errors.New("no addresses left to lease")
	ErrUnknownContainer = errors.New("unknown container")
)

const accountsPerContainer = 5

// Leases stay inside the lab /24: 10.10.11.100 through 10.10.11.254.
var (
	poolStart = netip.MustParseAddr("10.10.11.100")
	poolSize  = 155
)

type container struct {
	id            string
	environmentID int
	address       string
	owner         string
	createdAt     time.Time
}

type Options struct {
	// ProvisionDelay simulates container boot time.
	ProvisionDelay time.Duration
	Clock          clockwork.Clock
	Log            *slog.Logger
}

type Backend struct {
	log   *slog.Logger
	clock clockwork.Clock
	delay time.Duration

	mu         sync.Mutex
	containers map[string]container
	leased     map[string]struct{}
}

func New(opts Options) *Backend {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Backend{
		log:        opts.Log.With("component", "backend"),
		clock:      opts.Clock,
		delay:      opts.ProvisionDelay,
		containers: make(map[string]container),
		leased:     make(map[string]struct{}),
	}
}

// Provision leases the lowest free address and registers a container for
// environmentID.
func (b *Backend) Provision(ctx context.Context, environmentID int, owner string) (controlplane.Provisioned, error) {
	if environmentID <= 0 {
		return controlplane.Provisioned{}, fmt.Errorf("invalid environment id %d", environmentID)
	}

	if b.delay > 0 {
		select {
		case <-ctx.Done():
			return controlplane.Provisioned{}, ctx.Err()
		case <-b.clock.After(b.delay):
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	addr, ok := b.leaseLocked()
	if !ok {
		metrics.BackendLeasesExhaustedTotal.Inc()
		return controlplane.Provisioned{}, ErrPoolExhausted
	}

	c := container{
		id:            "lab-" + strconv.Itoa(environmentID) + "-" + uuid.NewString()[:8],
		environmentID: environmentID,
		address:       addr,
		owner:         owner,
		createdAt:     b.clock.Now(),
	}
	b.containers[c.id] = c
	metrics.BackendContainers.Set(float64(len(b.containers)))

	b.log.Info("container provisioned", "container", c.id, "environment_id", environmentID, "address", addr, "owner", owner)
	return controlplane.Provisioned{ContainerID: c.id, Address: addr}, nil
}

func (b *Backend) leaseLocked() (string, bool) {
	addr := poolStart
	for range poolSize {
		s := addr.String()
		if _, taken := b.leased[s]; !taken {
			b.leased[s] = struct{}{}
			return s, true
		}
		addr = addr.Next()
	}
	return "", false
}

// Deprovision releases the container and its address.
func (b *Backend) Deprovision(_ context.Context, containerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.containers[containerID]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownContainer, containerID)
	}
	delete(b.containers, containerID)
	delete(b.leased, c.address)
	metrics.BackendContainers.Set(float64(len(b.containers)))

	b.log.Info("container deprovisioned", "container", containerID, "environment_id", c.environmentID)
	return nil
}

// Accounts returns the practice accounts seeded into a container. They are
// derived from the container id, so repeated calls agree.
func (b *Backend) Accounts(_ context.Context, containerID string) ([]controlplane.Account, error) {
	b.mu.Lock()
	_, ok := b.containers[containerID]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownContainer, containerID)
	}

	accounts := make([]controlplane.Account, accountsPerContainer)
	for i := range accounts {
		key := sha256.Sum256([]byte(containerID + "/" + strconv.Itoa(i)))
		addr := sha256.Sum256(key[:])
		accounts[i] = controlplane.Account{
			Name:       "0x" + hex.EncodeToString(addr[12:]),
			PrivateKey: "0x" + hex.EncodeToString(key[:]),
		}
	}
	return accounts, nil
}

// Len returns the number of live containers.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.containers)
}
