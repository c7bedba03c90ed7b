package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sebastianm/provinggrounds/internal/metrics"
)

const breakerName = "control-plane"

// BreakerSettings configures the circuit in front of a Client.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive unavailable calls that opens
	// the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before letting a trial
	// call through.
	OpenTimeout time.Duration
}

// Breaker fails calls fast once the control plane keeps being unreachable.
// Rejections are answers from a healthy backend and never trip it.
type Breaker struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Client, s BreakerSettings, log *slog.Logger) *Breaker {
	maxFailures := s.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	log = log.With("component", "control-plane-breaker")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(gobreaker.StateClosed))

	return &Breaker{next: next, cb: cb}
}

// State reports the current circuit state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Provision(ctx context.Context, req ProvisionRequest) (Provisioned, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Provision(ctx, req)
	})
	if err != nil {
		return Provisioned{}, breakerErr(err)
	}
	return res.(Provisioned), nil
}

func (b *Breaker) Deprovision(ctx context.Context, containerID string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Deprovision(ctx, containerID)
	})
	return breakerErr(err)
}

func (b *Breaker) Accounts(ctx context.Context, containerID string) ([]Account, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Accounts(ctx, containerID)
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	return res.([]Account), nil
}

func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
