// Package metrics declares the Prometheus collectors shared by the lab
// lifecycle, the control-plane client and the development backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lifecycle Metrics
var (
	// LabTransitionsTotal counts status writes by target status
	LabTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lab_transitions_total",
			Help: "Lab session status transitions by target status",
		},
		[]string{"status"},
	)

	// LabOperationsTotal counts finished start/stop operations by result
	LabOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lab_operations_total",
			Help: "Finished lab operations by kind and result (success/failure/rejected)",
		},
		[]string{"kind", "result"},
	)

	// LabOperationDuration tracks how long provisioning and teardown take
	LabOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lab_operation_duration_seconds",
			Help:    "Duration of lab start/stop operations in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	// LabOperationsInFlight tracks operations awaiting the control plane
	LabOperationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lab_operations_in_flight",
			Help: "Lab operations waiting on the control plane",
		},
	)

	// LabCompensationsTotal counts rollbacks that had to undo backend work
	LabCompensationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lab_compensations_total",
			Help: "Containers deprovisioned because the running record could not be saved",
		},
	)
)

// Control-plane Metrics
var (
	// ControlPlaneCallsTotal tracks RPCs by procedure and outcome
	ControlPlaneCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_plane_calls_total",
			Help: "Control-plane calls by procedure and outcome (ok/rejected/unavailable)",
		},
		[]string{"procedure", "outcome"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Backend Metrics
var (
	// BackendContainers tracks containers held by the development backend
	BackendContainers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backend_containers_current",
			Help: "Containers currently provisioned by the development backend",
		},
	)

	// BackendLeasesExhaustedTotal counts provisions refused for lack of addresses
	BackendLeasesExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backend_leases_exhausted_total",
			Help: "Provision requests refused because the address pool was empty",
		},
	)
)

// Scanner Metrics
var (
	// ContractScansTotal counts contract scans by result
	ContractScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contract_scans_total",
			Help: "Contract deployment scans by result (success/failure)",
		},
		[]string{"result"},
	)

	// ContractScanDuration tracks how long a scan over the block window takes
	ContractScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contract_scan_duration_seconds",
			Help:    "Duration of contract deployment scans in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)
