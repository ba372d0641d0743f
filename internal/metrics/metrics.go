// Package metrics exposes Prometheus instruments for transport and emission.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nfe"

// Transport attempt outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeFailure   = "failure"
	OutcomeMismatch  = "environment_mismatch"
	OutcomeCancelled = "cancelled"
)

// Metrics holds every collector of the engine. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	transportAttempts *prometheus.CounterVec
	transportDuration *prometheus.HistogramVec
	emissions         *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	calculatedItems   prometheus.Counter
	sequenceAllocs    *prometheus.CounterVec
}

// New creates and registers the collectors on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transportAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "attempts_total",
			Help:      "SOAP POST attempts per service, state and outcome.",
		}, []string{"service", "state", "outcome", "status_code"}),
		transportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Latency of one SOAP POST attempt.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"service", "state"}),
		emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emission",
			Name:      "outcomes_total",
			Help:      "Authority outcomes per operation and status code.",
		}, []string{"operation", "status", "status_code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emission",
			Name:      "transitions_total",
			Help:      "Document status transitions.",
		}, []string{"from", "to"}),
		calculatedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tax",
			Name:      "items_calculated_total",
			Help:      "Line items run through the tax calculator.",
		}),
		sequenceAllocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequence",
			Name:      "allocations_total",
			Help:      "Document numbers allocated per backend.",
		}, []string{"backend", "result"}),
	}
	reg.MustRegister(
		m.transportAttempts,
		m.transportDuration,
		m.emissions,
		m.transitions,
		m.calculatedItems,
		m.sequenceAllocs,
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAttempt records one transport attempt
func (m *Metrics) ObserveAttempt(service, state, outcome string, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transportAttempts.WithLabelValues(service, state, outcome, strconv.Itoa(statusCode)).Inc()
	m.transportDuration.WithLabelValues(service, state).Observe(elapsed.Seconds())
}

// ObserveOutcome records a parsed authority answer
func (m *Metrics) ObserveOutcome(operation, status string, statusCode int) {
	if m == nil {
		return
	}
	m.emissions.WithLabelValues(operation, status, strconv.Itoa(statusCode)).Inc()
}

// ObserveTransition records a document status change
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// AddCalculatedItems counts items run through the calculator
func (m *Metrics) AddCalculatedItems(n int) {
	if m == nil {
		return
	}
	m.calculatedItems.Add(float64(n))
}

// ObserveAllocation records a sequence allocation
func (m *Metrics) ObserveAllocation(backend string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sequenceAllocs.WithLabelValues(backend, result).Inc()
}
