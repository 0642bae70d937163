// Package metrics exposes Prometheus instrumentation for the transaction
// lifecycle: RPC traffic, submission outcomes and poll behavior.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the instrument set. A nil *Metrics is valid and records
// nothing, so callers never need to guard.
type Metrics struct {
	rpcRequests  *prometheus.CounterVec
	rpcDuration  *prometheus.HistogramVec
	txOutcomes   *prometheus.CounterVec
	pollAttempts prometheus.Histogram
	signDuration prometheus.Histogram
}

// New creates the instrument set and registers it with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forwards",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "JSON-RPC requests by method and outcome.",
		}, []string{"method", "outcome"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forwards",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "JSON-RPC request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		txOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forwards",
			Subsystem: "tx",
			Name:      "outcomes_total",
			Help:      "Completed transaction lifecycles by outcome code.",
		}, []string{"outcome"}),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forwards",
			Subsystem: "tx",
			Name:      "poll_attempts",
			Help:      "getTransaction polls needed to reach a terminal status.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 40, 60},
		}),
		signDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forwards",
			Subsystem: "tx",
			Name:      "sign_duration_seconds",
			Help:      "Time spent waiting on the signing agent.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		}),
	}
	reg.MustRegister(m.rpcRequests, m.rpcDuration, m.txOutcomes, m.pollAttempts, m.signDuration)
	return m
}

// NewNop creates an instrument set backed by a throwaway registry, for tests
// and callers that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveRPC records one JSON-RPC request.
func (m *Metrics) ObserveRPC(method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordOutcome records one completed lifecycle by its outcome code.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.txOutcomes.WithLabelValues(outcome).Inc()
}

// ObservePollAttempts records how many polls a lifecycle needed.
func (m *Metrics) ObservePollAttempts(n int) {
	if m == nil {
		return
	}
	m.pollAttempts.Observe(float64(n))
}

// ObserveSigning records the time a signing request took.
func (m *Metrics) ObserveSigning(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.signDuration.Observe(elapsed.Seconds())
}
