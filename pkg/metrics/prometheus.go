// Package metrics holds the prometheus collectors for outbound fetches,
// circuit breakers and IRROPS runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Wayfarer/pkg/resilience"
)

// Fetch outcome buckets.
const (
	OutcomeOK      = "ok"
	Outcome4xx     = "4xx"
	Outcome5xx     = "5xx"
	OutcomeTimeout = "timeout"
	OutcomeNetwork = "network"
	// OutcomeOther covers statuses outside 2xx that are neither 4xx nor 5xx,
	// such as an unfollowed redirect or 304.
	OutcomeOther   = "other"
)

// Metrics holds all prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	FetchAttempts   *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	LimiterRejected *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	BreakerChanges  *prometheus.CounterVec
	IrropsRuns      *prometheus.CounterVec
	IrropsOptions   *prometheus.HistogramVec
	IrropsDuration  *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
}

// NewMetrics creates new prometheus metrics on a registry owned by the returned value.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Outbound fetch attempts by target and outcome bucket",
		}, []string{"target", "outcome"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempt_duration_seconds",
			Help:      "Latency of outbound fetch attempts",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target", "outcome"}),
		LimiterRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rate_limiter",
			Name:      "rejections_total",
			Help:      "Calls rejected by the local rate limiter",
		}, []string{"target", "limit_type"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Current breaker state (0=closed, 1=open, 2=half_open)",
		}, []string{"target"}),
		BreakerChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "transitions_total",
			Help:      "Breaker state transitions",
		}, []string{"target", "to"}),
		IrropsRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "irrops",
			Name:      "runs_total",
			Help:      "IRROPS invocations by disruption type and result",
		}, []string{"disruption_type", "result"}),
		IrropsOptions: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "irrops",
			Name:      "options",
			Help:      "Number of ranked options returned per invocation",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}, []string{"disruption_type"}),
		IrropsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "irrops",
			Name:      "duration_seconds",
			Help:      "Time taken to process an IRROPS request",
			Buckets:   prometheus.DefBuckets,
		}, []string{"disruption_type"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Flight search cache lookups by layer and result",
		}, []string{"layer", "result"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFetch records one fetch attempt.
func (m *Metrics) ObserveFetch(target, outcome string, d time.Duration) {
	m.FetchAttempts.WithLabelValues(target, outcome).Inc()
	m.FetchDuration.WithLabelValues(target, outcome).Observe(d.Seconds())
}

// ObserveLimiterRejection records a local rate limiter rejection.
func (m *Metrics) ObserveLimiterRejection(target, limitType string) {
	m.LimiterRejected.WithLabelValues(target, limitType).Inc()
}

// ObserveIrrops records one IRROPS invocation.
func (m *Metrics) ObserveIrrops(disruptionType string, optionCount int, d time.Duration, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.IrropsRuns.WithLabelValues(disruptionType, result).Inc()
	m.IrropsOptions.WithLabelValues(disruptionType).Observe(float64(optionCount))
	m.IrropsDuration.WithLabelValues(disruptionType).Observe(d.Seconds())
}

// ObserveCache records a cache lookup on the given layer (l1 or l2).
func (m *Metrics) ObserveCache(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(layer, result).Inc()
}

// BreakerStateChanged matches resilience.StateChangeFunc so it can be passed to Registry.Watch.
func (m *Metrics) BreakerStateChanged(target string, _, to resilience.State) {
	m.BreakerState.WithLabelValues(target).Set(float64(to))
	m.BreakerChanges.WithLabelValues(target, to.String()).Inc()
}

// StatusOutcome maps an HTTP status code to its outcome bucket.
func StatusOutcome(status int) string {
	switch {
	case status >= 500:
		return Outcome5xx
	case status >= 400:
		return Outcome4xx
	case status >= 200 && status < 300:
		return OutcomeOK
	default:
		return OutcomeOther
	}
}
