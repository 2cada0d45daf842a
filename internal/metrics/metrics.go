// Package metrics exposes Prometheus instrumentation for contract execution,
// migration and the caches. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/contractml/internal/cache"
)

const namespace = "contractml"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	CacheEvents       *prometheus.CounterVec
	Migrations        *prometheus.CounterVec
	DriftTrips        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. Passing prometheus.DefaultRegisterer
// exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Contract executions by domain, target version and outcome.",
		}, []string{"domain", "version", "outcome"}),
		ExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "End-to-end contract execution latency, including migration.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"domain", "version"}),
		CacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Cache hits, misses, builds and evictions by cache.",
		}, []string{"cache", "event"}),
		Migrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Migration requests by domain and resolution status.",
		}, []string{"domain", "status"}),
		DriftTrips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_detected_total",
			Help:      "Fields whose value tripped a drift detector.",
		}, []string{"domain", "version", "field"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of named internal operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// ObserveExecution records one execution outcome and its latency.
func (m *Metrics) ObserveExecution(domain, version, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(domain, version, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(domain, version).Observe(d.Seconds())
}

// IncrementMigration records how a migration request was resolved.
func (m *Metrics) IncrementMigration(domain, status string) {
	if m == nil {
		return
	}
	m.Migrations.WithLabelValues(domain, status).Inc()
}

// IncrementDrift records a drift trip on field.
func (m *Metrics) IncrementDrift(domain, version, field string) {
	if m == nil {
		return
	}
	m.DriftTrips.WithLabelValues(domain, version, field).Inc()
}

// Time starts a timer for op. Call the returned func when op finishes.
func (m *Metrics) Time(op string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// CacheObserver returns a cache.Observer counting events for the named cache.
func (m *Metrics) CacheObserver(name string) cache.Observer {
	if m == nil {
		return nil
	}
	return cacheObserver{vec: m.CacheEvents, name: name}
}

type cacheObserver struct {
	vec  *prometheus.CounterVec
	name string
}

func (o cacheObserver) CacheEvent(event string) {
	o.vec.WithLabelValues(o.name, event).Inc()
}
