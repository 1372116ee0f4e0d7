// Package metrics defines the Prometheus collectors for retrieval.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vfetch"

// Metrics groups the retrieval collectors. A nil *Metrics records nothing.
type Metrics struct {
	attempts     *prometheus.CounterVec
	attemptTime  *prometheus.HistogramVec
	requests     *prometheus.CounterVec
	bytesWritten prometheus.Counter
	jobsInFlight prometheus.Gauge
	cacheLookups *prometheus.CounterVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_attempts_total",
			Help:      "Adapter attempts by platform, adapter, operation and outcome kind.",
		}, []string{"platform", "adapter", "op", "outcome"}),
		attemptTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_attempt_seconds",
			Help:      "Duration of adapter attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"platform", "adapter", "op"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Orchestrated requests by operation, platform and outcome kind.",
		}, []string{"op", "platform", "outcome"}),
		bytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_bytes_total",
			Help:      "Bytes of completed files written to the download directory.",
		}),
		jobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Download jobs currently running.",
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "info_cache_lookups_total",
			Help:      "Metadata cache lookups by result.",
		}, []string{"result"}),
	}
}

// Attempt records the outcome of one adapter attempt. outcome is "ok" or an error kind.
func (m *Metrics) Attempt(platform, adapter, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(platform, adapter, op, outcome).Inc()
	m.attemptTime.WithLabelValues(platform, adapter, op).Observe(elapsed.Seconds())
}

// Request records the final outcome of a resolve or retrieve call
func (m *Metrics) Request(op, platform, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, platform, outcome).Inc()
}

// Persisted adds the size of a completed file
func (m *Metrics) Persisted(bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.bytesWritten.Add(float64(bytes))
}

// JobStarted and JobFinished track running jobs
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
}

// CacheLookup records a cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
