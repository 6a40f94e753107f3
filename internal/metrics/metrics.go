// Package metrics defines the Prometheus collectors exported by refkit.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "refkit"

// Fetch outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
	OutcomeStale    = "stale"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	Fetches       *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	Coalesced     prometheus.Counter
	BatchSize     prometheus.Histogram
	LiveSessions  prometheus.Gauge
}

// New creates collectors registered on a fresh registry, together with the
// Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Data provider calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Data provider call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_cache_hits_total",
			Help:      "Reference lookups served from the record cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_cache_misses_total",
			Help:      "Reference lookups that needed a provider call.",
		}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_requests_total",
			Help:      "Reference requests merged into an in-flight or batched call.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reference_batch_size",
			Help:      "Number of ids resolved per accumulated reference batch.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Open WebSocket reference-input sessions.",
		}),
	}
	reg.MustRegister(
		m.Fetches, m.FetchDuration, m.CacheHits, m.CacheMisses,
		m.Coalesced, m.BatchSize, m.LiveSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch records one provider call.
func (m *Metrics) ObserveFetch(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(op, outcome).Inc()
	m.FetchDuration.WithLabelValues(op).Observe(seconds)
}

// CacheHit counts a cache hit.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

// CacheMiss counts a cache miss.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

// CoalescedRequest counts a merged request.
func (m *Metrics) CoalescedRequest() {
	if m != nil {
		m.Coalesced.Inc()
	}
}

// ObserveBatch records the size of a flushed reference batch.
func (m *Metrics) ObserveBatch(n int) {
	if m != nil {
		m.BatchSize.Observe(float64(n))
	}
}

// SessionOpened and SessionClosed track live sessions.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.LiveSessions.Inc()
	}
}

// SessionClosed decrements the live session gauge.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.LiveSessions.Dec()
	}
}
