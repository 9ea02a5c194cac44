// Package metrics exposes the tracker's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nutrition"

// Lookup outcomes.
const (
	LookupHit      = "hit"
	LookupResolved = "resolved"
	LookupNotFound = "not_found"
)

// Upstream results.
const (
	UpstreamFound       = "found"
	UpstreamNotFound    = "not_found"
	UpstreamUnavailable = "unavailable"
)

// Metrics holds every collector on its own registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	lookups           *prometheus.CounterVec
	upstreamRequests  *prometheus.CounterVec
	upstreamDuration  prometheus.Histogram
	scansRecorded     *prometheus.CounterVec
	eventsPublished   prometheus.Counter
	eventsDropped     prometheus.Counter
	activeSubscribers prometheus.Gauge
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_lookups_total",
			Help:      "Product resolutions by outcome.",
		}, []string{"outcome"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Calls to the external product source by result.",
		}, []string{"source", "result"}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of calls to the external product source.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 6, 10},
		}),
		scansRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_recorded_total",
			Help:      "Scans stored, by whether nutrition was auto-filled.",
		}, []string{"autofilled"}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Scan events published to the broadcaster.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded because a subscriber queue hit max_pending.",
		}),
		activeSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Live feed subscribers currently connected.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.lookups,
		m.upstreamRequests,
		m.upstreamDuration,
		m.scansRecorded,
		m.eventsPublished,
		m.eventsDropped,
		m.activeSubscribers,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveLookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveUpstream(source, result string, seconds float64) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(source, result).Inc()
	m.upstreamDuration.Observe(seconds)
}

func (m *Metrics) ObserveScan(autofilled bool) {
	if m == nil {
		return
	}
	label := "false"
	if autofilled {
		label = "true"
	}
	m.scansRecorded.WithLabelValues(label).Inc()
}

func (m *Metrics) EventPublished() {
	if m == nil {
		return
	}
	m.eventsPublished.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.activeSubscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.activeSubscribers.Dec()
}
