// Package metrics holds the Prometheus collectors shared by the runner and
// the A2A proxy, registered on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auditmesh"

// Run statuses.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Metrics is a set of collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	activeRuns  prometheus.Gauge
	events      *prometheus.CounterVec
	a2aRequests *prometheus.CounterVec
	a2aDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Agent runs by agent and final status.",
		}, []string{"agent", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Agent run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Agent runs in progress.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events emitted by author and kind.",
		}, []string{"author", "kind"}),
		a2aRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "a2a_requests_total",
			Help:      "Requests sent to remote A2A peers by peer and status.",
		}, []string{"peer", "status"}),
		a2aDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "a2a_request_duration_seconds",
			Help:      "Remote A2A request duration in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"peer"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runDuration, m.activeRuns, m.events, m.a2aRequests, m.a2aDuration,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished records a completed run.
func (m *Metrics) RunFinished(agent, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(agent, status).Inc()
	m.runDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// EventEmitted counts an event.
func (m *Metrics) EventEmitted(author, kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(author, kind).Inc()
}

// A2ARequest records one request to a remote peer.
func (m *Metrics) A2ARequest(peer, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.a2aRequests.WithLabelValues(peer, status).Inc()
	m.a2aDuration.WithLabelValues(peer).Observe(d.Seconds())
}
