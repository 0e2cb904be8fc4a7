// Package metrics exposes client instrumentation through a dedicated
// Prometheus registry.
//
// A nil *Recorder is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "watergb"

// Request outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeServerError  = "server_error"
	OutcomeNetworkError = "network_error"
	OutcomeRequestError = "request_error"
)

// Recorder owns the client's metrics.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	backendUp       prometheus.Gauge
	probes          *prometheus.CounterVec
	probeDuration   prometheus.Histogram
	logEntries      *prometheus.CounterVec
}

// New builds a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency by method and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "outcome"}),
		backendUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "1 when the last connectivity probe succeeded.",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_probes_total",
			Help:      "Connectivity probes by result.",
		}, []string{"result"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connectivity_probe_duration_seconds",
			Help:      "Connectivity probe latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		logEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostic_log_entries_total",
			Help:      "Entries written to the diagnostic log by level.",
		}, []string{"level"}),
	}

	r.registry.MustRegister(
		r.requests,
		r.requestDuration,
		r.backendUp,
		r.probes,
		r.probeDuration,
		r.logEntries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveRequest records one completed API call.
func (r *Recorder) ObserveRequest(method, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, outcome).Inc()
	r.requestDuration.WithLabelValues(method, outcome).Observe(d.Seconds())
}

// ObserveProbe records one connectivity probe. d is ignored when no
// response arrived.
func (r *Recorder) ObserveProbe(connected bool, d time.Duration) {
	if r == nil {
		return
	}
	result := "disconnected"
	if connected {
		result = "connected"
		r.backendUp.Set(1)
	} else {
		r.backendUp.Set(0)
	}
	r.probes.WithLabelValues(result).Inc()
	if d > 0 {
		r.probeDuration.Observe(d.Seconds())
	}
}

// ObserveLogEntry counts a diagnostic log entry.
func (r *Recorder) ObserveLogEntry(level string) {
	if r == nil {
		return
	}
	r.logEntries.WithLabelValues(level).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
