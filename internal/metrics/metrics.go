// Package metrics records detection metrics with Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records engine and server metrics. A nil *Recorder is a no-op.
type Recorder struct {
	registry    *prometheus.Registry
	detections  *prometheus.CounterVec
	statuses    *prometheus.CounterVec
	locks       *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	similarity  *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
	requests    *prometheus.CounterVec
	reqDuration *prometheus.HistogramVec
	circuit     *prometheus.GaugeVec
}

// New creates a recorder registered on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		detections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_detections_total",
				Help: "Total number of raw pattern detections",
			},
			[]string{"pattern"},
		),
		statuses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_status_total",
				Help: "Total number of reported statuses",
			},
			[]string{"status"},
		),
		locks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_locks_total",
				Help: "Total number of classification lock changes",
			},
			[]string{"pattern"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		similarity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scanner_last_similarity",
				Help: "Similarity of the last detection for a key",
			},
			[]string{"key"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		reqDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"path", "method"},
		),
		circuit: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scanner_circuit_state",
				Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
			},
			[]string{"name"},
		),
	}
}

// Registry returns the registry backing the recorder, for exposition.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordDetection records a raw detection and its similarity for a key.
func (r *Recorder) RecordDetection(key, pattern string, similarity float64) {
	if r == nil {
		return
	}
	r.detections.WithLabelValues(pattern).Inc()
	r.similarity.WithLabelValues(key).Set(similarity)
}

// RecordStatus records a reported status.
func (r *Recorder) RecordStatus(status string) {
	if r == nil {
		return
	}
	r.statuses.WithLabelValues(status).Inc()
}

// RecordLock records a lock change.
func (r *Recorder) RecordLock(pattern string) {
	if r == nil {
		return
	}
	r.locks.WithLabelValues(pattern).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordRequest records a served HTTP request.
func (r *Recorder) RecordRequest(path, method string, status int, seconds float64) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	r.reqDuration.WithLabelValues(path, method).Observe(seconds)
}

var circuitLevels = map[string]float64{"CLOSED": 0, "HALF_OPEN": 1, "OPEN": 2}

// RecordCircuitState records the current state of a named circuit breaker.
func (r *Recorder) RecordCircuitState(name, state string) {
	if r == nil {
		return
	}
	r.circuit.WithLabelValues(name).Set(circuitLevels[state])
}
