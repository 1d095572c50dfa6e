// Package metrics provides Prometheus metrics export for relay sessions.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/ccrelay/ai/runner"
)

const namespace = "ccrelay"

// PrometheusExporter exports relay metrics in Prometheus format. It
// implements runner.Observer.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Session metrics
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
	sessionActive    prometheus.Gauge

	// Stream metrics
	toolCalls   *prometheus.CounterVec
	unparseable prometheus.Counter

	// Delivery metrics
	deliveries *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for the session duration histogram (in seconds)
	DurationBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		DurationBuckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = DefaultConfig().DurationBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.sessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Total number of claude sessions started",
		},
	)

	e.sessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Total number of claude sessions finished, by final state",
		},
		[]string{"state"},
	)

	e.sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Session wall-clock duration in seconds",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"state"},
	)

	e.sessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of running sessions (0 or 1)",
		},
	)

	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations reported by claude",
		},
		[]string{"tool_name"},
	)

	e.unparseable = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "unparseable_lines_total",
			Help:      "Total number of stdout lines that were not valid stream records",
		},
	)

	e.deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "operations_total",
			Help:      "Total number of outbound chat operations",
		},
		[]string{"kind", "status"},
	)

	registry.MustRegister(
		e.sessionsStarted,
		e.sessionsFinished,
		e.sessionDuration,
		e.sessionActive,
		e.toolCalls,
		e.unparseable,
		e.deliveries,
	)

	return e
}

// SessionStarted records a session start.
func (e *PrometheusExporter) SessionStarted(string) {
	e.sessionsStarted.Inc()
	e.sessionActive.Inc()
}

// SessionFinished records the final state and duration of a session.
func (e *PrometheusExporter) SessionFinished(_ string, state runner.State, duration time.Duration) {
	e.sessionActive.Dec()
	e.sessionsFinished.WithLabelValues(string(state)).Inc()
	e.sessionDuration.WithLabelValues(string(state)).Observe(duration.Seconds())
}

// ToolUsed records a tool invocation.
func (e *PrometheusExporter) ToolUsed(toolName string) {
	e.toolCalls.WithLabelValues(toolName).Inc()
}

// Delivered records one outbound operation.
func (e *PrometheusExporter) Delivered(kind runner.DeliveryKind, err error) {
	status := "success"
	switch {
	case errors.Is(err, context.Canceled):
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	e.deliveries.WithLabelValues(string(kind), status).Inc()
}

// Unparseable records a stdout line that could not be decoded.
func (e *PrometheusExporter) Unparseable() {
	e.unparseable.Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}

var _ runner.Observer = (*PrometheusExporter)(nil)
