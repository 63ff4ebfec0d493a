// Package metrics holds the Prometheus instrumentation for the relay.
// All record methods are nil-safe so callers can run without metrics in
// tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	FramesForwarded *prometheus.CounterVec
	FramesDropped   prometheus.Counter

	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration prometheus.Histogram

	ErrorsTotal *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "brain_relay"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of active relay sessions",
	})

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Relay session duration in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	framesForwarded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_forwarded_total",
			Help:      "Frames forwarded between client and upstream",
		},
		[]string{"direction"},
	)

	framesDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Client frames dropped before the upstream session was ready",
	})

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched",
		},
		[]string{"tool", "outcome"},
	)

	toolCallDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool handler execution time in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
	})

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Relay errors by code",
		},
		[]string{"code"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		framesForwarded,
		framesDropped,
		toolCallsTotal,
		toolCallDuration,
		errorsTotal,
	)

	return &Metrics{
		registry:         registry,
		SessionsActive:   sessionsActive,
		SessionsTotal:    sessionsTotal,
		SessionDuration:  sessionDuration,
		FramesForwarded:  framesForwarded,
		FramesDropped:    framesDropped,
		ToolCallsTotal:   toolCallsTotal,
		ToolCallDuration: toolCallDuration,
		ErrorsTotal:      errorsTotal,
	}
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) FrameForwarded(direction string) {
	if m == nil {
		return
	}
	m.FramesForwarded.WithLabelValues(direction).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) ToolCall(tool, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	m.ToolCallDuration.Observe(duration.Seconds())
}

func (m *Metrics) Error(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}
