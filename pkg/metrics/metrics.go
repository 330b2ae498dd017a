package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the call service
type Metrics struct {
	// HTTP request metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Call lifecycle metrics
	callsInitiatedTotal *prometheus.CounterVec
	callOutcomesTotal   *prometheus.CounterVec
	callDurationSeconds *prometheus.HistogramVec
	callsActive         prometheus.Gauge

	// Signaling metrics
	signalsDispatchedTotal *prometheus.CounterVec
	signalsDroppedTotal    *prometheus.CounterVec

	// Push fanout metrics
	pushNotificationsTotal *prometheus.CounterVec

	// WebSocket metrics
	websocketConnections prometheus.Gauge
}

// NewMetrics creates and registers the call service metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		callsInitiatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_initiated_total",
				Help:        "Total number of call attempts",
				ConstLabels: labels,
			},
			[]string{"call_type"},
		),
		callOutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_outcomes_total",
				Help:        "Call outcomes by final status",
				ConstLabels: labels,
			},
			[]string{"call_type", "status"},
		),
		callDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of answered calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{15, 60, 300, 900, 1800, 3600},
			},
			[]string{"call_type"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Calls currently in a non-terminal state",
				ConstLabels: labels,
			},
		),
		signalsDispatchedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_signals_dispatched_total",
				Help:        "Signals delivered to the state machine",
				ConstLabels: labels,
			},
			[]string{"signal_type"},
		),
		signalsDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_signals_dropped_total",
				Help:        "Signals discarded before dispatch",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		pushNotificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_push_notifications_total",
				Help:        "Push notifications sent for call actions",
				ConstLabels: labels,
			},
			[]string{"action", "result"},
		),
		websocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Open signal stream WebSocket connections",
				ConstLabels: labels,
			},
		),
	}
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCallInitiated counts a call attempt
func (m *Metrics) RecordCallInitiated(callType string) {
	m.callsInitiatedTotal.WithLabelValues(callType).Inc()
}

// RecordCallOutcome counts a terminal call status and, for answered calls,
// observes the duration
func (m *Metrics) RecordCallOutcome(callType, status string, duration time.Duration) {
	m.callOutcomesTotal.WithLabelValues(callType, status).Inc()
	if duration > 0 {
		m.callDurationSeconds.WithLabelValues(callType).Observe(duration.Seconds())
	}
}

// CallStarted tracks a call entering a non-terminal state
func (m *Metrics) CallStarted() { m.callsActive.Inc() }

// CallEnded tracks a call leaving its non-terminal state
func (m *Metrics) CallEnded() { m.callsActive.Dec() }

// RecordSignalDispatched counts a signal delivered to the machine
func (m *Metrics) RecordSignalDispatched(signalType string) {
	m.signalsDispatchedTotal.WithLabelValues(signalType).Inc()
}

// RecordSignalDropped counts a discarded signal (stale, duplicate, malformed)
func (m *Metrics) RecordSignalDropped(reason string) {
	m.signalsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordPush counts a push fanout attempt
func (m *Metrics) RecordPush(action, result string) {
	m.pushNotificationsTotal.WithLabelValues(action, result).Inc()
}

// WebSocketConnected tracks an opened signal stream connection
func (m *Metrics) WebSocketConnected() { m.websocketConnections.Inc() }

// WebSocketDisconnected tracks a closed signal stream connection
func (m *Metrics) WebSocketDisconnected() { m.websocketConnections.Dec() }
