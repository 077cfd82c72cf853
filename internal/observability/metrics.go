package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects client-side counters for the chat transport and the REST
// fallback.
//
// All methods are safe on a nil *Metrics so components can be built without
// instrumentation.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.FrameReceived("new_message")
//	metrics.RecordSend("rest", "success")
type Metrics struct {
	// FramesReceived counts inbound websocket frames.
	// Labels: type (new_message|history|pong|error|...)
	FramesReceived *prometheus.CounterVec

	// FramesSent counts outbound websocket frames.
	// Labels: type
	FramesSent *prometheus.CounterVec

	// FrameErrors counts frames that could not be decoded or written.
	// Labels: stage (decode|write)
	FrameErrors *prometheus.CounterVec

	// ConnectAttempts counts websocket handshakes.
	// Labels: result (success|error|timeout|superseded)
	ConnectAttempts *prometheus.CounterVec

	// ActiveConnections is 1 while the channel is open.
	ActiveConnections prometheus.Gauge

	// Sends counts user message submissions.
	// Labels: path (live|rest), result (success|error)
	Sends *prometheus.CounterVec

	// APIRequestDuration measures REST call latency.
	// Labels: method, endpoint, status_code
	// Buckets: 0.01s, 0.05s, 0.1s, 0.25s, 0.5s, 1s, 2.5s, 5s, 10s
	APIRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the client metrics and registers them with reg.
// Passing nil registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		FramesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalcheck_ws_frames_received_total",
				Help: "Total number of websocket frames received by type",
			},
			[]string{"type"},
		),

		FramesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalcheck_ws_frames_sent_total",
				Help: "Total number of websocket frames sent by type",
			},
			[]string{"type"},
		),

		FrameErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalcheck_ws_frame_errors_total",
				Help: "Total number of websocket frames that failed to decode or write",
			},
			[]string{"stage"},
		),

		ConnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalcheck_ws_connect_attempts_total",
				Help: "Total number of websocket connection attempts by result",
			},
			[]string{"result"},
		),

		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "legalcheck_ws_active_connections",
				Help: "Number of open websocket connections",
			},
		),

		Sends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalcheck_chat_sends_total",
				Help: "Total number of user message sends by delivery path and result",
			},
			[]string{"path", "result"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "legalcheck_api_request_duration_seconds",
				Help:    "Duration of REST API requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint", "status_code"},
		),
	}
}

// FrameReceived increments the inbound frame counter.
func (m *Metrics) FrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(frameType).Inc()
}

// FrameSent increments the outbound frame counter.
func (m *Metrics) FrameSent(frameType string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(frameType).Inc()
}

// FrameError records a frame that failed at the given stage.
func (m *Metrics) FrameError(stage string) {
	if m == nil {
		return
	}
	m.FrameErrors.WithLabelValues(stage).Inc()
}

// RecordConnect records the outcome of a handshake.
//
// Example:
//
//	metrics.RecordConnect("timeout")
func (m *Metrics) RecordConnect(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

// ConnectionOpened marks a connection as live.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed marks a live connection as gone.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// RecordSend counts one user message by delivery path.
func (m *Metrics) RecordSend(path, result string) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(path, result).Inc()
}

// RecordAPIRequest records one REST call.
//
// Example:
//
//	start := time.Now()
//	// ... perform request ...
//	metrics.RecordAPIRequest("GET", "documents/chat", "200", time.Since(start).Seconds())
func (m *Metrics) RecordAPIRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.APIRequestDuration.WithLabelValues(method, endpoint, statusCode).Observe(durationSeconds)
}
