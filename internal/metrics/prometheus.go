package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons for the selections_rejected counter
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownItem = "unknown_item"
)

// Metrics contains all Prometheus metrics for the quote service
type Metrics struct {
	// UDP datagram metrics
	DatagramsReceived  prometheus.Counter
	ParseErrors        prometheus.Counter
	SelectionsRejected *prometheus.CounterVec
	BacklogDepth       prometheus.Gauge

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Fragment metrics
	FragmentsSent prometheus.Counter
	SendErrors    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "quote_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "quote_parse_errors_total",
			Help: "Total number of datagrams that were not a valid selection",
		}),
		SelectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quote_selections_rejected_total",
			Help: "Total number of selections rejected without sending fragments",
		}, []string{"reason"}),
		BacklogDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quote_session_backlog_depth",
			Help: "Current number of accepted selections waiting for a session worker",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quote_active_sessions",
			Help: "Current number of sessions streaming fragments",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "quote_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "quote_sessions_completed_total",
			Help: "Total number of sessions that sent every fragment",
		}),
		SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "quote_sessions_failed_total",
			Help: "Total number of sessions that ended before the last fragment",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quote_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),

		FragmentsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "quote_fragments_sent_total",
			Help: "Total number of fragment datagrams sent",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "quote_send_errors_total",
			Help: "Total number of failed fragment sends",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quote_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quote_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quote_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagramReceived increments the datagrams received counter
func (m *Metrics) RecordDatagramReceived() {
	m.DatagramsReceived.Inc()
}

// RecordParseError records a malformed selection datagram
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
	m.SelectionsRejected.WithLabelValues(ReasonMalformed).Inc()
}

// RecordRejected records a selection rejected for the given reason
func (m *Metrics) RecordRejected(reason string) {
	m.SelectionsRejected.WithLabelValues(reason).Inc()
}

// SetBacklogDepth sets the number of selections waiting for a worker
func (m *Metrics) SetBacklogDepth(depth int) {
	m.BacklogDepth.Set(float64(depth))
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int64) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionEnded records the outcome and duration of a session
func (m *Metrics) RecordSessionEnded(completed bool, durationSeconds float64) {
	if completed {
		m.SessionsCompleted.Inc()
	} else {
		m.SessionsFailed.Inc()
	}
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFragmentSent increments the fragments sent counter
func (m *Metrics) RecordFragmentSent() {
	m.FragmentsSent.Inc()
}

// RecordSendError increments the send errors counter
func (m *Metrics) RecordSendError() {
	m.SendErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
