package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/szaher/voxgate/internal/session"
)

// Metrics holds voxgate's Prometheus collectors on a private registry.
// It implements session.Observer and conversation.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionEvents    *prometheus.CounterVec
	converseTotal    *prometheus.CounterVec
	converseDuration prometheus.Histogram
	transcriptions   *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxgate_sessions_active",
			Help: "Number of live conversation sessions.",
		}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxgate_session_events_total",
			Help: "Session lifecycle events.",
		}, []string{"event"}),
		converseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxgate_converse_total",
			Help: "Conversation exchanges by outcome.",
		}, []string{"status"}),
		converseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxgate_converse_duration_seconds",
			Help:    "Latency of conversation exchanges including the generation call.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxgate_transcriptions_total",
			Help: "Transcription requests by outcome.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxgate_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
	}

	m.registry.MustRegister(
		m.sessionsActive,
		m.sessionEvents,
		m.converseTotal,
		m.converseDuration,
		m.transcriptions,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SessionEvent implements session.Observer.
func (m *Metrics) SessionEvent(event session.Event, count int) {
	m.sessionEvents.WithLabelValues(string(event)).Add(float64(count))
}

// SessionsActive implements session.Observer.
func (m *Metrics) SessionsActive(n int) {
	m.sessionsActive.Set(float64(n))
}

// ObserveConverse records one gateway call.
func (m *Metrics) ObserveConverse(ok bool, elapsed time.Duration) {
	m.converseTotal.WithLabelValues(status(ok)).Inc()
	m.converseDuration.Observe(elapsed.Seconds())
}

// RecordTranscription records one transcription attempt.
func (m *Metrics) RecordTranscription(ok bool) {
	m.transcriptions.WithLabelValues(status(ok)).Inc()
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(method, route string, code int) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// Handler returns an HTTP handler that serves Prometheus-format metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
