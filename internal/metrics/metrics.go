// Package metrics exposes relay counters to Prometheus. A nil *Metrics is valid
// and records nothing, so components can be built without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relay"

// Upstream event kinds.
const (
	EventTranscriptDelta = "transcript_delta"
	EventResponseDone    = "response_done"
	EventOther           = "other"
)

// Metrics holds the relay collectors.
type Metrics struct {
	activeConns     prometheus.Gauge
	connsTotal      prometheus.Counter
	submissions     *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	upstreamEvents  *prometheus.CounterVec
	connects        *prometheus.CounterVec
	breakerState    prometheus.Gauge
}

// New registers the relay collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		activeConns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "client_connections_active",
			Help: "Client WebSocket connections currently open.",
		}),
		connsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "client_connections_total",
			Help: "Client WebSocket connections accepted.",
		}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "submissions_total",
			Help: "Audio submissions by result.",
		}, []string{"result"}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "submission_duration_seconds",
			Help:    "Time from receiving audio to the end of the upstream session.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		upstreamEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_events_total",
			Help: "Upstream events forwarded to clients.",
		}, []string{"kind"}),
		connects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_connects_total",
			Help: "Upstream connect attempts by outcome.",
		}, []string{"outcome"}),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "upstream_breaker_state",
			Help: "Upstream circuit breaker state (0 closed, 1 open, 2 half-open).",
		}),
	}
}

// ConnOpened and ConnClosed track live client sockets.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.activeConns.Inc()
	m.connsTotal.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

// Submission records one finished audio submission. result is "ok" or an
// error code name.
func (m *Metrics) Submission(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
	m.sessionDuration.Observe(elapsed.Seconds())
}

// UpstreamEvent counts a relayed upstream event by kind.
func (m *Metrics) UpstreamEvent(kind string) {
	if m == nil {
		return
	}
	m.upstreamEvents.WithLabelValues(kind).Inc()
}

// Connect records one dial attempt outcome ("ok" or an error code name).
func (m *Metrics) Connect(outcome string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(outcome).Inc()
}

// BreakerState exports the connect breaker state (0 closed, 1 open, 2 half-open).
func (m *Metrics) BreakerState(state uint32) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}
