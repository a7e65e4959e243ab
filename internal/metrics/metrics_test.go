package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConnectionGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()

	if got := testutil.ToFloat64(m.activeConns); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connsTotal); got != 2 {
		t.Errorf("total = %v, want 2", got)
	}
}

func TestSubmissionAndEvents(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Submission("ok", time.Second)
	m.Submission("CONNECT", 10*time.Millisecond)
	m.Submission("ok", 2*time.Second)
	m.UpstreamEvent(EventTranscriptDelta)
	m.UpstreamEvent(EventTranscriptDelta)
	m.Connect("ok")
	m.BreakerState(1)

	if got := testutil.ToFloat64(m.submissions.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok submissions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.submissions.WithLabelValues("CONNECT")); got != 1 {
		t.Errorf("CONNECT submissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.upstreamEvents.WithLabelValues(EventTranscriptDelta)); got != 2 {
		t.Errorf("delta events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.connects.WithLabelValues("ok")); got != 1 {
		t.Errorf("connects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.breakerState); got != 1 {
		t.Errorf("breaker state = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnOpened()
	m.ConnClosed()
	m.Submission("ok", time.Second)
	m.UpstreamEvent(EventOther)
	m.Connect("ok")
	m.BreakerState(0)
}
