package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordQueueEvent("enqueued", "ai_score_lead")
	m.RecordQueueEvent("enqueued", "ai_score_lead")
	m.SetQueueDepth("pending", 4)
	m.AddStaleReclaimed(2)
	m.RecordTick("ok", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueTransitions.WithLabelValues("enqueued", "ai_score_lead")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("pending")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueStaleReclaimed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerTicksTotal.WithLabelValues("ok")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordQueueEvent("enqueued", "ai_score_lead")
		m.RecordOutcome("ai_score_lead", "succeeded")
		m.AddInFlight(1)
		m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)
	})
}
