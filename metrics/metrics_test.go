package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRuns))

	m.RunFinished("llm_auditor", StatusOK, 2*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("llm_auditor", StatusOK)))

	m.EventEmitted("critic", "message")
	m.EventEmitted("critic", "message")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("critic", "message")))

	m.A2ARequest("critic", StatusError, time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.a2aRequests.WithLabelValues("critic", StatusError)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("a", StatusOK, time.Second)
		m.EventEmitted("a", "message")
		m.A2ARequest("a", StatusOK, time.Second)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RunStarted()
	m.RunFinished("cerebras", StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `auditmesh_runs_total{agent="cerebras",status="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
