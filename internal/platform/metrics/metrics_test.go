package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve_CountsByOutcome(t *testing.T) {
	m := New()
	m.Observe("kafka", OutcomeCommitted, "", 10*time.Millisecond)
	m.Observe("kafka", OutcomeRejected, "PRD002", time.Millisecond)
	m.Observe("kafka", OutcomeRejected, "PRD002", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("kafka", OutcomeCommitted, "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("kafka", OutcomeRejected, "PRD002")))
}

func TestObserve_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.Observe("http", OutcomeFailed, "DB001", time.Second) })
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.Observe("http", OutcomeCommitted, "", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sales_ledger_events_total{code="",outcome="committed",source="http"} 1`)
}
