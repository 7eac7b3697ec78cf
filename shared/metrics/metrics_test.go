package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.JobsClaimed.Add(5)
	m.ClaimsTotal.WithLabelValues(OutcomeClaimed).Inc()
	m.ClaimsTotal.WithLabelValues(OutcomeDecode).Inc()
	m.ClaimsTotal.WithLabelValues(OutcomeDecode).Inc()

	assert.Equal(t, float64(5), testutil.ToFloat64(m.JobsClaimed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ClaimsTotal.WithLabelValues(OutcomeClaimed)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ClaimsTotal.WithLabelValues(OutcomeDecode)))
}

func TestMetrics_SetStatusCounts(t *testing.T) {
	m := New()
	m.SetStatusCounts(map[string]int{"Queued": 12, "Running": 3, "Failed": 0})

	expected := `
# HELP jobqueue_jobs Jobs currently stored, by status.
# TYPE jobqueue_jobs gauge
jobqueue_jobs{status="Failed"} 0
jobqueue_jobs{status="Queued"} 12
jobqueue_jobs{status="Running"} 3
`
	require.NoError(t, testutil.CollectAndCompare(m.JobsByStatus, strings.NewReader(expected)))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.JobsEnqueued.Add(20)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "jobqueue_jobs_enqueued_total 20")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.JobsFailed.Inc()
	assert.Equal(t, float64(0), testutil.ToFloat64(b.JobsFailed))
}
