package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, outcomesTotal)
	require.NotNil(t, retriesTotal)
	require.NotNil(t, stageDurationSeconds)
}

func TestRecorderCountsOutcomes(t *testing.T) {
	rec := NewRecorder()

	recorded := outcomesTotal.WithLabelValues("recorded", "none")
	skipped := outcomesTotal.WithLabelValues("skipped", "no-url")
	beforeRecorded := testutil.ToFloat64(recorded)
	beforeSkipped := testutil.ToFloat64(skipped)
	beforeBytes := testutil.ToFloat64(archivedBytesTotal)

	rec.Outcome(csr.Outcome{State: csr.StateRecorded, Bytes: 2048})
	rec.Outcome(csr.Outcome{State: csr.StateSkipped, Reason: csr.ReasonNoURL})

	require.InDelta(t, beforeRecorded+1, testutil.ToFloat64(recorded), 0.001)
	require.InDelta(t, beforeSkipped+1, testutil.ToFloat64(skipped), 0.001)
	require.InDelta(t, beforeBytes+2048, testutil.ToFloat64(archivedBytesTotal), 0.001)

	retries := retriesTotal.WithLabelValues("download", "transient")
	before := testutil.ToFloat64(retries)
	rec.Retry("download", csr.KindTransient)
	require.InDelta(t, before+1, testutil.ToFloat64(retries), 0.001)

	rec.Stage("locate", 150*time.Millisecond)
	rec.WorkerStarted()
	rec.WorkerFinished()
	rec.PublishFailed()
	ObserveRateLimitDelay("search.example", time.Second)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	ts := httptest.NewServer(Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(body), "http_requests_total"))

	require.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), 1.0)
}
