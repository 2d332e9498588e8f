package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveRequest(http.MethodGet, "/workspaces", 200, 10*time.Millisecond)
	c.ObserveRequest(http.MethodGet, "/workspaces", 200, 20*time.Millisecond)
	c.RecordAuthAttempt("signin", false)
	c.RecordWorkspaceWrite("update")
	c.RecordSideEffectFailure("search")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("GET", "/workspaces", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.authAttempts.WithLabelValues("signin", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workspaceWrites.WithLabelValues("update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sideEffectFails.WithLabelValues("search")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordWorkspaceWrite("create")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `canvas_workspace_writes_total{op="create"} 1`))
}
