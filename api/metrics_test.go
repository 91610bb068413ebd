package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoutePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/alarms/507f1f77bcf86cd799439011", "/api/v1/alarms/{id}"},
		{"/api/v1/reminders/6f1c2a4e-0d3b-4d8e-9a57-2b1f3c4d5e6f", "/api/v1/reminders/{id}"},
		{"/api/v1/alarms/1234567890123/", "/api/v1/alarms/{id}"},
		{"/api/v1/channel/token", "/api/v1/channel/token"},
		{"/", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeRoutePath(tt.path))
		})
	}
}

func TestMetricsCollector_RecordScan(t *testing.T) {
	mc := NewMetricsCollector(10)
	defer mc.Stop()

	mc.RecordScan(ScanStats{Due: 3, Fired: 2, Conflicts: 1, Delivered: 4, Duration: time.Millisecond})
	mc.RecordScan(ScanStats{Due: 1, Errors: 1})

	s := mc.Scheduler()
	assert.Equal(t, int64(2), s.Scans)
	assert.Equal(t, int64(4), s.Due)
	assert.Equal(t, int64(2), s.Fired)
	assert.Equal(t, int64(1), s.Conflicts)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(4), s.Delivered)
	assert.False(t, s.LastScan.IsZero())
}

func TestMetricsMiddleware(t *testing.T) {
	mc := NewMetricsCollector(10)
	defer mc.Stop()

	h := MetricsMiddleware(mc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/alarms/507f1f77bcf86cd799439011" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, p := range []string{
		"/api/v1/alarms/507f1f77bcf86cd799439011",
		"/api/v1/alarms/507f1f77bcf86cd799439012",
		"/health",
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", p, nil))
		if p != "/health" {
			assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
		}
	}

	require.Eventually(t, func() bool {
		return mc.GetSummary()["totalRequests"] == int64(2)
	}, time.Second, 5*time.Millisecond)

	routes := mc.GetRouteMetrics()
	require.Contains(t, routes, "GET /api/v1/alarms/{id}")
	route := routes["GET /api/v1/alarms/{id}"]
	assert.Equal(t, int64(2), route.Count)
	assert.Equal(t, int64(1), route.ErrorCount)

	assert.Len(t, mc.GetTraces(10, time.Time{}), 2)
	assert.Len(t, mc.GetSlowestRoutes(5), 1)
}

func TestMetricsCollector_TraceLimit(t *testing.T) {
	mc := NewMetricsCollector(2)
	defer mc.Stop()

	for i := 0; i < 3; i++ {
		mc.processTrace(RequestTrace{Method: "GET", Path: "/x", StartTime: time.Now()})
	}
	assert.Len(t, mc.GetTraces(10, time.Time{}), 2)
}
