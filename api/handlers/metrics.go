package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/linesmerrill/alarm-trigger-api/api"
)

// formatRouteMetrics converts duration fields to milliseconds for JSON serialization
func formatRouteMetrics(routes []api.RouteMetrics) []map[string]interface{} {
	result := make([]map[string]interface{}, len(routes))
	for i, route := range routes {
		result[i] = map[string]interface{}{
			"method":      route.Method,
			"path":        route.Path,
			"count":       route.Count,
			"errorCount":  route.ErrorCount,
			"avgTime":     route.AvgTime.Milliseconds(),
			"minTime":     route.MinTime.Milliseconds(),
			"maxTime":     route.MaxTime.Milliseconds(),
			"lastRequest": route.LastRequest,
		}
	}
	return result
}

// formatTraces converts trace durations to milliseconds
func formatTraces(traces []api.RequestTrace) []map[string]interface{} {
	result := make([]map[string]interface{}, len(traces))
	for i, trace := range traces {
		result[i] = map[string]interface{}{
			"requestId":     trace.RequestID,
			"method":        trace.Method,
			"path":          trace.Path,
			"status":        trace.Status,
			"startTime":     trace.StartTime,
			"totalDuration": trace.TotalDuration.Milliseconds(),
			"error":         trace.Error,
		}
	}
	return result
}

// MetricsHandler serves request and scheduler metrics
type MetricsHandler struct {
	Metrics *api.MetricsCollector
}

// GetMetricsDashboard returns the metrics dashboard data
func (m MetricsHandler) GetMetricsDashboard(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	since := time.Now().Add(-1 * time.Hour) // Default: last hour
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if parsed, err := time.ParseDuration(sinceStr); err == nil {
			since = time.Now().Add(-parsed)
		}
	}

	sched := m.Metrics.Scheduler()
	response := map[string]interface{}{
		"summary": m.Metrics.GetSummary(),
		"scheduler": map[string]interface{}{
			"scans":          sched.Scans,
			"due":            sched.Due,
			"fired":          sched.Fired,
			"conflicts":      sched.Conflicts,
			"errors":         sched.Errors,
			"delivered":      sched.Delivered,
			"lastScan":       sched.LastScan,
			"lastDurationMs": sched.LastDuration.Milliseconds(),
		},
		"routes": map[string]interface{}{
			"slowest": formatRouteMetrics(m.Metrics.GetSlowestRoutes(limit)),
		},
		"recentTraces": formatTraces(m.Metrics.GetTraces(limit, since)),
		"filters": map[string]interface{}{
			"limit": limit,
			"since": since,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
