package api

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// RequestTrace tracks timing for a single request
type RequestTrace struct {
	RequestID     string        `json:"requestId"`
	Method        string        `json:"method"`
	Path          string        `json:"path"`
	Status        int           `json:"status"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	TotalDuration time.Duration `json:"totalDuration"`
	Error         string        `json:"error,omitempty"`
}

// RouteMetrics aggregates metrics for a specific route
type RouteMetrics struct {
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Count       int64         `json:"count"`
	ErrorCount  int64         `json:"errorCount"`
	TotalTime   time.Duration `json:"totalTime"`
	AvgTime     time.Duration `json:"avgTime"`
	MinTime     time.Duration `json:"minTime"`
	MaxTime     time.Duration `json:"maxTime"`
	LastRequest time.Time     `json:"lastRequest"`
}

// ScanStats is the outcome of one due-item scan
type ScanStats struct {
	Due       int           `json:"due"`
	Fired     int           `json:"fired"`
	Conflicts int           `json:"conflicts"`
	Errors    int           `json:"errors"`
	Delivered int           `json:"delivered"`
	Duration  time.Duration `json:"duration"`
}

// SchedulerMetrics accumulates ScanStats since start-up
type SchedulerMetrics struct {
	Scans        int64         `json:"scans"`
	Due          int64         `json:"due"`
	Fired        int64         `json:"fired"`
	Conflicts    int64         `json:"conflicts"`
	Errors       int64         `json:"errors"`
	Delivered    int64         `json:"delivered"`
	LastScan     time.Time     `json:"lastScan"`
	LastDuration time.Duration `json:"lastDuration"`
}

// MetricsCollector collects and aggregates request and scheduler metrics
type MetricsCollector struct {
	mu            sync.RWMutex
	traces        []RequestTrace
	maxTraces     int
	routeMetrics  map[string]*RouteMetrics
	windowStart   time.Time
	totalRequests int64
	totalErrors   int64
	scheduler     SchedulerMetrics

	traceChan chan RequestTrace
	stopOnce  sync.Once
	stopChan  chan struct{}
}

var (
	globalMetrics     *MetricsCollector
	globalMetricsOnce sync.Once
)

// NewMetricsCollector starts a collector keeping at most maxTraces recent traces.
// Traces are queued on a buffered channel and dropped when it is full, so recording never
// blocks a request.
func NewMetricsCollector(maxTraces int) *MetricsCollector {
	mc := &MetricsCollector{
		traces:       make([]RequestTrace, 0, maxTraces),
		maxTraces:    maxTraces,
		routeMetrics: make(map[string]*RouteMetrics),
		windowStart:  time.Now(),
		traceChan:    make(chan RequestTrace, 1000),
		stopChan:     make(chan struct{}),
	}
	go mc.processTraces()
	return mc
}

// GetMetrics returns the process-wide metrics collector
func GetMetrics() *MetricsCollector {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector(10000)
	})
	return globalMetrics
}

// Stop ends trace processing
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopChan) })
}

// RecordTrace queues a request trace; it drops the trace when the queue is full
func (mc *MetricsCollector) RecordTrace(trace RequestTrace) {
	select {
	case mc.traceChan <- trace:
	default:
	}
}

// RecordScan adds the outcome of one scan to the scheduler totals
func (mc *MetricsCollector) RecordScan(stats ScanStats) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.scheduler.Scans++
	mc.scheduler.Due += int64(stats.Due)
	mc.scheduler.Fired += int64(stats.Fired)
	mc.scheduler.Conflicts += int64(stats.Conflicts)
	mc.scheduler.Errors += int64(stats.Errors)
	mc.scheduler.Delivered += int64(stats.Delivered)
	mc.scheduler.LastScan = time.Now()
	mc.scheduler.LastDuration = stats.Duration
}

// Scheduler returns a copy of the scheduler totals
func (mc *MetricsCollector) Scheduler() SchedulerMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.scheduler
}

func (mc *MetricsCollector) processTraces() {
	for {
		select {
		case trace := <-mc.traceChan:
			mc.processTrace(trace)
		case <-mc.stopChan:
			return
		}
	}
}

func (mc *MetricsCollector) processTrace(trace RequestTrace) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.traces) >= mc.maxTraces {
		mc.traces = mc.traces[1:]
	}
	mc.traces = append(mc.traces, trace)

	path := normalizeRoutePath(trace.Path)
	routeKey := trace.Method + " " + path

	metrics, exists := mc.routeMetrics[routeKey]
	if !exists {
		metrics = &RouteMetrics{
			Method:  trace.Method,
			Path:    path,
			MinTime: trace.TotalDuration,
		}
		mc.routeMetrics[routeKey] = metrics
	}

	metrics.Count++
	metrics.TotalTime += trace.TotalDuration
	metrics.AvgTime = metrics.TotalTime / time.Duration(metrics.Count)
	metrics.LastRequest = trace.StartTime

	if trace.TotalDuration < metrics.MinTime {
		metrics.MinTime = trace.TotalDuration
	}
	if trace.TotalDuration > metrics.MaxTime {
		metrics.MaxTime = trace.TotalDuration
	}

	if trace.Status >= 400 {
		metrics.ErrorCount++
		mc.totalErrors++
	}
	mc.totalRequests++
}

// GetTraces returns up to limit traces started after since, oldest first
func (mc *MetricsCollector) GetTraces(limit int, since time.Time) []RequestTrace {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var filtered []RequestTrace
	for i := len(mc.traces) - 1; i >= 0 && len(filtered) < limit; i-- {
		if mc.traces[i].StartTime.After(since) {
			filtered = append(filtered, mc.traces[i])
		}
	}
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}
	return filtered
}

// GetRouteMetrics returns a copy of the aggregated metrics for all routes
func (mc *MetricsCollector) GetRouteMetrics() map[string]RouteMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make(map[string]RouteMetrics, len(mc.routeMetrics))
	for k, v := range mc.routeMetrics {
		result[k] = *v
	}
	return result
}

// GetSlowestRoutes returns the routes with the highest average time
func (mc *MetricsCollector) GetSlowestRoutes(limit int) []RouteMetrics {
	mc.mu.RLock()
	routes := make([]RouteMetrics, 0, len(mc.routeMetrics))
	for _, m := range mc.routeMetrics {
		routes = append(routes, *m)
	}
	mc.mu.RUnlock()

	sort.Slice(routes, func(i, j int) bool {
		return routes[i].AvgTime > routes[j].AvgTime
	})
	if limit < len(routes) {
		routes = routes[:limit]
	}
	return routes
}

// GetSummary returns overall request and scheduler metrics
func (mc *MetricsCollector) GetSummary() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var errorRate float64
	if mc.totalRequests > 0 {
		errorRate = float64(mc.totalErrors) / float64(mc.totalRequests)
	}

	return map[string]interface{}{
		"totalRequests": mc.totalRequests,
		"totalErrors":   mc.totalErrors,
		"errorRate":     errorRate,
		"windowStart":   mc.windowStart,
		"routeCount":    len(mc.routeMetrics),
		"traceCount":    len(mc.traces),
		"scheduler":     mc.scheduler,
	}
}

var (
	objectIDPattern    = regexp.MustCompile(`/[0-9a-fA-F]{24}(/|$)`)
	uuidPattern        = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}(/|$)`)
	longNumericPattern = regexp.MustCompile(`/\d{10,}(/|$)`)
)

// normalizeRoutePath replaces id segments with {id} so routes group together
//   - /api/v1/alarms/507f1f77bcf86cd799439011 -> /api/v1/alarms/{id}
func normalizeRoutePath(path string) string {
	path = objectIDPattern.ReplaceAllString(path, "/{id}$1")
	path = uuidPattern.ReplaceAllString(path, "/{id}$1")
	path = longNumericPattern.ReplaceAllString(path, "/{id}$1")

	path = strings.ReplaceAll(path, "//", "/")
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
