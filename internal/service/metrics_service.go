package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amalcenter/scheduling-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	generationDuration   prometheus.Observer
	generationSessions   *prometheus.CounterVec
	conflictTotal        *prometheus.CounterVec
	optimizerIterations  prometheus.Observer
	optimizerImprovement prometheus.Observer
	bulkItems            *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	generationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedule_generation_duration_seconds",
		Help:    "Duration of schedule generation runs",
		Buckets: prometheus.DefBuckets,
	})

	generationSessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_generation_sessions_total",
		Help: "Sessions placed and left unscheduled by generation runs",
	}, []string{"outcome"})

	conflictTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_conflicts_total",
		Help: "Conflicts detected during scheduling, by type and severity",
	}, []string{"type", "severity"})

	optimizerIterations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedule_optimizer_iterations",
		Help:    "Iterations consumed per optimization pass",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	optimizerImprovement := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedule_optimizer_improvement_percent",
		Help:    "Score improvement per optimization pass",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	bulkItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_bulk_items_total",
		Help: "Bulk operation items by operation and outcome",
	}, []string{"operation", "outcome"})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration, goroutines,
		generationDuration, generationSessions, conflictTotal, optimizerIterations, optimizerImprovement, bulkItems)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,

		generationDuration:   generationDuration,
		generationSessions:   generationSessions,
		conflictTotal:        conflictTotal,
		optimizerIterations:  optimizerIterations,
		optimizerImprovement: optimizerImprovement,
		bulkItems:            bulkItems,
	}
}

// ObserveGeneration records one schedule generation run.
func (m *MetricsService) ObserveGeneration(duration time.Duration, placed, unscheduled int) {
	if m == nil {
		return
	}
	m.generationDuration.Observe(duration.Seconds())
	m.generationSessions.WithLabelValues("placed").Add(float64(placed))
	m.generationSessions.WithLabelValues("unscheduled").Add(float64(unscheduled))
}

// RecordConflict counts a detected scheduling conflict.
func (m *MetricsService) RecordConflict(conflictType, severity string) {
	if m == nil {
		return
	}
	m.conflictTotal.WithLabelValues(conflictType, severity).Inc()
}

// ObserveOptimization records one optimizer pass.
func (m *MetricsService) ObserveOptimization(iterations int, improvementPct float64) {
	if m == nil {
		return
	}
	m.optimizerIterations.Observe(float64(iterations))
	if improvementPct > 0 {
		m.optimizerImprovement.Observe(improvementPct)
	}
}

// ObserveBulkOperation counts bulk items per outcome.
func (m *MetricsService) ObserveBulkOperation(operation string, succeeded, failed, conflicted int) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(operation, "success").Add(float64(succeeded))
	m.bulkItems.WithLabelValues(operation, "failed").Add(float64(failed))
	m.bulkItems.WithLabelValues(operation, "conflict").Add(float64(conflicted))
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// Snapshot returns aggregated metrics suitable for analytics endpoints.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
