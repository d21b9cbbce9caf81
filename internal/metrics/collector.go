// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every Prometheus metric the memory substrate emits.
type Collector struct {
	// Write path
	writesTotal   *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec

	// Read path
	searchesTotal  *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec

	// Cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Secondary backends
	projectionFailures *prometheus.CounterVec
	backendDuration    *prometheus.HistogramVec

	// Reflection lifecycle
	feedbackProcessed *prometheus.CounterVec
	conflictRetries   *prometheus.CounterVec

	// Background jobs
	jobRunsTotal *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	expiredSwept prometheus.Counter

	// Database pool
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector registers all metric vectors under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Total number of packet writes by segment and status",
		},
		[]string{"segment", "status"},
	)

	c.writeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_write_duration_seconds",
			Help:      "Packet write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"segment"},
	)

	c.searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_searches_total",
			Help:      "Total number of searches by kind and serving source",
		},
		[]string{"kind", "source"}, // kind: keyword, semantic, graph, lineage; source: cache, store, graph
	)

	c.searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_search_duration_seconds",
			Help:      "Search duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.projectionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_failures_total",
			Help:      "Total number of swallowed secondary-backend failures",
		},
		[]string{"backend"},
	)

	c.backendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_operation_duration_seconds",
			Help:      "Backend operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.feedbackProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_processed_total",
			Help:      "Total number of feedback events processed by type and outcome",
		},
		[]string{"feedback_type", "outcome"}, // outcome: applied, derived, noop, replay
	)

	c.conflictRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Total number of optimistic-version conflict retries",
		},
		[]string{"entity"},
	)

	c.jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total number of background job runs by job and status",
		},
		[]string{"job", "status"},
	)

	c.jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"job"},
	)

	c.expiredSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_records_swept_total",
			Help:      "Total number of expired packets and reflections removed",
		},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordWrite records one packet write.
func (c *Collector) RecordWrite(segment, status string, duration time.Duration) {
	c.writesTotal.WithLabelValues(segment, status).Inc()
	c.writeDuration.WithLabelValues(segment).Observe(duration.Seconds())
}

// RecordSearch records one search and which backend served it.
func (c *Collector) RecordSearch(kind, source string, duration time.Duration) {
	c.searchesTotal.WithLabelValues(kind, source).Inc()
	c.searchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordProjectionFailure records a swallowed secondary-backend failure.
func (c *Collector) RecordProjectionFailure(backend string) {
	c.projectionFailures.WithLabelValues(backend).Inc()
}

// RecordBackendOperation records one backend call's duration.
func (c *Collector) RecordBackendOperation(backend, operation string, duration time.Duration) {
	c.backendDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordFeedbackProcessed records the outcome of processing a feedback event.
func (c *Collector) RecordFeedbackProcessed(feedbackType, outcome string) {
	c.feedbackProcessed.WithLabelValues(feedbackType, outcome).Inc()
}

// RecordConflictRetry records one optimistic-concurrency retry.
func (c *Collector) RecordConflictRetry(entity string) {
	c.conflictRetries.WithLabelValues(entity).Inc()
}

// RecordJobRun records one background job run.
func (c *Collector) RecordJobRun(job, status string, duration time.Duration) {
	c.jobRunsTotal.WithLabelValues(job, status).Inc()
	c.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordExpiredSwept adds to the expired-record sweep counter.
func (c *Collector) RecordExpiredSwept(count int64) {
	if count > 0 {
		c.expiredSwept.Add(float64(count))
	}
}

// SetDBConnections updates the database pool gauges.
func (c *Collector) SetDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}
