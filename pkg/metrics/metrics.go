package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus Subscriber metrics
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_messages_received_total",
			Help: "Total number of bus messages received, by data type",
		},
		[]string{"type"},
	)

	MessagesStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_messages_stored_total",
			Help: "Total number of records persisted to the hot tier, by data type",
		},
		[]string{"type"},
	)

	MessagesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_messages_rejected_total",
			Help: "Total number of bus messages rejected (non-JSON, schema mismatch), by data type",
		},
		[]string{"type", "reason"},
	)

	// Batch Queue Manager metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_queue_depth",
			Help: "Current number of records pending in the batch queue, by data type",
		},
		[]string{"type"},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_flushes_total",
			Help: "Total number of batch flushes attempted, by data type and trigger",
		},
		[]string{"type", "trigger"},
	)

	FlushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_flush_latency_seconds",
			Help:    "Time taken to flush a batch into the hot tier",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Tier Writer metrics
	WritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_writes_total",
			Help: "Total number of batch writes, by data type and outcome",
		},
		[]string{"type", "outcome"},
	)

	WriteRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_write_retries_total",
			Help: "Total number of batch write retries, by data type",
		},
		[]string{"type"},
	)

	RowsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_rows_dropped_total",
			Help: "Total number of rows dropped after row-by-row poison isolation",
		},
		[]string{"type"},
	)

	CircuitBreakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_circuit_breaker_open",
			Help: "Whether the tier writer's circuit breaker is currently open (1) or closed (0), by data type",
		},
		[]string{"type"},
	)

	// Connection Pool metrics
	PoolHandlesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_pool_handles_in_use",
			Help: "Number of connection pool handles currently checked out",
		},
	)

	PoolHandlesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_pool_handles_total",
			Help: "Total number of connection pool handles (checked out + idle)",
		},
	)

	PoolWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storage_pool_wait_seconds",
			Help:    "Time spent waiting to acquire a connection pool handle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Migration Engine metrics
	MigrationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_migration_cycles_total",
			Help: "Total number of migration cycles completed",
		},
	)

	MigrationTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_migration_tasks_total",
			Help: "Total number of migration tasks, by outcome",
		},
		[]string{"outcome"},
	)

	MigrationRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_migration_records_total",
			Help: "Total number of records migrated from hot to cold",
		},
	)

	MigrationCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storage_migration_cycle_duration_seconds",
			Help:    "Time taken for a full migration cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Cleanup Engine metrics
	CleanupCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_cleanup_cycles_total",
			Help: "Total number of cleanup cycles completed",
		},
	)

	CleanupPartitionsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_cleanup_partitions_dropped_total",
			Help: "Total number of partitions dropped by cleanup, by table",
		},
		[]string{"table"},
	)

	CleanupCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storage_cleanup_cycle_duration_seconds",
			Help:    "Time taken for a full cleanup cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Admin / API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_api_requests_total",
			Help: "Total number of admin API requests by method and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_api_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// Scheduler metrics
	SchedulerSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_scheduler_overlap_skipped_total",
			Help: "Total number of scheduled runs skipped because the previous run was still in progress",
		},
		[]string{"task"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesReceived,
		MessagesStored,
		MessagesRejected,
		QueueDepth,
		FlushesTotal,
		FlushLatency,
		WritesTotal,
		WriteRetries,
		RowsDropped,
		CircuitBreakerOpen,
		PoolHandlesInUse,
		PoolHandlesTotal,
		PoolWaitDuration,
		MigrationCyclesTotal,
		MigrationTasksTotal,
		MigrationRecordsTotal,
		MigrationCycleDuration,
		CleanupCyclesTotal,
		CleanupPartitionsDropped,
		CleanupCycleDuration,
		APIRequestsTotal,
		APIRequestDuration,
		SchedulerSkippedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
