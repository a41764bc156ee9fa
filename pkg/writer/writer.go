// Package writer implements the Tier Writer: acquire a pooled store handle,
// insert a batch, retry transient failures with exponential backoff via
// cenkalti/backoff/v4, and isolate poison batches row-by-row. It is
// grounded on the teacher's pkg/worker health-monitor retry-counting idiom,
// generalized from container health polling to batch-insert retries.
package writer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marketprism/storage-engine/pkg/events"
	"github.com/marketprism/storage-engine/pkg/log"
	"github.com/marketprism/storage-engine/pkg/metrics"
	"github.com/marketprism/storage-engine/pkg/pool"
	"github.com/marketprism/storage-engine/pkg/store"
	"github.com/marketprism/storage-engine/pkg/types"
)

// Publisher is the Event Broker contract the Writer raises circuit-breaker
// transitions on. Satisfied by *events.Broker.
type Publisher interface {
	Publish(event *events.Event)
}

// Config tunes retry and circuit-breaker behavior, per spec.md §4.5 and §7.
type Config struct {
	MaxRetries           int
	BaseDelay            time.Duration
	Multiplier           float64
	MaxDelay             time.Duration
	MaxConsecutiveErrors int
	BreakerCooldown      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxConsecutiveErrors == 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// TableNamer maps a data type to its fully-qualified hot table name.
type TableNamer func(dt types.DataType) string

// ColumnNamer maps a data type to its declared column order.
type ColumnNamer func(dt types.DataType) []string

// maxLatencySamples bounds the rolling window used for the Admin Facade's
// p50/p95 write-latency view, mirroring the "keep last N samples" idiom
// used for RPC latency tracking in the wider example corpus.
const maxLatencySamples = 1000

// WriteStats summarizes write throughput and latency for the Admin
// Facade's /stats endpoint (spec.md §6.3). It is a snapshot, not a
// reference — the Writer itself remains the only source of truth.
type WriteStats struct {
	TotalWrites      int64
	SuccessfulWrites int64
	FailedWrites     int64
	LatencyP50Ms     float64
	LatencyP95Ms     float64
	ErrorsByType     map[types.DataType]int64
}

// Writer performs batch inserts with retry, backoff, and poison isolation.
type Writer struct {
	cfg     Config
	pool    *pool.Pool
	table   TableNamer
	columns ColumnNamer
	pub     Publisher

	mu             sync.Mutex
	consecutiveErr map[types.DataType]int
	breakerUntil   map[types.DataType]time.Time

	statsMu      sync.Mutex
	total        int64
	success      int64
	failed       int64
	failedByType map[types.DataType]int64
	latency      []time.Duration
}

// New creates a Writer. p must hand out store.Handle-compatible pool
// handles (pool.Handle is a minimal Close()-only interface; Writer type
// -asserts to store.Handle internally).
func New(cfg Config, p *pool.Pool, table TableNamer, columns ColumnNamer) *Writer {
	return &Writer{
		cfg:            cfg.withDefaults(),
		pool:           p,
		table:          table,
		columns:        columns,
		consecutiveErr: make(map[types.DataType]int),
		breakerUntil:   make(map[types.DataType]time.Time),
		failedByType:   make(map[types.DataType]int64),
	}
}

// SetPublisher wires the writer to raise circuit-breaker transition events
// (spec.md §7, §8). Optional; a nil publisher keeps the writer silent.
func (w *Writer) SetPublisher(pub Publisher) {
	w.pub = pub
}

// Write inserts batch for data type dt, retrying transient failures and
// isolating poison batches row-by-row, per spec.md §4.5.
func (w *Writer) Write(ctx context.Context, dt types.DataType, batch []types.Record) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()

	if until, open := w.breakerOpen(dt); open {
		return types.NewStoreError(types.KindStoreTransient, "", fmt.Errorf("circuit breaker open until %s", until))
	}

	handle, err := w.pool.Acquire(ctx)
	if err != nil {
		w.recordFailure(dt)
		w.recordStats(dt, false, time.Since(start))
		metrics.WritesTotal.WithLabelValues(string(dt), "pool_exhausted").Inc()
		return err
	}
	sh, ok := handle.(store.Handle)
	if !ok {
		w.pool.Release(handle)
		return fmt.Errorf("pool handle for %s does not implement store.Handle", dt)
	}
	defer w.pool.Release(handle)

	rows := toRows(batch)
	table := w.table(dt)
	columns := w.columns(dt)

	err = w.writeWithRetry(ctx, sh, table, columns, rows, dt)
	if err == nil {
		w.recordSuccess(dt)
		w.recordStats(dt, true, time.Since(start))
		metrics.WritesTotal.WithLabelValues(string(dt), "success").Inc()
		return nil
	}

	if types.IsPoison(err) {
		dropped := w.isolateRows(ctx, sh, table, columns, rows, dt)
		metrics.RowsDropped.WithLabelValues(string(dt)).Add(float64(dropped))
		metrics.WritesTotal.WithLabelValues(string(dt), "poison_isolated").Inc()
		w.recordFailure(dt)
		w.recordStats(dt, false, time.Since(start))
		return nil // batch-level error absorbed; row-level drops are logged and counted
	}

	w.recordFailure(dt)
	w.recordStats(dt, false, time.Since(start))
	metrics.WritesTotal.WithLabelValues(string(dt), "failed").Inc()
	return err
}

// recordStats updates the rolling throughput/latency window backing Stats.
func (w *Writer) recordStats(dt types.DataType, success bool, latency time.Duration) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	w.total++
	if success {
		w.success++
	} else {
		w.failed++
		w.failedByType[dt]++
	}
	w.latency = append(w.latency, latency)
	if len(w.latency) > maxLatencySamples {
		w.latency = w.latency[len(w.latency)-maxLatencySamples:]
	}
}

// Stats snapshots throughput and latency percentiles for the Admin
// Facade's /stats endpoint.
func (w *Writer) Stats() WriteStats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	errsByType := make(map[types.DataType]int64, len(w.failedByType))
	for dt, n := range w.failedByType {
		errsByType[dt] = n
	}
	stats := WriteStats{TotalWrites: w.total, SuccessfulWrites: w.success, FailedWrites: w.failed, ErrorsByType: errsByType}
	if len(w.latency) == 0 {
		return stats
	}

	sorted := make([]time.Duration, len(w.latency))
	copy(sorted, w.latency)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	p50 := sorted[minInt(n-1, n*50/100)]
	p95 := sorted[minInt(n-1, n*95/100)]
	stats.LatencyP50Ms = float64(p50) / float64(time.Millisecond)
	stats.LatencyP95Ms = float64(p95) / float64(time.Millisecond)
	return stats
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (w *Writer) writeWithRetry(ctx context.Context, sh store.Handle, table string, columns []string, rows []map[string]any, dt types.DataType) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.BaseDelay
	bo.Multiplier = w.cfg.Multiplier
	bo.MaxInterval = w.cfg.MaxDelay
	bo.MaxElapsedTime = 0 // bounded by MaxRetries below, not wall-clock

	policy := backoff.WithMaxRetries(bo, uint64(w.cfg.MaxRetries))

	attempt := 0
	operation := func() error {
		err := sh.Insert(ctx, table, columns, rows, store.JSONEachRow)
		if err == nil {
			return nil
		}
		attempt++
		if types.IsRetryable(err) {
			metrics.WriteRetries.WithLabelValues(string(dt)).Inc()
			return err // retried by backoff.Retry
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, policy)
	if err != nil {
		log.WithDataType(string(dt)).Error().Err(err).Int("attempts", attempt).Msg("batch insert failed after retries")
	}
	return err
}

// isolateRows retries each row individually; rows that still fail are
// dropped and logged, bounding the blast radius of one malformed payload
// (spec.md §4.5 step 6). It returns the number of rows dropped.
func (w *Writer) isolateRows(ctx context.Context, sh store.Handle, table string, columns []string, rows []map[string]any, dt types.DataType) int {
	dropped := 0
	for _, row := range rows {
		if err := sh.Insert(ctx, table, columns, []map[string]any{row}, store.JSONEachRow); err != nil {
			dropped++
			log.WithDataType(string(dt)).Warn().Interface("row", row).Err(err).Msg("row dropped after poison isolation")
		}
	}
	return dropped
}

// BreakerOpen reports whether the circuit breaker for dt is currently
// tripped, for the Admin Facade's status endpoint.
func (w *Writer) BreakerOpen(dt types.DataType) bool {
	_, open := w.breakerOpen(dt)
	return open
}

func (w *Writer) breakerOpen(dt types.DataType) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	until, ok := w.breakerUntil[dt]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().Before(until) {
		metrics.CircuitBreakerOpen.WithLabelValues(string(dt)).Set(1)
		return until, true
	}
	metrics.CircuitBreakerOpen.WithLabelValues(string(dt)).Set(0)
	return time.Time{}, false
}

func (w *Writer) recordFailure(dt types.DataType) {
	w.mu.Lock()
	w.consecutiveErr[dt]++
	opened := false
	if w.consecutiveErr[dt] >= w.cfg.MaxConsecutiveErrors {
		_, alreadyOpen := w.breakerUntil[dt]
		w.breakerUntil[dt] = time.Now().Add(w.cfg.BreakerCooldown)
		metrics.CircuitBreakerOpen.WithLabelValues(string(dt)).Set(1)
		opened = !alreadyOpen
	}
	w.mu.Unlock()

	if opened && w.pub != nil {
		w.pub.Publish(events.New(events.EventCircuitBreakerOpened, fmt.Sprintf("circuit breaker opened for %s", dt)))
	}
}

func (w *Writer) recordSuccess(dt types.DataType) {
	w.mu.Lock()
	_, wasOpen := w.breakerUntil[dt]
	w.consecutiveErr[dt] = 0
	delete(w.breakerUntil, dt)
	metrics.CircuitBreakerOpen.WithLabelValues(string(dt)).Set(0)
	w.mu.Unlock()

	if wasOpen && w.pub != nil {
		w.pub.Publish(events.New(events.EventCircuitBreakerClosed, fmt.Sprintf("circuit breaker closed for %s", dt)))
	}
}

// toRows maps each record onto the single-payload-column shape pkg/schema
// declares: the envelope fields become their own columns, and the
// data-type-specific fields are packed into one "payload" JSON string
// column rather than flattened onto top level, where JSONEachRow would
// reject any key the table doesn't declare. A record whose payload can't be
// marshaled is dropped rather than sent and rejected as poison.
func toRows(batch []types.Record) []map[string]any {
	rows := make([]map[string]any, 0, len(batch))
	for _, r := range batch {
		payload, err := r.MarshalPayload()
		if err != nil {
			log.WithDataType(string(r.Type)).Warn().Err(err).Msg("dropping record with unmarshalable payload")
			continue
		}
		rows = append(rows, map[string]any{
			"exchange":    r.Exchange,
			"market_type": string(r.MarketType),
			"symbol":      r.Symbol,
			"timestamp":   r.Timestamp,
			"payload":     string(payload),
		})
	}
	return rows
}
