// Package migration implements the Migration Engine: discover aged hot
// partitions, copy them to cold with verified row-count parity, then drop
// them from hot. It is grounded on the teacher's pkg/reconciler cycle shape
// — reconcile() decomposed into reconcileNodes/reconcileContainers — here
// reshaped into RunCycle decomposed into discover/copy/verify/drop per task.
package migration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marketprism/storage-engine/pkg/events"
	"github.com/marketprism/storage-engine/pkg/log"
	"github.com/marketprism/storage-engine/pkg/metrics"
	"github.com/marketprism/storage-engine/pkg/store"
	"github.com/marketprism/storage-engine/pkg/types"
)

// Publisher is the Event Broker contract the Migration Engine raises cycle
// and task alerts on. Satisfied by *events.Broker.
type Publisher interface {
	Publish(event *events.Event)
}

// Catalog exposes the hot tier's partition metadata. A real implementation
// queries the DBMS's partition catalog system table; pkg/store doesn't wrap
// this directly since its shape is store-specific, so Engine takes it as a
// narrow interface instead.
type Catalog interface {
	// ActivePartitions returns every active partition for table older than
	// ageThreshold (by max event time).
	ActivePartitions(ctx context.Context, table string, ageThreshold time.Duration) ([]types.PartitionInfo, error)
	// ReadPage pages through a partition ordered by timestamp, producing
	// JSON-each-row payloads. offset/limit follow batch_size paging.
	ReadPage(ctx context.Context, table, partition string, offset, limit int) ([]map[string]any, error)
}

// Config tunes migration cadence and bounds, per spec.md §4.7.
type Config struct {
	AgeThreshold    time.Duration
	PageSize        int
	ParallelWorkers int
	SizeThresholdMB int64
	VerificationOn  bool
	WindowStartHour int
	WindowEndHour   int
	WindowEnabled   bool
}

func (c Config) withDefaults() Config {
	if c.AgeThreshold == 0 {
		c.AgeThreshold = 24 * time.Hour
	}
	if c.PageSize == 0 {
		c.PageSize = 10000
	}
	if c.ParallelWorkers == 0 {
		c.ParallelWorkers = 4
	}
	// Verification is mandatory, not an opt-in knob: spec.md §4.7 requires a
	// row-count check before every drop.
	c.VerificationOn = true
	return c
}

// Engine runs migration cycles across every migratable table.
type Engine struct {
	cfg          Config
	catalog      Catalog
	hot          store.Handle
	cold         store.Handle
	coldDatabase string
	tables       []string // fully-qualified hot table names, e.g. "marketprism_hot.hot_trades"
	manifest     *Manifest
	pub          Publisher
}

// SetPublisher wires the engine to raise migration cycle/task events
// (spec.md §7, §8). Optional; a nil publisher keeps it silent.
func (e *Engine) SetPublisher(pub Publisher) {
	e.pub = pub
}

// New creates an Engine bound to the hot and cold store handles plus the
// catalog used for partition discovery. coldDatabase is the cold store's
// database name, used to build fully-qualified cold table names independent
// of the hot table's own qualifier.
func New(cfg Config, catalog Catalog, hot, cold store.Handle, coldDatabase string, tables []string) *Engine {
	return &Engine{
		cfg: cfg.withDefaults(), catalog: catalog, hot: hot, cold: cold,
		coldDatabase: coldDatabase, tables: tables, manifest: NewManifest(0),
	}
}

// Manifest returns the engine's in-memory record of completed migrations.
func (e *Engine) Manifest() *Manifest { return e.manifest }

// CycleResult summarizes one RunCycle invocation for the Admin Facade.
type CycleResult struct {
	TotalTasks      int
	Successful      int
	Failed          int
	RecordsMigrated int64
	Results         []types.MigrationResult
}

// RunCycle discovers, sorts, and executes migration tasks for one cycle. It
// is a no-op outside the configured daily window, per spec.md §4.7.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	if e.cfg.WindowEnabled && !e.inWindow(time.Now()) {
		log.WithComponent("migration").Debug().Msg("outside migration window; skipping cycle")
		return CycleResult{}, nil
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.MigrationCycleDuration)
		metrics.MigrationCyclesTotal.Inc()
	}()

	tasks, err := e.discover(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("discover migration tasks: %w", err)
	}

	sortTasks(tasks)

	result := e.runTasks(ctx, tasks)
	metrics.MigrationRecordsTotal.Add(float64(result.RecordsMigrated))
	e.manifest.RecordCycle(result)

	if e.pub != nil {
		e.pub.Publish(events.New(events.EventMigrationCycleCompleted, fmt.Sprintf(
			"migration cycle: %d/%d tasks succeeded, %d records migrated",
			result.Successful, result.TotalTasks, result.RecordsMigrated,
		)))
	}

	return result, nil
}

// runTasks executes every task through a pool of cfg.ParallelWorkers
// workers, per spec.md §4.7's bounded cross-table parallelism, and
// aggregates their outcomes. Tasks across different tables share no state,
// so running them concurrently is safe; sortTasks has already ordered the
// input by priority, which only affects scheduling order into the pool, not
// the aggregate outcome.
func (e *Engine) runTasks(ctx context.Context, tasks []types.MigrationTask) CycleResult {
	result := CycleResult{TotalTasks: len(tasks)}
	if len(tasks) == 0 {
		return result
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.ParallelWorkers)

	for _, task := range tasks {
		task := task
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			r := e.runTask(ctx, task)

			mu.Lock()
			defer mu.Unlock()
			result.Results = append(result.Results, r)
			if r.Success {
				result.Successful++
				result.RecordsMigrated += r.RecordsMigrated
				metrics.MigrationTasksTotal.WithLabelValues("success").Inc()
			} else {
				result.Failed++
				metrics.MigrationTasksTotal.WithLabelValues("failed").Inc()
			}
		}()
	}
	wg.Wait()

	return result
}

func (e *Engine) inWindow(now time.Time) bool {
	h := now.Hour()
	if e.cfg.WindowStartHour <= e.cfg.WindowEndHour {
		return h >= e.cfg.WindowStartHour && h < e.cfg.WindowEndHour
	}
	// wraps past midnight
	return h >= e.cfg.WindowStartHour || h < e.cfg.WindowEndHour
}

// discover queries the partition catalog for every table and computes each
// candidate task's priority, per spec.md §4.7.
func (e *Engine) discover(ctx context.Context) ([]types.MigrationTask, error) {
	var tasks []types.MigrationTask
	for _, table := range e.tables {
		partitions, err := e.catalog.ActivePartitions(ctx, table, e.cfg.AgeThreshold)
		if err != nil {
			log.WithComponent("migration").Error().Err(err).Str("table", table).Msg("partition discovery failed; will retry next cycle")
			continue
		}
		dt := tableDataType(table)
		thresholdBytes := e.cfg.SizeThresholdMB * 1024 * 1024
		for _, p := range partitions {
			tasks = append(tasks, types.MigrationTask{
				ID:          fmt.Sprintf("%s/%s", table, p.Partition),
				Type:        dt,
				HotTable:    table,
				ColdTable:   fmt.Sprintf("%s.%s", e.coldDatabase, types.TableName(types.TierCold, dt)),
				Partition:   p.Partition,
				StartTime:   p.MinTime,
				EndTime:     p.MaxTime,
				Priority:    types.MigrationPriority(dt, p.SizeBytes, thresholdBytes),
				RecordCount: p.RecordCount,
				SizeBytes:   p.SizeBytes,
			})
		}
	}
	return tasks, nil
}

// sortTasks orders by priority descending, then start_time ascending, per
// spec.md §4.7 "Execution".
func sortTasks(tasks []types.MigrationTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].StartTime.Before(tasks[j].StartTime)
	})
}

// runTask executes read -> write -> verify -> drop for one task. A failure
// at any step stops the task without dropping the hot partition, so the
// next cycle picks it up again (idempotent re-copy via replacing merge).
func (e *Engine) runTask(ctx context.Context, task types.MigrationTask) types.MigrationResult {
	result := types.MigrationResult{Task: task, StartedAt: time.Now()}
	logger := log.WithComponent("migration")

	hotTable := task.HotTable
	coldTable := task.ColdTable

	migrated, err := e.copyPartition(ctx, hotTable, coldTable, task.Partition)
	if err != nil {
		logger.Error().Err(err).Str("task", task.ID).Msg("copy failed; partition remains in hot")
		result.Error = err.Error()
		result.FinishedAt = time.Now()
		e.publishTaskFailed(task, result.Error)
		return result
	}
	result.RecordsMigrated = migrated

	if e.cfg.VerificationOn {
		ok, err := e.verify(ctx, hotTable, coldTable, task.Partition)
		if err != nil {
			result.Error = fmt.Sprintf("verification error: %v", err)
			result.FinishedAt = time.Now()
			e.publishTaskFailed(task, result.Error)
			return result
		}
		if !ok {
			logger.Error().Str("task", task.ID).Msg("verification mismatch; not dropping hot partition")
			result.Error = types.NewStoreError(types.KindVerificationMismatch, "", fmt.Errorf("row count mismatch for %s", task.ID)).Error()
			result.FinishedAt = time.Now()
			if e.pub != nil {
				e.pub.Publish(events.New(events.EventVerificationMismatch, fmt.Sprintf("verification mismatch for task %s", task.ID)))
			}
			return result
		}
		result.VerificationDone = true
	}

	if err := e.dropPartition(ctx, hotTable, task.Partition); err != nil {
		logger.Error().Err(err).Str("task", task.ID).Msg("drop failed; task will reappear next cycle")
		result.Error = err.Error()
		result.FinishedAt = time.Now()
		e.publishTaskFailed(task, result.Error)
		return result
	}

	result.Success = true
	result.FinishedAt = time.Now()
	return result
}

func (e *Engine) publishTaskFailed(task types.MigrationTask, reason string) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(events.New(events.EventMigrationTaskFailed, fmt.Sprintf("task %s failed: %s", task.ID, reason)))
}

// copyPartition pages through the hot partition and writes each page into
// cold, returning the number of rows copied.
func (e *Engine) copyPartition(ctx context.Context, hotTable, coldTable, partition string) (int64, error) {
	var total int64
	offset := 0
	for {
		rows, err := e.catalog.ReadPage(ctx, hotTable, partition, offset, e.cfg.PageSize)
		if err != nil {
			return total, fmt.Errorf("read page at offset %d: %w", offset, err)
		}
		if len(rows) == 0 {
			break
		}
		if err := e.cold.Insert(ctx, coldTable, nil, rows, store.JSONEachRow); err != nil {
			return total, fmt.Errorf("write page at offset %d: %w", offset, err)
		}
		total += int64(len(rows))
		offset += len(rows)
		if len(rows) < e.cfg.PageSize {
			break
		}
	}
	return total, nil
}

func (e *Engine) verify(ctx context.Context, hotTable, coldTable, partition string) (bool, error) {
	hotCount, err := e.hot.CountPartition(ctx, hotTable, partition)
	if err != nil {
		return false, err
	}
	coldCount, err := e.cold.CountPartition(ctx, coldTable, partition)
	if err != nil {
		return false, err
	}
	return coldCount >= hotCount, nil
}

func (e *Engine) dropPartition(ctx context.Context, hotTable, partition string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s DROP PARTITION '%s'", hotTable, partition)
	return e.hot.Execute(ctx, stmt)
}

func tableDataType(table string) types.DataType {
	// table names follow "...hot_<plural>"; fall back to DataTypeTrade if
	// the naming convention doesn't match.
	for _, dt := range types.AllDataTypes {
		suffix := types.TableName(types.TierHot, dt)
		if len(table) >= len(suffix) && table[len(table)-len(suffix):] == suffix {
			return dt
		}
	}
	return types.DataTypeTrade
}
