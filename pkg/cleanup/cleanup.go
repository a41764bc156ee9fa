// Package cleanup implements the Cleanup Engine: TTL-driven partition drops
// on whichever tier it is configured for. It is grounded on the teacher's
// pkg/reconciler cycle shape (mutex-guarded cycle method, log-and-continue
// per sub-step) adapted to a single per-table drop decision instead of
// node/container reconciliation.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/marketprism/storage-engine/pkg/events"
	"github.com/marketprism/storage-engine/pkg/log"
	"github.com/marketprism/storage-engine/pkg/metrics"
	"github.com/marketprism/storage-engine/pkg/store"
	"github.com/marketprism/storage-engine/pkg/types"
)

// Catalog is the subset of partition metadata the Cleanup Engine needs.
// AgedByInsertTime (rather than migration.Catalog's event-time
// ActivePartitions) is what TTL enforcement needs: gating on insert time
// keeps a source clock running behind from making cleanup drop a partition
// before its retention window has actually elapsed server-side (spec.md
// §4.8). Kept as its own interface so cleanup never depends on the
// migration package.
type Catalog interface {
	AgedByInsertTime(ctx context.Context, table string, ageThreshold time.Duration) ([]types.PartitionInfo, error)
}

// Publisher is the Event Broker contract the Cleanup Engine raises cycle and
// drop-failure events on. Satisfied by *events.Broker.
type Publisher interface {
	Publish(event *events.Event)
}

// DiskUsage reports disk utilization for the smart_cleanup mode. Nil when
// smart_cleanup is disabled.
type DiskUsage interface {
	// UsedFraction returns disk utilization in [0, 1] for the store's volume.
	UsedFraction(ctx context.Context) (float64, error)
}

// TableConfig is one table's retention policy.
type TableConfig struct {
	Table      string
	Type       types.DataType
	MaxAgeDays int
}

// Config tunes cleanup behavior, per spec.md §4.8.
type Config struct {
	Tables        []TableConfig
	DryRun        bool
	SmartCleanup  bool
	DiskThreshold float64 // fraction in [0,1]; only meaningful when SmartCleanup is set
}

// Engine drops aged partitions from one tier's store.
type Engine struct {
	cfg     Config
	catalog Catalog
	handle  store.Handle
	disk    DiskUsage
	pub     Publisher
}

// New returns an Engine bound to one tier's catalog, store handle, and
// (optionally) disk usage source.
func New(cfg Config, catalog Catalog, handle store.Handle, disk DiskUsage) *Engine {
	return &Engine{cfg: cfg, catalog: catalog, handle: handle, disk: disk}
}

// SetPublisher wires the engine to raise cleanup-cycle and drop-failure
// events (spec.md §7, §8). Optional; a nil publisher keeps it silent.
func (e *Engine) SetPublisher(pub Publisher) {
	e.pub = pub
}

// RunCycle evaluates every configured table and drops partitions whose
// max(insert_time) falls beyond its retention window, per spec.md §4.8.
// Under smart_cleanup, the age rule only fires once disk usage has crossed
// DiskThreshold; absent that mode, age alone governs.
func (e *Engine) RunCycle(ctx context.Context) ([]types.CleanupResult, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CleanupCycleDuration)
		metrics.CleanupCyclesTotal.Inc()
	}()

	if e.cfg.SmartCleanup {
		eligible, err := e.diskAboveThreshold(ctx)
		if err != nil {
			return nil, fmt.Errorf("check disk usage: %w", err)
		}
		if !eligible {
			log.WithComponent("cleanup").Debug().Msg("disk usage below threshold; skipping smart_cleanup cycle")
			return nil, nil
		}
	}

	logger := log.WithComponent("cleanup")
	results := make([]types.CleanupResult, 0, len(e.cfg.Tables))
	for _, tc := range e.cfg.Tables {
		result, err := e.cleanTable(ctx, tc)
		if err != nil {
			logger.Error().Err(err).Str("table", tc.Table).Msg("cleanup of table failed; will retry next cycle")
			continue
		}
		results = append(results, result)
		metrics.CleanupPartitionsDropped.WithLabelValues(tc.Table).Add(float64(result.PartitionsDropped))
	}

	if e.pub != nil {
		totalDropped := 0
		for _, r := range results {
			totalDropped += r.PartitionsDropped
		}
		e.pub.Publish(events.New(events.EventCleanupCycleCompleted, fmt.Sprintf(
			"cleanup cycle: %d tables processed, %d partitions dropped", len(results), totalDropped,
		)))
	}

	return results, nil
}

func (e *Engine) diskAboveThreshold(ctx context.Context) (bool, error) {
	if e.disk == nil {
		return true, nil
	}
	used, err := e.disk.UsedFraction(ctx)
	if err != nil {
		return false, err
	}
	return used >= e.cfg.DiskThreshold, nil
}

// cleanTable drops every aged-out partition for one table. A single
// partition's drop failure does not abort the remaining partitions; it
// simply reappears as a candidate next cycle (age-based discovery is
// idempotent and has no durable per-run state, per spec.md §3.6).
func (e *Engine) cleanTable(ctx context.Context, tc TableConfig) (types.CleanupResult, error) {
	threshold := time.Duration(tc.MaxAgeDays) * 24 * time.Hour
	partitions, err := e.catalog.AgedByInsertTime(ctx, tc.Table, threshold)
	if err != nil {
		return types.CleanupResult{}, fmt.Errorf("list partitions for %s: %w", tc.Table, err)
	}

	result := types.CleanupResult{Table: tc.Table, DryRun: e.cfg.DryRun}
	logger := log.WithTable(tc.Table)

	for _, p := range partitions {
		if e.cfg.DryRun {
			result.PartitionsDropped++
			result.RecordsDropped += p.RecordCount
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s DROP PARTITION '%s'", tc.Table, p.Partition)
		if err := e.handle.Execute(ctx, stmt); err != nil {
			logger.Error().Err(err).Str("partition", p.Partition).Msg("drop partition failed")
			if e.pub != nil {
				e.pub.Publish(events.New(events.EventPartitionDropFailed, fmt.Sprintf(
					"drop partition %s/%s failed: %v", tc.Table, p.Partition, err,
				)))
			}
			continue
		}
		result.PartitionsDropped++
		result.RecordsDropped += p.RecordCount
		logger.Info().Str("partition", p.Partition).Int64("records", p.RecordCount).Msg("dropped aged partition")
	}

	return result, nil
}
