// Package schema idempotently creates the hot and cold databases and
// per-data-type tables on process start, grounded on the teacher's BoltDB
// NewBoltStore "create buckets if missing" idiom, generalized from a local
// KV bucket set to remote CREATE TABLE IF NOT EXISTS statements.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/marketprism/storage-engine/pkg/log"
	"github.com/marketprism/storage-engine/pkg/store"
	"github.com/marketprism/storage-engine/pkg/types"
)

// Manager creates databases and tables against one tier's store.Handle.
type Manager struct {
	handle   store.Handle
	database string
	tier     types.Tier
}

// New returns a Manager bound to one tier.
func New(handle store.Handle, database string, tier types.Tier) *Manager {
	return &Manager{handle: handle, database: database, tier: tier}
}

// EnsureResult reports the outcome for one data type's table.
type EnsureResult struct {
	Type    types.DataType
	Table   string
	Created bool // true whenever CREATE TABLE IF NOT EXISTS succeeded, whether or not the table already existed; false only with Err set
	Err     error
}

// EnsureAll creates the database and then, for every data type, its table.
// A table-creation failure is logged and that data type is reported
// disabled rather than aborting the run (spec.md §4.3: "fails soft ...
// unless all tables fail").
func (m *Manager) EnsureAll(ctx context.Context) ([]EnsureResult, error) {
	logger := log.Logger.With().Str("component", "schema").Str("tier", string(m.tier)).Logger()

	if err := m.handle.Execute(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", m.database)); err != nil {
		return nil, fmt.Errorf("create database %s: %w", m.database, err)
	}

	results := make([]EnsureResult, 0, len(types.AllDataTypes))
	failures := 0
	for _, dt := range types.AllDataTypes {
		spec := m.tableSpec(dt)
		stmt := m.createTableStatement(spec)

		if err := m.handle.Execute(ctx, stmt); err != nil {
			logger.Error().Err(err).Str("table", spec.TableName).Msg("table creation failed; data type disabled")
			results = append(results, EnsureResult{Type: dt, Table: spec.TableName, Err: err})
			failures++
			continue
		}
		results = append(results, EnsureResult{Type: dt, Table: spec.TableName, Created: true})
	}

	if failures == len(types.AllDataTypes) {
		return results, fmt.Errorf("all %d table creations failed for database %s", failures, m.database)
	}
	return results, nil
}

func (m *Manager) tableSpec(dt types.DataType) types.TableSpec {
	grain := types.PartitionGrainDay
	ttl := 0
	fastCodec := true
	if m.tier == types.TierCold {
		grain = types.PartitionGrainMonth
		fastCodec = false
	}

	return types.TableSpec{
		Type:           dt,
		Tier:           m.tier,
		TableName:      fmt.Sprintf("%s.%s", m.database, types.TableName(m.tier, dt)),
		OrderingKey:    orderingKey(dt),
		PartitionGrain: grain,
		TTLDays:        ttl,
		FastCodec:      fastCodec,
	}
}

// orderingKey returns the columns ClickHouse should order each table's
// parts by. Every data type shares the same key: the payload's own
// identifying fields (e.g. trade_id) live inside the payload column, not as
// materialized columns, so they can't appear here (spec.md §3.3).
func orderingKey(types.DataType) []string {
	return []string{"exchange", "symbol", "timestamp"}
}

// createTableStatement renders a CREATE TABLE IF NOT EXISTS honoring the
// engine/ordering/partition/codec rules from spec.md §3.3. It uses a
// ReplacingMergeTree-family engine so late-arriving duplicates on the
// natural key collapse on merge, which is what makes at-least-once replay
// from the bus safe (spec.md §4.6).
func (m *Manager) createTableStatement(spec types.TableSpec) string {
	codec := "CODEC(LZ4)"
	if !spec.FastCodec {
		codec = "CODEC(ZSTD(3))"
	}

	partitionExpr := "toYYYYMMDD(timestamp), exchange"
	if spec.PartitionGrain == types.PartitionGrainMonth {
		partitionExpr = "toYYYYMM(timestamp), exchange"
	}

	ttlClause := ""
	if spec.TTLDays > 0 {
		ttlClause = fmt.Sprintf(" TTL insert_time + INTERVAL %d DAY", spec.TTLDays)
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n"+
			"  exchange String,\n"+
			"  market_type String,\n"+
			"  symbol String,\n"+
			"  timestamp DateTime64(3) %s,\n"+
			"  insert_time DateTime DEFAULT now(),\n"+
			"  payload String,\n"+
			"  INDEX idx_timestamp_minmax timestamp TYPE minmax GRANULARITY 4,\n"+
			"  INDEX idx_symbol_bloom symbol TYPE bloom_filter GRANULARITY 4\n"+
			") ENGINE = ReplacingMergeTree(insert_time)\n"+
			"PARTITION BY (%s)\n"+
			"ORDER BY (%s)\n"+
			"%s",
		spec.TableName, codec, partitionExpr, strings.Join(spec.OrderingKey, ", "), ttlClause,
	)
}
