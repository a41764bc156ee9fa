package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marketprism/storage-engine/pkg/types"
)

// Catalog answers partition-metadata questions against a single DBMS
// endpoint's system tables (ClickHouse's system.parts / system.disks),
// satisfying pkg/migration.Catalog and pkg/cleanup.Catalog/DiskUsage without
// either package naming this concrete type — each depends only on the
// interface it declares.
type Catalog struct {
	handle Handle
}

// NewCatalog wraps handle for partition discovery and disk accounting.
func NewCatalog(handle Handle) *Catalog {
	return &Catalog{handle: handle}
}

// ActivePartitions lists every partition of table whose most recent row
// event time is older than ageThreshold, read from system.parts (active,
// non-detached parts only, grouped by partition id). Migration eligibility
// is legitimately event-time-based (spec.md §4.7: a partition only migrates
// once its own data has aged out), so this stays keyed on max_time.
func (c *Catalog) ActivePartitions(ctx context.Context, table string, ageThreshold time.Duration) ([]types.PartitionInfo, error) {
	return c.partitionsOlderThan(ctx, table, ageThreshold, "max_time")
}

// AgedByInsertTime lists every partition of table whose most recent physical
// insert (ClickHouse's modification_time) is older than ageThreshold. Used
// for the hot tier's TTL enforcement (spec.md §3.3, §4.8): gating on insert
// time rather than the rows' own event time keeps clock skew at the source
// from making cleanup drop a partition before its configured retention
// window has actually elapsed server-side.
func (c *Catalog) AgedByInsertTime(ctx context.Context, table string, ageThreshold time.Duration) ([]types.PartitionInfo, error) {
	return c.partitionsOlderThan(ctx, table, ageThreshold, "modification_time")
}

func (c *Catalog) partitionsOlderThan(ctx context.Context, table string, ageThreshold time.Duration, ageColumn string) ([]types.PartitionInfo, error) {
	database, name := splitTable(table)
	stmt := fmt.Sprintf(
		"SELECT partition, min(min_time) AS min_time, max(max_time) AS max_time, "+
			"sum(rows) AS rows, sum(bytes_on_disk) AS bytes "+
			"FROM system.parts "+
			"WHERE active AND database = '%s' AND table = '%s' "+
			"GROUP BY partition "+
			"HAVING max(%s) < now() - %d",
		escapeLiteral(database), escapeLiteral(name), ageColumn, int64(ageThreshold.Seconds()),
	)

	rows, err := c.handle.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("list partitions for %s older by %s: %w", table, ageColumn, err)
	}

	out := make([]types.PartitionInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.PartitionInfo{
			Partition:   asString(r["partition"]),
			MinTime:     asTime(r["min_time"]),
			MaxTime:     asTime(r["max_time"]),
			RecordCount: asInt64(r["rows"]),
			SizeBytes:   asInt64(r["bytes"]),
			Active:      true,
		})
	}
	return out, nil
}

// ReadPage pages through partition ordered by its event timestamp, the
// shape pkg/migration needs to copy rows into the cold tier page by page.
func (c *Catalog) ReadPage(ctx context.Context, table, partition string, offset, limit int) ([]map[string]any, error) {
	stmt := fmt.Sprintf(
		"SELECT * FROM %s WHERE partition = '%s' ORDER BY timestamp LIMIT %d OFFSET %d",
		table, escapeLiteral(partition), limit, offset,
	)
	rows, err := c.handle.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("read page of %s/%s at offset %d: %w", table, partition, offset, err)
	}

	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r)
	}
	return out, nil
}

// UsedFraction reports the fraction of the default disk currently used,
// read from system.disks, for the Cleanup Engine's smart_cleanup mode.
func (c *Catalog) UsedFraction(ctx context.Context) (float64, error) {
	rows, err := c.handle.Query(ctx, "SELECT total_space, free_space FROM system.disks WHERE name = 'default'")
	if err != nil {
		return 0, fmt.Errorf("read disk usage: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	total := asInt64(rows[0]["total_space"])
	free := asInt64(rows[0]["free_space"])
	if total == 0 {
		return 0, nil
	}
	return float64(total-free) / float64(total), nil
}

func splitTable(qualified string) (database, name string) {
	parts := strings.SplitN(qualified, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", qualified
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
