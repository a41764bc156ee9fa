package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivePartitionsMapsSystemPartsColumns(t *testing.T) {
	f := NewFake()
	minTime := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	maxTime := time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)
	f.QueryRows = []Row{
		{"partition": "2026-07-01", "min_time": minTime, "max_time": maxTime, "rows": int64(1000), "bytes": int64(2048)},
	}

	cat := NewCatalog(f)
	partitions, err := cat.ActivePartitions(context.Background(), "hot.hot_trades", 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, partitions, 1)

	assert.Equal(t, "2026-07-01", partitions[0].Partition)
	assert.Equal(t, minTime, partitions[0].MinTime)
	assert.Equal(t, maxTime, partitions[0].MaxTime)
	assert.EqualValues(t, 1000, partitions[0].RecordCount)
	assert.EqualValues(t, 2048, partitions[0].SizeBytes)
	assert.True(t, partitions[0].Active)
}

func TestAgedByInsertTimeMapsSystemPartsColumns(t *testing.T) {
	f := NewFake()
	minTime := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	maxTime := time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)
	f.QueryRows = []Row{
		{"partition": "2026-07-01", "min_time": minTime, "max_time": maxTime, "rows": int64(1000), "bytes": int64(2048)},
	}

	cat := NewCatalog(f)
	partitions, err := cat.AgedByInsertTime(context.Background(), "hot.hot_trades", 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, partitions, 1)
	assert.Contains(t, f.Queries[len(f.Queries)-1], "modification_time")

	assert.Equal(t, "2026-07-01", partitions[0].Partition)
	assert.EqualValues(t, 1000, partitions[0].RecordCount)
}

func TestReadPageFlattensRows(t *testing.T) {
	f := NewFake()
	f.QueryRows = []Row{{"symbol": "BTCUSDT"}, {"symbol": "ETHUSDT"}}

	cat := NewCatalog(f)
	rows, err := cat.ReadPage(context.Background(), "hot.hot_trades", "2026-07-01", 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "BTCUSDT", rows[0]["symbol"])
}

func TestUsedFractionComputesFromTotalAndFree(t *testing.T) {
	f := NewFake()
	f.QueryRows = []Row{{"total_space": int64(1000), "free_space": int64(150)}}

	cat := NewCatalog(f)
	used, err := cat.UsedFraction(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.85, used, 0.0001)
}

func TestUsedFractionNoDiskRowReturnsZero(t *testing.T) {
	f := NewFake()
	cat := NewCatalog(f)

	used, err := cat.UsedFraction(context.Background())
	require.NoError(t, err)
	assert.Zero(t, used)
}
