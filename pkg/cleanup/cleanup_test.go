package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketprism/storage-engine/pkg/events"
	"github.com/marketprism/storage-engine/pkg/store"
	"github.com/marketprism/storage-engine/pkg/types"
)

type recordingPublisher struct {
	published []*events.Event
}

func (p *recordingPublisher) Publish(e *events.Event) {
	p.published = append(p.published, e)
}

type fakeCatalog struct {
	byTable map[string][]types.PartitionInfo
}

func (f *fakeCatalog) AgedByInsertTime(_ context.Context, table string, _ time.Duration) ([]types.PartitionInfo, error) {
	return f.byTable[table], nil
}

type fakeDisk struct {
	used float64
	err  error
}

func (f *fakeDisk) UsedFraction(_ context.Context) (float64, error) { return f.used, f.err }

func partitions(n int, recordsEach int64) []types.PartitionInfo {
	out := make([]types.PartitionInfo, n)
	for i := range out {
		out[i] = types.PartitionInfo{Partition: "p" + string(rune('0'+i)), RecordCount: recordsEach}
	}
	return out
}

func TestRunCycleDropsAgedPartitions(t *testing.T) {
	cat := &fakeCatalog{byTable: map[string][]types.PartitionInfo{
		"cold.cold_trades": partitions(2, 100),
	}}
	h := store.NewFake()
	e := New(Config{Tables: []TableConfig{{Table: "cold.cold_trades", Type: types.DataTypeTrade, MaxAgeDays: 30}}}, cat, h, nil)

	results, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].PartitionsDropped)
	assert.EqualValues(t, 200, results[0].RecordsDropped)
	assert.Len(t, h.Execs, 2)
}

func TestRunCycleDryRunReportsWithoutDropping(t *testing.T) {
	cat := &fakeCatalog{byTable: map[string][]types.PartitionInfo{
		"cold.cold_trades": partitions(3, 10),
	}}
	h := store.NewFake()
	e := New(Config{Tables: []TableConfig{{Table: "cold.cold_trades", MaxAgeDays: 7}}, DryRun: true}, cat, h, nil)

	results, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].PartitionsDropped)
	assert.True(t, results[0].DryRun)
	assert.Empty(t, h.Execs, "dry run must never issue a DROP PARTITION")
}

func TestRunCycleIdempotentSecondRunIsNoOp(t *testing.T) {
	cat := &fakeCatalog{byTable: map[string][]types.PartitionInfo{
		"cold.cold_trades": partitions(1, 50),
	}}
	h := store.NewFake()
	e := New(Config{Tables: []TableConfig{{Table: "cold.cold_trades", MaxAgeDays: 30}}}, cat, h, nil)

	_, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	// The fake doesn't model partition removal, so the snapshot is cleared
	// by hand, as a real catalog would no longer report a dropped partition
	// as active; the second run then drops nothing.
	cat.byTable["cold.cold_trades"] = nil
	results, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].PartitionsDropped)
}

func TestRunCycleSmartCleanupSkipsBelowThreshold(t *testing.T) {
	cat := &fakeCatalog{byTable: map[string][]types.PartitionInfo{
		"cold.cold_trades": partitions(1, 50),
	}}
	h := store.NewFake()
	disk := &fakeDisk{used: 0.5}
	e := New(Config{
		Tables:        []TableConfig{{Table: "cold.cold_trades", MaxAgeDays: 30}},
		SmartCleanup:  true,
		DiskThreshold: 0.9,
	}, cat, h, disk)

	results, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Empty(t, h.Execs)
}

func TestRunCycleSmartCleanupRunsAboveThreshold(t *testing.T) {
	cat := &fakeCatalog{byTable: map[string][]types.PartitionInfo{
		"cold.cold_trades": partitions(1, 50),
	}}
	h := store.NewFake()
	disk := &fakeDisk{used: 0.95}
	e := New(Config{
		Tables:        []TableConfig{{Table: "cold.cold_trades", MaxAgeDays: 30}},
		SmartCleanup:  true,
		DiskThreshold: 0.9,
	}, cat, h, disk)

	results, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].PartitionsDropped)
}

func TestRunCyclePartitionDropFailureDoesNotAbortTable(t *testing.T) {
	cat := &fakeCatalog{byTable: map[string][]types.PartitionInfo{
		"cold.cold_trades": partitions(2, 10),
	}}
	h := store.NewFake()
	h.FailNext = assertCleanupErr
	e := New(Config{Tables: []TableConfig{{Table: "cold.cold_trades", MaxAgeDays: 30}}}, cat, h, nil)

	results, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].PartitionsDropped, "one partition fails, the other still drops")
}

func TestRunCyclePublishesCycleCompletedEvent(t *testing.T) {
	cat := &fakeCatalog{byTable: map[string][]types.PartitionInfo{
		"cold.cold_trades": partitions(2, 10),
	}}
	h := store.NewFake()
	pub := &recordingPublisher{}
	e := New(Config{Tables: []TableConfig{{Table: "cold.cold_trades", MaxAgeDays: 30}}}, cat, h, nil)
	e.SetPublisher(pub)

	_, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	assert.Equal(t, events.EventCleanupCycleCompleted, pub.published[0].Type)
}

func TestRunCyclePublishesPartitionDropFailedEvent(t *testing.T) {
	cat := &fakeCatalog{byTable: map[string][]types.PartitionInfo{
		"cold.cold_trades": partitions(1, 10),
	}}
	h := store.NewFake()
	h.FailNext = assertCleanupErr
	pub := &recordingPublisher{}
	e := New(Config{Tables: []TableConfig{{Table: "cold.cold_trades", MaxAgeDays: 30}}}, cat, h, nil)
	e.SetPublisher(pub)

	_, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	var sawDropFailed bool
	for _, ev := range pub.published {
		if ev.Type == events.EventPartitionDropFailed {
			sawDropFailed = true
		}
	}
	assert.True(t, sawDropFailed, "expected a partition_drop_failed event")
}

type cleanupErr struct{}

func (cleanupErr) Error() string { return "simulated drop failure" }

var assertCleanupErr = cleanupErr{}
