package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketprism/storage-engine/pkg/store"
	"github.com/marketprism/storage-engine/pkg/types"
)

func TestEnsureAllCreatesDatabaseAndEveryTable(t *testing.T) {
	fake := store.NewFake()
	m := New(fake, "marketprism_hot", types.TierHot)

	results, err := m.EnsureAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, len(types.AllDataTypes))
	for _, r := range results {
		assert.True(t, r.Created)
	}
	assert.Contains(t, fake.Execs[0], "CREATE DATABASE IF NOT EXISTS marketprism_hot")
}

func TestEnsureAllSoftFailsSingleTable(t *testing.T) {
	fake := store.NewFake()

	calls := 0
	wrapped := &countingFailOnce{Fake: fake, failOn: 1, calls: &calls}
	m2 := New(wrapped, "marketprism_hot", types.TierHot)

	results, err := m2.EnsureAll(context.Background())
	require.NoError(t, err)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

// countingFailOnce wraps store.Fake to fail exactly the Nth Execute call,
// modeling one bad table definition among many successful ones.
type countingFailOnce struct {
	*store.Fake
	failOn int
	calls  *int
}

func (c *countingFailOnce) Execute(ctx context.Context, stmt string) error {
	*c.calls++
	if *c.calls == c.failOn+1 { // +1 to skip the CREATE DATABASE call
		return errors.New("simulated table creation failure")
	}
	return c.Fake.Execute(ctx, stmt)
}

func TestCreateTableStatementUsesMonthPartitionForCold(t *testing.T) {
	fake := store.NewFake()
	m := New(fake, "marketprism_cold", types.TierCold)
	spec := m.tableSpec(types.DataTypeTrade)
	stmt := m.createTableStatement(spec)
	assert.Contains(t, stmt, "toYYYYMM(timestamp)")
	assert.Contains(t, stmt, "ZSTD(3)")
}

func TestCreateTableStatementUsesDayPartitionForHot(t *testing.T) {
	fake := store.NewFake()
	m := New(fake, "marketprism_hot", types.TierHot)
	spec := m.tableSpec(types.DataTypeOrderbook)
	stmt := m.createTableStatement(spec)
	assert.Contains(t, stmt, "toYYYYMMDD(timestamp)")
	assert.Contains(t, stmt, "LZ4")
}
