package store

import (
	"context"
	"errors"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketprism/storage-engine/pkg/types"
)

func TestClassifyNetworkErrorIsTransient(t *testing.T) {
	err := classify(context.DeadlineExceeded)
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestClassifyExceptionSchemaMismatch(t *testing.T) {
	chErr := &clickhouse.Exception{Code: 16, Message: "no such column: foo"}
	err := classify(chErr)
	require.Error(t, err)
	assert.True(t, types.IsPoison(err))
}

func TestClassifyExceptionRetryableCode(t *testing.T) {
	chErr := &clickhouse.Exception{Code: 252, Message: "too many parts"}
	err := classify(chErr)
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestClassifyAlreadyClassifiedPassesThrough(t *testing.T) {
	original := types.NewStoreError(types.KindStorePermanent, "", errors.New("boom"))
	got := classify(original)
	assert.Same(t, original, got)
}

func TestFakeInsertAndCountPartition(t *testing.T) {
	f := NewFake()
	rows := []map[string]any{
		{"partition": "2026-07", "symbol": "BTCUSDT"},
		{"partition": "2026-07", "symbol": "ETHUSDT"},
		{"partition": "2026-08", "symbol": "BTCUSDT"},
	}
	require.NoError(t, f.Insert(context.Background(), "hot.trades", nil, rows, JSONEachRow))

	n, err := f.CountPartition(context.Background(), "hot.trades", "2026-07")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestFakeDropPartition(t *testing.T) {
	f := NewFake()
	rows := []map[string]any{
		{"partition": "2026-07"},
		{"partition": "2026-08"},
	}
	require.NoError(t, f.Insert(context.Background(), "hot.trades", nil, rows, JSONEachRow))
	f.DropPartition("hot.trades", "2026-07")

	n, err := f.CountPartition(context.Background(), "hot.trades", "2026-07")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestFakeFailNextSurfacesOnce(t *testing.T) {
	f := NewFake()
	f.FailNext = types.NewStoreError(types.KindStoreTransient, "", errors.New("simulated"))

	err := f.Insert(context.Background(), "hot.trades", nil, []map[string]any{{"a": 1}}, JSONEachRow)
	require.Error(t, err)

	err = f.Insert(context.Background(), "hot.trades", nil, []map[string]any{{"a": 1}}, JSONEachRow)
	require.NoError(t, err)
}
