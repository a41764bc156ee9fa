package writer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketprism/storage-engine/pkg/events"
	"github.com/marketprism/storage-engine/pkg/pool"
	"github.com/marketprism/storage-engine/pkg/store"
	"github.com/marketprism/storage-engine/pkg/types"
)

type recordingPublisher struct {
	published []*events.Event
}

func (p *recordingPublisher) Publish(e *events.Event) {
	p.published = append(p.published, e)
}

func fakeFactory(f store.Handle) pool.Factory {
	return func() (pool.Handle, error) { return f, nil }
}

func tableNamer(dt types.DataType) string { return "hot_" + string(dt) }
func columnNamer(dt types.DataType) []string {
	return []string{"exchange", "market_type", "symbol", "timestamp"}
}

func newTestWriter(t *testing.T, f store.Handle, cfg Config) *Writer {
	t.Helper()
	p, err := pool.New(pool.Config{MaxSize: 2, AcquireWait: time.Second}, fakeFactory(f))
	require.NoError(t, err)
	return New(cfg, p, tableNamer, columnNamer)
}

func batch(n int) []types.Record {
	out := make([]types.Record, n)
	for i := range out {
		out[i] = types.Record{Type: types.DataTypeTrade, Exchange: "binance", Symbol: "BTCUSDT", Timestamp: time.Now()}
	}
	return out
}

func TestWriteEmptyBatchIsNoOp(t *testing.T) {
	f := store.NewFake()
	w := newTestWriter(t, f, Config{})
	require.NoError(t, w.Write(context.Background(), types.DataTypeTrade, nil))
	assert.Empty(t, f.Rows)
}

func TestWriteSuccessInsertsAllRows(t *testing.T) {
	f := store.NewFake()
	w := newTestWriter(t, f, Config{})
	require.NoError(t, w.Write(context.Background(), types.DataTypeTrade, batch(5)))
	assert.Len(t, f.Rows["hot_trade"], 5)
}

func TestWriteRetriesTransientFailure(t *testing.T) {
	f := store.NewFake()
	f.FailNext = types.NewStoreError(types.KindStoreTransient, "", assertErr)
	w := newTestWriter(t, f, Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})

	require.NoError(t, w.Write(context.Background(), types.DataTypeTrade, batch(3)))
	assert.Len(t, f.Rows["hot_trade"], 3)
}

func TestWritePoisonBatchIsolatesRowByRow(t *testing.T) {
	f := &poisonOnFirstCall{Fake: store.NewFake()}
	w := newTestWriter(t, f, Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 0})

	err := w.Write(context.Background(), types.DataTypeTrade, batch(3))
	require.NoError(t, err) // batch-level error absorbed per spec
	assert.Len(t, f.Rows["hot_trade"], 3)
}

// poisonOnFirstCall fails the first (whole-batch) Insert with a permanent
// error, then succeeds on subsequent (row-by-row) Insert calls — modeling a
// batch-level schema problem that individual rows don't actually have.
type poisonOnFirstCall struct {
	*store.Fake
	calls int
}

func (p *poisonOnFirstCall) Insert(ctx context.Context, table string, columns []string, rows []map[string]any, format store.Format) error {
	p.calls++
	if p.calls == 1 {
		return types.NewStoreError(types.KindStorePermanent, "", assertErr)
	}
	return p.Fake.Insert(ctx, table, columns, rows, format)
}

func TestToRowsPacksPayloadIntoSingleColumn(t *testing.T) {
	rows := toRows([]types.Record{{
		Type: types.DataTypeTrade, Exchange: "binance", MarketType: types.MarketTypeSpot,
		Symbol: "BTCUSDT", Timestamp: time.Unix(0, 0),
		Payload: map[string]any{"trade_id": "t1", "price": 100.5},
	}})
	require.Len(t, rows, 1)
	assert.Equal(t, "binance", rows[0]["exchange"])
	assert.Equal(t, "BTCUSDT", rows[0]["symbol"])
	payload, ok := rows[0]["payload"].(string)
	require.True(t, ok, "payload column must be a JSON string, not a map")
	assert.Contains(t, payload, `"trade_id":"t1"`)
	_, hasTopLevelTradeID := rows[0]["trade_id"]
	assert.False(t, hasTopLevelTradeID, "payload fields must not be flattened to top-level keys")
}

func TestCircuitBreakerPublishesOnlyOnTransition(t *testing.T) {
	f := store.NewFake()
	w := newTestWriter(t, f, Config{MaxConsecutiveErrors: 2})
	pub := &recordingPublisher{}
	w.SetPublisher(pub)

	w.recordFailure(types.DataTypeTrade)
	assert.Empty(t, pub.published, "must not publish before the breaker actually opens")

	w.recordFailure(types.DataTypeTrade)
	require.Len(t, pub.published, 1)
	assert.Equal(t, events.EventCircuitBreakerOpened, pub.published[0].Type)

	w.recordFailure(types.DataTypeTrade)
	assert.Len(t, pub.published, 1, "must not re-publish while already open")

	w.recordSuccess(types.DataTypeTrade)
	require.Len(t, pub.published, 2)
	assert.Equal(t, events.EventCircuitBreakerClosed, pub.published[1].Type)
}

var assertErr = simulatedErr{}

type simulatedErr struct{}

func (simulatedErr) Error() string { return "simulated store failure" }
