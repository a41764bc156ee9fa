package subscriber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketprism/storage-engine/pkg/types"
)

func TestNormalizeFundingRateAlias(t *testing.T) {
	body := map[string]any{"current_funding_rate": "0.0001"}
	normalize(types.DataTypeFundingRate, body)
	assert.Equal(t, "0.0001", body["funding_rate"])
	_, hasOld := body["current_funding_rate"]
	assert.False(t, hasOld)
}

func TestNormalizeVolatilityIndexDefaultsMarketType(t *testing.T) {
	body := map[string]any{"volatility_index": "42.5"}
	normalize(types.DataTypeVolatilityIndex, body)
	assert.Equal(t, "42.5", body["vol_index"])
	assert.Equal(t, "options", body["market_type"])
}

func TestNormalizeVolatilityIndexRespectsExplicitMarketType(t *testing.T) {
	body := map[string]any{"market_type": "perpetual"}
	normalize(types.DataTypeVolatilityIndex, body)
	assert.Equal(t, "perpetual", body["market_type"])
}

func TestToRecordUsesBodyFieldsWhenPresent(t *testing.T) {
	body := map[string]any{
		"exchange":    "binance",
		"market_type": "spot",
		"symbol":      "BTCUSDT",
		"timestamp":   "2025-01-01T00:00:00.000Z",
	}
	r, err := toRecord(types.DataTypeTrade, "trade.binance.spot.BTCUSDT", body)
	require.NoError(t, err)
	assert.Equal(t, "binance", r.Exchange)
	assert.Equal(t, types.MarketTypeSpot, r.MarketType)
	assert.Equal(t, "BTCUSDT", r.Symbol)
	assert.Equal(t, 2025, r.Timestamp.Year())
}

func TestToRecordFallsBackToSubject(t *testing.T) {
	body := map[string]any{"timestamp": "2025-01-01T00:00:00.000Z"}
	r, err := toRecord(types.DataTypeTrade, "trade.okx.perpetual.ETHUSDT", body)
	require.NoError(t, err)
	assert.Equal(t, "okx", r.Exchange)
	assert.Equal(t, types.MarketTypePerpetual, r.MarketType)
	assert.Equal(t, "ETHUSDT", r.Symbol)
}

func TestToRecordRejectsMissingExchangeAndSymbol(t *testing.T) {
	_, err := toRecord(types.DataTypeTrade, "malformed", map[string]any{})
	require.Error(t, err)
}

func TestParseTimestampAcceptsMillisEpoch(t *testing.T) {
	ts, err := parseTimestamp(float64(1735689600000))
	require.NoError(t, err)
	assert.Equal(t, 2025, ts.Year())
	assert.WithinDuration(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), ts, time.Second)
}
