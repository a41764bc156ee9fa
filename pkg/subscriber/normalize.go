package subscriber

import (
	"fmt"
	"time"

	"github.com/marketprism/storage-engine/pkg/types"
)

// normalize applies the field-alias rewrites from spec.md §4.6 step 2 in
// place: current_funding_rate -> funding_rate, volatility_index -> vol_index
// (the payload field, distinct from the DataType of the same name), and a
// default market_type of "options" for volatility indices when unset.
func normalize(dt types.DataType, body map[string]any) {
	if v, ok := body["current_funding_rate"]; ok {
		if _, exists := body["funding_rate"]; !exists {
			body["funding_rate"] = v
		}
		delete(body, "current_funding_rate")
	}

	if v, ok := body["volatility_index"]; ok {
		if _, exists := body["vol_index"]; !exists {
			body["vol_index"] = v
		}
		delete(body, "volatility_index")
	}

	if dt == types.DataTypeVolatilityIndex {
		if mt, ok := body["market_type"]; !ok || mt == "" || mt == nil {
			body["market_type"] = string(types.MarketTypeOptions)
		}
	}
}

// toRecord builds a types.Record from a normalized JSON body, falling back
// to the bus subject for exchange/market_type/symbol when the payload omits
// them; fields present in the body take precedence over the subject.
func toRecord(dt types.DataType, subject string, body map[string]any) (types.Record, error) {
	exchange, _ := body["exchange"].(string)
	symbol, _ := body["symbol"].(string)
	marketType, _ := body["market_type"].(string)

	if exchange == "" || symbol == "" || marketType == "" {
		subjExchange, subjMarket, subjSymbol, ok := parseSubject(subject)
		if ok {
			if exchange == "" {
				exchange = subjExchange
			}
			if marketType == "" {
				marketType = subjMarket
			}
			if symbol == "" {
				symbol = subjSymbol
			}
		}
	}

	if exchange == "" || symbol == "" {
		return types.Record{}, fmt.Errorf("record missing exchange/symbol and subject %q did not supply them", subject)
	}

	ts, err := parseTimestamp(body["timestamp"])
	if err != nil {
		return types.Record{}, fmt.Errorf("parse timestamp: %w", err)
	}

	return types.Record{
		Type:       dt,
		Exchange:   exchange,
		MarketType: types.MarketType(marketType),
		Symbol:     symbol,
		Timestamp:  ts,
		Payload:    body,
	}, nil
}

// parseSubject splits <type>.<exchange>.<market_type>.<symbol> into its
// three addressable components.
func parseSubject(subject string) (exchange, marketType, symbol string, ok bool) {
	parts := make([]string, 0, 4)
	start := 0
	for i := 0; i <= len(subject); i++ {
		if i == len(subject) || subject[i] == '.' {
			parts = append(parts, subject[start:i])
			start = i + 1
		}
	}
	if len(parts) < 4 {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

func parseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		return time.Parse(time.RFC3339Nano, v)
	case float64:
		// Milliseconds since epoch, the wire format spec.md §8.4 uses.
		return time.UnixMilli(int64(v)).UTC(), nil
	default:
		return time.Now().UTC(), nil
	}
}
