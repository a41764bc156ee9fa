package types

import "time"

// BatchPolicy captures the per-data-type batching economics from spec.md
// §3.1: a flush fires on size, on age, or at the hard cap, whichever comes
// first.
type BatchPolicy struct {
	BatchSize int           // flush when the queue reaches this many records
	Timeout   time.Duration // flush when the oldest record has waited this long
	MaxQueue  int           // hard cap; enqueue blocks above this (backpressure)
}

// Policies holds the batch policy for every data type, per the table in
// spec.md §3.1.
var Policies = map[DataType]BatchPolicy{
	DataTypeTrade:           {BatchSize: 500, Timeout: 1500 * time.Millisecond, MaxQueue: 5000},
	DataTypeOrderbook:       {BatchSize: 1000, Timeout: 2 * time.Second, MaxQueue: 10000},
	DataTypeTicker:          {BatchSize: 500, Timeout: 2 * time.Second, MaxQueue: 5000},
	DataTypeFundingRate:     {BatchSize: 10, Timeout: 2 * time.Second, MaxQueue: 500},
	DataTypeOpenInterest:    {BatchSize: 50, Timeout: 10 * time.Second, MaxQueue: 500},
	DataTypeLiquidation:     {BatchSize: 5, Timeout: 10 * time.Second, MaxQueue: 200},
	DataTypeVolatilityIndex: {BatchSize: 1, Timeout: 1 * time.Second, MaxQueue: 50},
	DataTypeLSRTopPosition:  {BatchSize: 1, Timeout: 1 * time.Second, MaxQueue: 50},
	DataTypeLSRAllAccount:   {BatchSize: 1, Timeout: 1 * time.Second, MaxQueue: 50},
}

// PartitionGrain describes how a tier's tables are partitioned.
type PartitionGrain string

const (
	PartitionGrainDay   PartitionGrain = "day"   // hot tier: cheap partition drops
	PartitionGrainMonth PartitionGrain = "month" // cold tier: fewer, larger scans
)

// TableSpec describes one data type's table within one tier: engine choice,
// ordering key, partition key, TTL column, codec, and secondary indexes, per
// spec.md §3.3.
type TableSpec struct {
	Type           DataType
	Tier           Tier
	TableName      string
	OrderingKey    []string // natural key columns, in order
	PartitionGrain PartitionGrain
	TTLDays        int  // 0 means no engine-level TTL
	FastCodec      bool // true for hot (speed-favoring codec), false for cold (high ratio)
}

// TableName returns the canonical table name for a data type, prefixed by
// tier (hot_trades, cold_trades, ...). It is derived from the canonical
// DataType, so both orderbook spellings map to one table: trade and
// orderbook are pluralized (trades, orderbooks), every other type is used
// as spelled.
func TableName(tier Tier, dt DataType) string {
	return string(tier) + "_" + pluralize(dt)
}

func pluralize(dt DataType) string {
	switch dt {
	case DataTypeOrderbook:
		return "orderbooks"
	case DataTypeTrade:
		return "trades"
	default:
		return string(dt)
	}
}

// MigrationPriority ranks a table for migration scheduling: trade > ticker >
// orderbook > everything else, per spec.md §4.7, plus a fixed bonus of 50
// when sizeBytes exceeds a positive sizeThresholdBytes. It is a pure function
// of table type and partition size — no adaptive/load-based policy belongs
// here (spec.md §9).
func MigrationPriority(dt DataType, sizeBytes, sizeThresholdBytes int64) int {
	base := 0
	switch dt {
	case DataTypeTrade:
		base = 300
	case DataTypeTicker:
		base = 200
	case DataTypeOrderbook:
		base = 100
	default:
		base = 0
	}
	if sizeThresholdBytes > 0 && sizeBytes > sizeThresholdBytes {
		base += 50
	}
	return base
}
