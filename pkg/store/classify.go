package store

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/marketprism/storage-engine/pkg/types"
)

// retryableCodes mirrors the store's own busy/rate-limit error codes, per
// spec.md §4.5 step 5 ("StoreReject with a retryable store error code").
var retryableCodes = map[int32]bool{
	159: true, // TIMEOUT_EXCEEDED
	164: true, // READONLY (replica promotion in progress)
	202: true, // TOO_MANY_SIMULTANEOUS_QUERIES
	252: true, // TOO_MANY_PARTS
}

// classify maps a driver-level error into the pkg/types taxonomy. Network
// and context errors are StoreTransient; a clickhouse.Exception carries a
// numeric code: retryable codes are StoreTransient (with the code kept),
// 201 is StoreRateLimit, schema-looking messages are StoreSchemaMismatch,
// and everything else is StorePermanent.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var se *types.StoreError
	if errors.As(err, &se) {
		return err // already classified
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.NewStoreError(types.KindStoreTransient, "", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.NewStoreError(types.KindStoreTransient, "", err)
	}

	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		code := strconv.Itoa(int(chErr.Code))
		if retryableCodes[chErr.Code] {
			return types.NewStoreError(types.KindStoreTransient, code, err)
		}
		if isRateLimitCode(chErr.Code) {
			return types.NewStoreError(types.KindStoreRateLimit, code, err)
		}
		if looksLikeSchemaError(chErr.Message) {
			return types.NewStoreError(types.KindStoreSchemaMismatch, code, err)
		}
		return types.NewStoreError(types.KindStorePermanent, code, err)
	}

	return types.NewStoreError(types.KindStoreTransient, "", err)
}

func isRateLimitCode(code int32) bool {
	return code == 201 // TOO_MANY_SIMULTANEOUS_QUERIES_FOR_USER treated as rate limit
}

func looksLikeSchemaError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "unknown identifier") ||
		strings.Contains(lower, "no such column") ||
		strings.Contains(lower, "type mismatch")
}
