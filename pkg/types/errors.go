package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the store/bus error taxonomy from spec.md §7. It classifies
// failures, not transport types, so retry logic never needs to inspect
// HTTP status codes directly.
type ErrorKind string

const (
	KindStoreTransient       ErrorKind = "store_transient"
	KindStoreRateLimit       ErrorKind = "store_rate_limit"
	KindStoreReject          ErrorKind = "store_reject"
	KindStorePermanent       ErrorKind = "store_permanent"
	KindStoreSchemaMismatch  ErrorKind = "store_schema_mismatch"
	KindBusTransient         ErrorKind = "bus_transient"
	KindBusPermanent         ErrorKind = "bus_permanent"
	KindPoolExhausted        ErrorKind = "pool_exhausted"
	KindConfigInvalid        ErrorKind = "config_invalid"
	KindVerificationMismatch ErrorKind = "verification_mismatch"
)

// StoreError wraps an underlying error with its classification. Components
// use errors.As to recover the Kind without caring about the concrete
// transport error underneath.
type StoreError struct {
	Kind ErrorKind
	Code string // store-reported error code, when available
	Err  error
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (code=%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError constructs a classified error.
func NewStoreError(kind ErrorKind, code string, err error) *StoreError {
	return &StoreError{Kind: kind, Code: code, Err: err}
}

// IsRetryable reports whether the Tier Writer should treat this error as
// transient: StoreTransient, StoreRateLimit, and PoolExhausted all qualify
// per spec.md §4.5 step 4-5.
func IsRetryable(err error) bool {
	var se *StoreError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case KindStoreTransient, KindStoreRateLimit, KindPoolExhausted:
		return true
	default:
		return false
	}
}

// IsPoison reports whether the Tier Writer should isolate the batch
// row-by-row instead of retrying it wholesale (spec.md §4.5 step 6).
func IsPoison(err error) bool {
	var se *StoreError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case KindStoreReject, KindStorePermanent, KindStoreSchemaMismatch:
		return true
	default:
		return false
	}
}

// ErrPoolExhausted is returned by the Connection Pool when acquire's wait
// budget expires with no handle available.
var ErrPoolExhausted = NewStoreError(KindPoolExhausted, "", errors.New("connection pool exhausted"))
