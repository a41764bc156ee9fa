// Package events is an in-memory pub/sub broker for engine alerts:
// verification mismatches, partition drop failures, circuit breaker
// trips, bus disconnects. Publish hands the event to a 100-slot buffered
// channel and waits only while that buffer is full; subscriber channels are
// buffered and delivery is fire-and-forget — suited to operator alert
// logging, not to anything requiring guaranteed delivery.
package events
