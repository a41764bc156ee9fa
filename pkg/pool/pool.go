// Package pool bounds the number of live store.Handle connections so the
// Tier Writer and Migration Engine never open more HTTP clients than the
// DBMS endpoint can sustain. It follows the teacher's resource-ownership
// shape (acquire/release under a single mutex, check-out count tracked
// separately from the backing slice) from its worker/resource bookkeeping.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/marketprism/storage-engine/pkg/events"
	"github.com/marketprism/storage-engine/pkg/metrics"
	"github.com/marketprism/storage-engine/pkg/types"
)

// Publisher is the Event Broker contract the Pool raises degraded-state
// transitions on. Satisfied by *events.Broker.
type Publisher interface {
	Publish(event *events.Event)
}

// Factory creates a new store.Handle. Supplied by the caller so the pool
// itself never imports pkg/store's concrete Client, keeping it usable with
// store.Fake in tests.
type Factory func() (Handle, error)

// Handle is the minimal subset of store.Handle the pool needs to manage
// lifecycle; defined locally to avoid importing pkg/store.
type Handle interface {
	Close() error
}

// Config bounds pool capacity and acquire wait behavior.
type Config struct {
	MaxSize     int
	PreWarm     int
	AcquireWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSize == 0 {
		c.MaxSize = 10
	}
	if c.AcquireWait == 0 {
		c.AcquireWait = 5 * time.Second
	}
	return c
}

// Pool is a bounded pool of store handles.
type Pool struct {
	cfg     Config
	factory Factory

	mu       sync.Mutex
	idle     []Handle
	inUse    int
	closed   bool
	degraded bool

	pub Publisher

	// released is signaled (non-blocking send) on every Release and Close so
	// a blocked Acquire wakes up promptly instead of waiting out its poll
	// interval.
	released chan struct{}
}

// SetPublisher wires the pool to raise a pool.degraded event on the
// healthy->degraded transition (spec.md §4.2, §7). Optional; a nil
// publisher keeps the pool silent.
func (p *Pool) SetPublisher(pub Publisher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pub = pub
}

// New creates a pool and pre-warms it with cfg.PreWarm handles.
func New(cfg Config, factory Factory) (*Pool, error) {
	cfg = cfg.withDefaults()
	p := &Pool{cfg: cfg, factory: factory, released: make(chan struct{}, 1)}

	for i := 0; i < cfg.PreWarm; i++ {
		h, err := factory()
		if err != nil {
			return nil, err
		}
		p.idle = append(p.idle, h)
	}
	p.reportGauges()
	return p, nil
}

func (p *Pool) notify() {
	select {
	case p.released <- struct{}{}:
	default:
	}
}

// Acquire checks out a handle, creating one if under capacity, else waiting
// up to cfg.AcquireWait for a release. It fails with ErrPoolExhausted once
// the wait budget expires.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.PoolWaitDuration)
	}()

	deadline := time.Now().Add(p.cfg.AcquireWait)

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, types.NewStoreError(types.KindConfigInvalid, "", errClosed)
		}

		if len(p.idle) > 0 {
			h := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.inUse++
			p.reportGaugesLocked()
			p.mu.Unlock()
			return h, nil
		}

		if p.inUse < p.cfg.MaxSize {
			p.inUse++
			p.reportGaugesLocked()
			p.mu.Unlock()
			h, err := p.factory()
			if err != nil {
				p.mu.Lock()
				p.inUse--
				p.reportGaugesLocked()
				p.mu.Unlock()
				return nil, err
			}
			return h, nil
		}
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, types.ErrPoolExhausted
		}

		select {
		case <-ctx.Done():
			return nil, types.NewStoreError(types.KindPoolExhausted, "", ctx.Err())
		case <-time.After(remaining):
			return nil, types.ErrPoolExhausted
		case <-p.released:
		}
	}
}

// Release returns a handle to the idle set, or closes it outright if the
// pool is already at (or over) max_size — the overflow close-on-return
// policy from spec.md §4.2.
func (p *Pool) Release(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inUse--
	if p.closed || len(p.idle) >= p.cfg.MaxSize {
		_ = h.Close()
	} else {
		p.idle = append(p.idle, h)
	}
	p.reportGaugesLocked()
	p.notify()
}

// Stats reports current utilization for the health/degraded-mode check in
// spec.md §4.2 ("pool health is degraded when >=90% handles are checked out").
type Stats struct {
	InUse    int
	Idle     int
	MaxSize  int
	Degraded bool
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	degraded := p.cfg.MaxSize > 0 && float64(p.inUse)/float64(p.cfg.MaxSize) >= 0.9
	return Stats{InUse: p.inUse, Idle: len(p.idle), MaxSize: p.cfg.MaxSize, Degraded: degraded}
}

// Close closes every idle handle and marks the pool unusable. Handles
// currently checked out are closed as they're released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for _, h := range p.idle {
		_ = h.Close()
	}
	p.idle = nil
	p.notify()
	return nil
}

func (p *Pool) reportGauges() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reportGaugesLocked()
}

// reportGaugesLocked updates the Prometheus gauges and tracks the
// healthy/degraded state; a healthy->degraded edge raises a pool.degraded
// event (spec.md §4.2, §7), while the degraded->healthy edge only clears the
// state and publishes nothing. Called with p.mu held.
func (p *Pool) reportGaugesLocked() {
	metrics.PoolHandlesInUse.Set(float64(p.inUse))
	metrics.PoolHandlesTotal.Set(float64(p.inUse + len(p.idle)))

	nowDegraded := p.cfg.MaxSize > 0 && float64(p.inUse)/float64(p.cfg.MaxSize) >= 0.9
	wasDegraded := p.degraded
	p.degraded = nowDegraded

	if p.pub == nil || nowDegraded == wasDegraded {
		return
	}
	if nowDegraded {
		p.pub.Publish(events.New(events.EventPoolDegraded, "connection pool degraded: at or above 90% handles checked out"))
	}
}

var errClosed = poolClosedError{}

type poolClosedError struct{}

func (poolClosedError) Error() string { return "pool closed" }
