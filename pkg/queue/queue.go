// Package queue implements the Batch Queue Manager: one FIFO per data type,
// absorbing bursty ingress and flushing on size, timeout, or hard-cap
// triggers. It is grounded on the teacher's pkg/reconciler ticker-loop shape
// — a maintenance loop that only schedules work, never performs it inline —
// generalized from per-node reconciliation to per-type flush scheduling.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/marketprism/storage-engine/pkg/log"
	"github.com/marketprism/storage-engine/pkg/metrics"
	"github.com/marketprism/storage-engine/pkg/types"
)

// Writer is the Tier Writer contract the queue drains into. Defined here,
// not imported from pkg/writer, so pkg/writer can depend on pkg/queue's
// types without an import cycle.
type Writer interface {
	Write(ctx context.Context, dt types.DataType, batch []types.Record) error
}

// MaintenanceInterval is how often the maintenance loop evaluates flush
// triggers for every type, per spec.md §4.4 ("evaluated every <=500ms").
const MaintenanceInterval = 500 * time.Millisecond

type typeQueue struct {
	mu sync.Mutex
	// records and dones are parallel slices: dones[i] is the completion
	// channel (nil for fire-and-forget Enqueue) for records[i]'s eventual
	// flush.
	records  []types.Record
	dones    []chan error
	firstEnq time.Time
	flushing bool
}

// Manager owns one typeQueue per data type and a maintenance loop that
// evaluates flush triggers.
type Manager struct {
	policies map[types.DataType]types.BatchPolicy
	writer   Writer

	queues map[types.DataType]*typeQueue

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Manager. policies may be nil, in which case types.Policies
// (the compiled-in defaults) is used.
func New(writer Writer, policies map[types.DataType]types.BatchPolicy) *Manager {
	if policies == nil {
		policies = types.Policies
	}
	m := &Manager{
		policies: policies,
		writer:   writer,
		queues:   make(map[types.DataType]*typeQueue, len(types.AllDataTypes)),
		stopCh:   make(chan struct{}),
	}
	for _, dt := range types.AllDataTypes {
		m.queues[dt] = &typeQueue{}
	}
	return m
}

// Start launches the maintenance loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.maintenanceLoop()
}

// Stop signals the maintenance loop to exit and waits for it, then flushes
// every non-empty queue best-effort (the shutdown grace period from
// spec.md §5 "Cancellation and timeouts").
func (m *Manager) Stop(ctx context.Context) {
	close(m.stopCh)
	m.wg.Wait()

	for dt := range m.queues {
		m.tryFlush(ctx, dt, "shutdown")
	}
}

// Enqueue appends r to its type's queue, blocking (backpressure) if the
// queue is at max_queue. It also opportunistically checks that type's flush
// trigger once the record lands, per spec.md §4.4. It returns as soon as r
// is admitted to the queue, before any flush has happened; see
// EnqueueAwaitFlush for the stronger completion-tracked variant spec.md
// §4.6's ack-after-flush mode needs.
func (m *Manager) Enqueue(ctx context.Context, r types.Record) error {
	return m.enqueue(ctx, r, nil)
}

// EnqueueAwaitFlush appends r like Enqueue, but blocks until the batch
// containing r has actually been written (or permanently failed after
// retries), for the Bus Subscriber's ack-after-flush delivery mode. A batch
// that fails transiently is requeued head-of-line and retried by the
// maintenance loop; the caller keeps waiting until it eventually lands or
// ctx is done.
func (m *Manager) EnqueueAwaitFlush(ctx context.Context, r types.Record) error {
	done := make(chan error, 1)
	if err := m.enqueue(ctx, r, done); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) enqueue(ctx context.Context, r types.Record, done chan error) error {
	q := m.queues[r.Type]
	policy := m.policyFor(r.Type)

	for {
		q.mu.Lock()
		if len(q.records) < policy.MaxQueue {
			if len(q.records) == 0 {
				q.firstEnq = time.Now()
			}
			q.records = append(q.records, r)
			q.dones = append(q.dones, done)
			depth := len(q.records)
			q.mu.Unlock()
			metrics.QueueDepth.WithLabelValues(string(r.Type)).Set(float64(depth))
			go m.tryFlush(ctx, r.Type, "enqueue")
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *Manager) policyFor(dt types.DataType) types.BatchPolicy {
	if p, ok := m.policies[dt]; ok {
		return p
	}
	return types.Policies[dt]
}

func (m *Manager) maintenanceLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			for dt := range m.queues {
				m.tryFlush(context.Background(), dt, "maintenance")
			}
		}
	}
}

// tryFlush evaluates the flush trigger for dt and, if it fires, drains and
// writes a batch. At most one flush per type is in flight at a time.
func (m *Manager) tryFlush(ctx context.Context, dt types.DataType, trigger string) {
	batch, dones, ok := m.drainIfTriggered(dt, trigger == "shutdown")
	if !ok {
		return
	}
	if trigger == "shutdown" {
		m.flush(ctx, dt, batch, dones, trigger)
		return
	}
	go m.flush(ctx, dt, batch, dones, trigger)
}

// drainIfTriggered evaluates the flush trigger for dt (or treats it as
// always-fired when force is set, for shutdown draining) and, if it fires,
// atomically drains up to batch_size oldest records and their matching
// completion channels.
func (m *Manager) drainIfTriggered(dt types.DataType, force bool) ([]types.Record, []chan error, bool) {
	q := m.queues[dt]
	policy := m.policyFor(dt)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.flushing {
		return nil, nil, false
	}
	n := len(q.records)
	if n == 0 {
		return nil, nil, false
	}
	fires := force || n >= policy.BatchSize || n >= policy.MaxQueue ||
		(!q.firstEnq.IsZero() && time.Since(q.firstEnq) >= policy.Timeout)
	if !fires {
		return nil, nil, false
	}
	q.flushing = true

	drainN := n
	if !force && drainN > policy.BatchSize {
		drainN = policy.BatchSize
	}
	batch := make([]types.Record, drainN)
	copy(batch, q.records[:drainN])
	dones := make([]chan error, drainN)
	copy(dones, q.dones[:drainN])
	q.records = q.records[drainN:]
	q.dones = q.dones[drainN:]
	if len(q.records) == 0 {
		q.firstEnq = time.Time{}
	} else {
		q.firstEnq = time.Now()
	}

	metrics.QueueDepth.WithLabelValues(string(dt)).Set(float64(len(q.records)))
	return batch, dones, true
}

func (m *Manager) flush(ctx context.Context, dt types.DataType, batch []types.Record, dones []chan error, trigger string) {
	q := m.queues[dt]
	defer func() {
		q.mu.Lock()
		q.flushing = false
		q.mu.Unlock()
	}()

	timer := metrics.NewTimer()
	err := m.writer.Write(ctx, dt, batch)
	timer.ObserveDurationVec(metrics.FlushLatency, string(dt))
	metrics.FlushesTotal.WithLabelValues(string(dt), trigger).Inc()

	if err != nil {
		log.WithDataType(string(dt)).Error().Err(err).Msg("batch flush failed; requeueing head-of-line")
		q.mu.Lock()
		q.records = append(batch, q.records...)
		q.dones = append(dones, q.dones...)
		if q.firstEnq.IsZero() {
			q.firstEnq = time.Now()
		}
		q.mu.Unlock()
		return
	}

	signalDone(dones, nil)
}

// signalDone notifies every non-nil completion channel of a batch's outcome
// and closes it; fire-and-forget records (nil entries from Enqueue) are
// skipped.
func signalDone(dones []chan error, err error) {
	for _, d := range dones {
		if d == nil {
			continue
		}
		d <- err
		close(d)
	}
}

// Depth returns the current queue depth for a data type, used by the Admin
// Facade's status/stats endpoints.
func (m *Manager) Depth(dt types.DataType) int {
	q := m.queues[dt]
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// AllDepths returns the depth of every queue, keyed by data type.
func (m *Manager) AllDepths() map[types.DataType]int {
	out := make(map[types.DataType]int, len(m.queues))
	for dt := range m.queues {
		out[dt] = m.Depth(dt)
	}
	return out
}
