package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of alert raised by the engine's components.
type EventType string

const (
	EventMigrationCycleCompleted EventType = "migration.cycle_completed"
	EventMigrationTaskFailed     EventType = "migration.task_failed"
	EventVerificationMismatch    EventType = "migration.verification_mismatch"
	EventCleanupCycleCompleted   EventType = "cleanup.cycle_completed"
	EventPartitionDropFailed     EventType = "cleanup.partition_drop_failed"
	EventCircuitBreakerOpened    EventType = "writer.circuit_breaker_opened"
	EventCircuitBreakerClosed    EventType = "writer.circuit_breaker_closed"
	EventPoolDegraded            EventType = "pool.degraded"
	EventBusDisconnected         EventType = "bus.disconnected"
	EventBusReconnected          EventType = "bus.reconnected"
)

// Event represents one alert-worthy occurrence in the engine.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// New builds an Event of type t with Timestamp set to now, for components
// that raise an event inline rather than building the struct by hand.
func New(t EventType, message string) *Event {
	return &Event{Type: t, Timestamp: time.Now(), Message: message}
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes engine alerts to subscribers; in production the one
// subscriber is pkg/engine's alert logger (spec.md §8
// propagation policy: "only fatal and verification-class errors surface to
// ... operator alerts").
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
