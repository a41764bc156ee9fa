package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberReceivesPublishedEvent(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventCircuitBreakerOpened, Message: "trade writer tripped"})

	select {
	case e := <-sub:
		assert.Equal(t, EventCircuitBreakerOpened, e.Type)
		assert.False(t, e.Timestamp.IsZero(), "Publish must stamp a timestamp when none is set")
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the published event")
	}
}

func TestNewStampsTypeMessageAndTimestamp(t *testing.T) {
	e := New(EventPoolDegraded, "pool at capacity")
	assert.Equal(t, EventPoolDegraded, e.Type)
	assert.Equal(t, "pool at capacity", e.Message)
	assert.False(t, e.Timestamp.IsZero())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestFullSubscriberBufferSkipsRatherThanBlocks(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 200; i++ {
		b.Publish(&Event{Type: EventPoolDegraded})
	}

	// The broker's distribution loop must never block even though a slow
	// subscriber's 50-event buffer fills long before 200 publishes land.
	assert.Eventually(t, func() bool {
		return len(sub) > 0
	}, time.Second, 10*time.Millisecond)
}
