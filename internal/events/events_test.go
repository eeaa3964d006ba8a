package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(16)

	var mu sync.Mutex
	var received []Event
	bus.Subscribe(func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
	})

	bus.Publish(Event{Type: TypeMarginCall, ClientID: "client-1"})
	bus.Publish(Event{Type: TypeSettlementCompleted, ClientID: "client-1"})

	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, TypeMarginCall, received[0].Type)
	assert.Equal(t, TypeSettlementCompleted, received[1].Type)
	assert.False(t, received[0].OccurredAt.IsZero())
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(1)

	// A slow handler backs up the buffer; extra events are dropped rather
	// than blocking the publisher
	release := make(chan struct{})
	bus.Subscribe(func(Event) {
		<-release
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(Event{Type: TypeMarginCall})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}

	assert.Greater(t, bus.Dropped(), int64(0))
	close(release)
	bus.Close()
}

func TestBusPublishAfterCloseDropsEvent(t *testing.T) {
	bus := NewBus(4)

	var mu sync.Mutex
	delivered := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		defer mu.Unlock()
		delivered++
	})

	bus.Publish(Event{Type: TypeMarginCall})
	bus.Close()

	// A shutdown sweep publishing after Close must drop, not panic
	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: TypeSettlementOverdue})
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, delivered)
	assert.Equal(t, int64(1), bus.Dropped())
}

func TestBusCloseIsIdempotent(t *testing.T) {
	bus := NewBus(4)
	bus.Close()
	assert.NotPanics(t, bus.Close)
}
