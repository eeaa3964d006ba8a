package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event types emitted by the margin and settlement engines. Consumers
// (notification, audit) subscribe to the bus; the engines never block on
// delivery.
const (
	TypeMarginCall                   = "margin_call"
	TypeMarginCallResolved           = "margin_call_resolved"
	TypeSettlementInstructionCreated = "settlement_instruction_created"
	TypeWorkflowStepCompleted        = "workflow_step_completed"
	TypeSettlementCompleted          = "settlement_completed"
	TypeSettlementFailed             = "settlement_failed"
	TypeSettlementCancelled          = "settlement_cancelled"
	TypeSettlementOverdue            = "settlement_overdue"
)

// Event is an outbound notification published by the core engines.
type Event struct {
	Type       string                 `json:"type"`
	ClientID   string                 `json:"client_id,omitempty"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Region     string                 `json:"region,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Publisher is the narrow interface the engines depend on.
type Publisher interface {
	Publish(event Event)
}

// Handler receives events from the bus.
type Handler func(Event)

// Bus is an in-process, non-blocking event bus. Publish enqueues onto a
// buffered channel; if the buffer is full the event is dropped and counted,
// never blocking the caller.
type Bus struct {
	ch       chan Event
	handlers []Handler
	mu       sync.RWMutex
	done     chan struct{}
	closed   bool
	dropped  int64
	stopOnce sync.Once
}

// NewBus creates a bus with the given buffer size and starts its dispatch
// loop.
func NewBus(buffer int) *Bus {
	b := &Bus{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for all events. Handlers run on the dispatch
// goroutine and should return quickly.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues an event without blocking. Events published after Close
// or while the buffer is full are dropped. The send happens under the read
// lock so it can never race with Close closing the channel.
func (b *Bus) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.drop(event, "event bus closed, dropping event")
		return
	}

	select {
	case b.ch <- event:
		b.mu.RUnlock()
	default:
		b.mu.RUnlock()
		b.drop(event, "event bus buffer full, dropping event")
	}
}

func (b *Bus) drop(event Event, msg string) {
	b.mu.Lock()
	b.dropped++
	dropped := b.dropped
	b.mu.Unlock()

	log.Warn().
		Str("event_type", event.Type).
		Int64("total_dropped", dropped).
		Msg(msg)
}

// Dropped returns the number of events dropped due to a full buffer.
func (b *Bus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close stops the dispatch loop after draining buffered events. Subsequent
// publishes are dropped rather than panicking.
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.ch)
		b.mu.Unlock()
		<-b.done
	})
}

func (b *Bus) dispatch() {
	defer close(b.done)

	for event := range b.ch {
		b.mu.RLock()
		handlers := make([]Handler, len(b.handlers))
		copy(handlers, b.handlers)
		b.mu.RUnlock()

		for _, h := range handlers {
			h(event)
		}
	}
}

// LoggingHandler returns a handler that writes every event to the structured
// log, standing in for the downstream notification collaborator.
func LoggingHandler() Handler {
	return func(event Event) {
		log.Info().
			Str("event_type", event.Type).
			Str("client_id", event.ClientID).
			Str("resource_id", event.ResourceID).
			Str("region", event.Region).
			Interface("payload", event.Payload).
			Msg("event published")
	}
}
