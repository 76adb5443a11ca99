// Package broadcast implements the real-time event sink that streams
// identification and healing progress to subscribers (recording UI,
// validation UI). Delivery is fire-and-forget: the state transition that
// produced an event is the source of truth, the event is a projection.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// subscriber is one consumer listening on a set of channels.
type subscriber struct {
	id       string
	events   chan schemas.Event
	channels map[string]bool
}

// Broadcaster fans events out to subscribers per channel. Events sharing a
// correlation id are published from a single session goroutine, so
// per-subscriber FIFO channels preserve their order; cross-session ordering
// is not guaranteed.
type Broadcaster struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	isShutdown  bool

	// sequences assigns a per-correlation-id sequence number so consumers
	// can de-duplicate under at-least-once delivery.
	seqMu     sync.Mutex
	sequences map[string]int64

	bufferSize int
}

// New creates a Broadcaster. bufferSize bounds each subscriber's queue.
func New(logger *zap.Logger, bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Broadcaster{
		logger:      logger.Named("broadcaster"),
		subscribers: make(map[string]*subscriber),
		sequences:   make(map[string]int64),
		bufferSize:  bufferSize,
	}
}

// Publish stamps and dispatches an event. It never blocks the caller: a
// subscriber whose buffer is full loses the event, with an error log.
func (b *Broadcaster) Publish(_ context.Context, event schemas.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Sequence = b.nextSequence(event.CorrelationID)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isShutdown {
		return
	}

	for _, sub := range b.subscribers {
		if len(sub.channels) > 0 && !sub.channels[event.Channel] {
			continue
		}
		select {
		case sub.events <- event:
		default:
			b.logger.Error("Subscriber buffer full, dropping event.",
				zap.String("subscriber_id", sub.id),
				zap.String("channel", event.Channel),
				zap.String("type", string(event.Type)))
		}
	}
}

// Subscribe registers a consumer for the given channels (all channels when
// none are named) and returns its event stream plus a cancel function.
func (b *Broadcaster) Subscribe(channels ...string) (<-chan schemas.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		id:       uuid.NewString()[:8],
		events:   make(chan schemas.Event, b.bufferSize),
		channels: make(map[string]bool, len(channels)),
	}
	for _, ch := range channels {
		sub.channels[ch] = true
	}

	if b.isShutdown {
		close(sub.events)
		return sub.events, func() {}
	}

	b.subscribers[sub.id] = sub
	b.logger.Info("Subscriber registered.",
		zap.String("subscriber_id", sub.id),
		zap.Int("active_subscribers", len(b.subscribers)))

	cancel := func() { b.unsubscribe(sub.id) }
	return sub.events, cancel
}

func (b *Broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.events)
}

// Shutdown closes all subscriber channels. Further publishes are dropped.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return
	}
	b.isShutdown = true
	for id, sub := range b.subscribers {
		close(sub.events)
		delete(b.subscribers, id)
	}
	b.logger.Info("Broadcaster shutdown complete.")
}

func (b *Broadcaster) nextSequence(correlationID string) int64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	b.sequences[correlationID]++
	return b.sequences[correlationID]
}
