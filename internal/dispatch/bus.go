// Package dispatch wires the pipeline: MIDI events in, matched against the
// mapping store, built into requests, and executed against the API gateway.
// Outcomes are reported to UI subscribers over a non-blocking bus.
package dispatch

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/foundrymidi/bridge/internal/observability"
	"github.com/foundrymidi/bridge/model"
)

// defaultSubscriberBuffer is the per-subscriber queue depth when the caller
// does not specify one.
const defaultSubscriberBuffer = 64

// Bus fans notifications out to subscribers without ever blocking the
// publisher. A subscriber that falls behind misses notifications; the MIDI
// intake and dispatch paths must never wait on a UI.
type Bus struct {
	log     *zap.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	subs map[int]chan model.Notification
	next int
}

// NewBus creates an empty bus.
func NewBus(log *zap.Logger, metrics *observability.Metrics) *Bus {
	return &Bus{
		log:     log,
		metrics: metrics,
		subs:    make(map[int]chan model.Notification),
	}
}

// Subscribe registers a subscriber with the given queue depth and returns
// its channel plus a cancel function. Cancel closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan model.Notification, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan model.Notification, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a notification to every subscriber that has queue space,
// dropping it for those that do not.
func (b *Bus) Publish(n model.Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- n:
		default:
			if b.metrics != nil {
				b.metrics.NotificationsDropped.Inc()
			}
			b.log.Warn("notification dropped, subscriber queue full",
				zap.String("kind", string(n.Kind)))
		}
	}
}
