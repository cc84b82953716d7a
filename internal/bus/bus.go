package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tabwatch/internal/logger"
	"tabwatch/pkg/model"
)

const subscriberBuffer = 64

// Bus fans browser lifecycle events out to subscribers. Publish never blocks:
// a subscriber that falls behind loses events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan model.Event
	closed bool
	log    logger.Logger
}

// New creates an event bus.
func New(l logger.Logger) *Bus {
	if l == nil {
		l = logger.NewNop()
	}
	return &Bus{
		subs: make(map[string]chan model.Event),
		log:  l,
	}
}

// Subscribe registers a subscriber. The returned cancel func releases it;
// calling it more than once is safe.
func (b *Bus) Subscribe() (<-chan model.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := uuid.NewString()
	b.subs[id] = ch
	return ch, func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish stamps payload with an ID and timestamp and delivers it to every
// subscriber.
func (b *Bus) Publish(payload model.BrowserEvent) {
	evt := model.Event{ID: uuid.NewString(), Time: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.log.Warn("subscriber behind, event dropped", "eventID", evt.ID)
		}
	}
}

// Close terminates all subscriptions. Publish and Subscribe become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
