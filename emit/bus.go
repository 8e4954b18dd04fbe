package emit

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler consumes events delivered through the Bus. Returning an error
// drops the subscription: the bus assumes the subscriber is gone (a
// closed websocket, a full sink) and stops delivering to it.
type Handler func(Event) error

// Bus is the in-process fan-out of status events.
//
// Delivery is best-effort and single-process. Each subscriber gets its
// own buffered queue drained by a dedicated goroutine, so events from
// one publisher arrive at each subscriber in publish order, and a slow
// subscriber never blocks the publisher. When a subscriber's queue is
// full the event is dropped for that subscriber; when its handler
// returns an error the subscriber is removed silently.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int64]*subscriber
	nextID atomic.Int64
	closed bool
	buffer int
	log    *zap.Logger
}

type subscriber struct {
	id      int64
	queue   chan Event
	done    chan struct{}
	handler Handler
}

// DefaultBusBuffer is the per-subscriber queue depth used when the
// caller passes a non-positive buffer size.
const DefaultBusBuffer = 256

// NewBus creates a bus with the given per-subscriber buffer. logger may
// be nil.
func NewBus(buffer int, log *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBusBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[int64]*subscriber),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe attaches a handler and returns its subscription id for
// Unsubscribe. Subscribers may join and leave at any time.
func (b *Bus) Subscribe(h Handler) int64 {
	sub := &subscriber{
		id:      b.nextID.Add(1),
		queue:   make(chan Event, b.buffer),
		done:    make(chan struct{}),
		handler: h,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return sub.id
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go b.drain(sub)
	return sub.id
}

// Unsubscribe detaches a subscriber. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// Publish fans the event out to all current subscribers without
// blocking. Events are dropped per-subscriber when a queue is full.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.queue <- event:
		default:
			b.log.Warn("event bus subscriber queue full, dropping event",
				zap.Int64("subscriber", sub.id),
				zap.String("status", event.Status))
		}
	}
}

// Emit makes the Bus itself usable as an Emitter.
func (b *Bus) Emit(event Event) { b.Publish(event) }

// Close detaches all subscribers and rejects future ones. In-flight
// queues are abandoned; Close does not wait for drains to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int64]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
}

// Len reports the current subscriber count.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) drain(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			if err := sub.handler(ev); err != nil {
				// Failing subscribers are dropped silently.
				b.Unsubscribe(sub.id)
				return
			}
		}
	}
}
