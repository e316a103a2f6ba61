// Package bus implements the Event Bus: a per-subscriber
// unbounded fan-out publish channel. Each subscriber observes publish
// order; publish never blocks on, or fails because of, any one subscriber;
// unsubscribing frees that subscriber's buffer.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/forgefleet/orchestrator/internal/domain/event"
	"github.com/forgefleet/orchestrator/pkg/logger"
)

// EvictionThreshold bounds how many buffered-but-undelivered events a
// subscriber may accumulate before it is forcibly evicted. It does not
// bound the LogLine replay ring, which has its own independent capacity.
const EvictionThreshold = 50_000

// Bus is the Event Bus. The zero value is not usable; use New.
type Bus struct {
	log *logger.Logger

	mu          sync.Mutex // serializes subscribe/unsubscribe against publish
	subscribers map[string]*subscription
	sequence    uint64

	ring *logRing

	onSubscriberCountChanged func(n int)
	onSubscriberEvicted      func()
}

// New creates an Event Bus whose LogLine replay ring holds up to
// ringCapacity entries.
func New(ringCapacity int, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewDefault("event-bus")
	}
	return &Bus{
		log:         log,
		subscribers: make(map[string]*subscription),
		ring:        newLogRing(ringCapacity),
	}
}

// SetMetricsHooks wires optional callbacks invoked whenever the live
// subscriber count changes or a subscriber is evicted for lag. Either
// callback may be nil.
func (b *Bus) SetMetricsHooks(onSubscriberCountChanged func(n int), onSubscriberEvicted func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSubscriberCountChanged = onSubscriberCountChanged
	b.onSubscriberEvicted = onSubscriberEvicted
}

type subscription struct {
	id     string
	queue  *unboundedQueue
	closed bool
}

// Subscription is the handle a caller gets back from Subscribe.
type Subscription struct {
	ID     string
	Events <-chan event.Event
	Evicted <-chan struct{} // closes if this subscriber was evicted for lag
	Close  func()
}

// Subscribe allocates a new subscriber. A newly joined subscriber
// sees only events published strictly after Subscribe returns. Subscribe
// releases the subscribe lock before returning, so it does not by itself
// order any snapshots ahead of later events; WithSnapshots (called right
// after) or SubscribeWithSnapshots (registration and snapshot emission in
// one critical section) provide that ordering.
func (b *Bus) Subscribe() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	q := newUnboundedQueue()
	sub := &subscription{id: id, queue: q}
	b.subscribers[id] = sub
	b.notifySubscriberCountLocked()

	return Subscription{
		ID:      id,
		Events:  q.out,
		Evicted: q.evicted,
		Close:   func() { b.Unsubscribe(id) },
	}
}

// WithSnapshots runs fn (expected to publish one or more snapshot events
// through its emit callback, which broadcasts each event to every live
// subscriber) while holding the subscribe lock, guaranteeing no
// regular Publish can interleave ahead of the snapshots for any
// subscriber that joins concurrently to fn running. Use this immediately
// after Subscribe to uphold the snapshot-then-increment ordering.
func (b *Bus) WithSnapshots(fn func(emit func(event.Event))) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(func(e event.Event) { b.publishLocked(e) })
}

// SubscribeWithSnapshots atomically registers a new subscriber and, while
// still holding the subscribe lock, hands emitSnapshots a publish callback
// that delivers events to that subscriber alone (not a broadcast). Because
// registration and snapshot emission share one critical section, no
// concurrent Publish can reach this subscriber ahead of its snapshots:
// the stronger, race-free form of the ordering guarantee Subscribe +
// WithSnapshots only approximates when called as two separate steps.
func (b *Bus) SubscribeWithSnapshots(emitSnapshots func(publish func(event.Event))) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	q := newUnboundedQueue()
	sub := &subscription{id: id, queue: q}
	b.subscribers[id] = sub
	b.notifySubscriberCountLocked()

	emitSnapshots(func(e event.Event) {
		b.sequence++
		e.Sequence = b.sequence
		if e.At.IsZero() {
			e.At = nowUTC()
		}
		if e.Kind == event.KindLogLine {
			b.ring.add(e.Sequence, e)
		}
		q.push(e)
	})

	return Subscription{
		ID:      id,
		Events:  q.out,
		Evicted: q.evicted,
		Close:   func() { b.Unsubscribe(id) },
	}
}

// Unsubscribe drops a subscriber's buffer and terminates its stream.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(id)
}

func (b *Bus) unsubscribeLocked(id string) {
	sub, ok := b.subscribers[id]
	if !ok || sub.closed {
		return
	}
	sub.closed = true
	sub.queue.close()
	delete(b.subscribers, id)
	b.notifySubscriberCountLocked()
}

// notifySubscriberCountLocked invokes the subscriber-count hook, if any, with
// the caller already holding b.mu.
func (b *Bus) notifySubscriberCountLocked() {
	if b.onSubscriberCountChanged != nil {
		b.onSubscriberCountChanged(len(b.subscribers))
	}
}

// Publish appends event e to every live subscriber's buffer in publish
// order. It never fails and never blocks on any individual subscriber.
func (b *Bus) Publish(e event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(e)
}

func (b *Bus) publishLocked(e event.Event) {
	b.sequence++
	e.Sequence = b.sequence
	if e.At.IsZero() {
		e.At = nowUTC()
	}

	if e.Kind == event.KindLogLine {
		b.ring.add(e.Sequence, e)
	}

	evicted := false
	for id, sub := range b.subscribers {
		if sub.queue.len() >= EvictionThreshold {
			b.log.WithField("subscriber", id).Warn("event bus subscriber evicted for lag")
			sub.closed = true
			sub.queue.markEvicted()
			delete(b.subscribers, id)
			evicted = true
			if b.onSubscriberEvicted != nil {
				b.onSubscriberEvicted()
			}
			continue
		}
		sub.queue.push(e)
	}
	if evicted {
		b.notifySubscriberCountLocked()
	}
}

// RecentLogLines returns up to limit of the most recently published
// LogLine events (oldest first), independent of any subscriber's join
// time. limit <= 0 returns all retained entries (up to LogRingCapacity).
func (b *Bus) RecentLogLines(limit int) []event.Event {
	return b.ring.recent(limit)
}

// SubscriberCount reports the number of currently live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
