package event

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultBufferSize = 64

// Broadcaster fans events out to zero or more subscriptions. Every live
// subscription receives every published event, in publish order; no event
// is exclusively consumed by one subscriber.
//
// Publish never blocks the caller: each subscription buffers up to
// bufferSize events, and a subscription whose buffer is full is
// disconnected instead of stalling the publisher or silently skipping
// events for a subscriber that is still nominally attached.
type Broadcaster[E any] struct {
	log        *zap.Logger
	bufferSize int

	// pubMu serializes fan-out so all subscribers observe the same event
	// order even under concurrent publishers.
	pubMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[string]*Subscription[E]
	closed bool
}

func NewBroadcaster[E any](log *zap.Logger, bufferSize int) *Broadcaster[E] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Broadcaster[E]{
		log:        log,
		bufferSize: bufferSize,
		subs:       make(map[string]*Subscription[E]),
	}
}

// Subscribe registers a new subscription. Subscribing never fails: on a
// closed broadcaster the returned subscription is already terminated.
func (b *Broadcaster[E]) Subscribe() *Subscription[E] {
	sub := newSubscription(b, uuid.NewString(), b.bufferSize)

	b.subsMu.Lock()
	if b.closed {
		b.subsMu.Unlock()
		sub.close()
		return sub
	}
	b.subs[sub.id] = sub
	b.subsMu.Unlock()

	return sub
}

// Publish delivers e to every live subscription without blocking.
func (b *Broadcaster[E]) Publish(e E) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.subsMu.RLock()
	if b.closed {
		b.subsMu.RUnlock()
		return
	}
	// Snapshot so a Cancel during fan-out cannot corrupt iteration.
	subs := make([]*Subscription[E], 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subsMu.RUnlock()

	for _, sub := range subs {
		if sub.notify(e) {
			continue
		}

		b.log.Warn("Subscriber buffer full; disconnecting slow subscriber",
			zap.String("subscription_id", sub.id),
		)
		b.remove(sub.id)
		sub.close()
	}
}

func (b *Broadcaster[E]) SubscriberCount() int {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()

	return len(b.subs)
}

// Close terminates every subscription and rejects further publishes. Late
// publishes after Close are dropped so no subscriber is resurrected.
func (b *Broadcaster[E]) Close() {
	b.subsMu.Lock()
	if b.closed {
		b.subsMu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*Subscription[E])
	b.subsMu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (b *Broadcaster[E]) remove(id string) {
	b.subsMu.Lock()
	delete(b.subs, id)
	b.subsMu.Unlock()
}
