package chat

import (
	"log"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel size used when Subscribe is
// given a non-positive buffer.
const DefaultBuffer = 64

// Subscription receives events published to one topic.
type Subscription[T any] struct {
	Topic string

	id     uint64
	ch     chan T
	done   chan struct{}
	once   sync.Once
	broker *Broker[T]
	lagged atomic.Bool
}

// Events returns the delivery channel. It is never closed; select on Done
// to notice cancellation.
func (s *Subscription[T]) Events() <-chan T { return s.ch }

// Done is closed once the subscription is released.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Lagged reports, and clears, whether an event was dropped because the
// buffer was full since the last call. A lagged consumer must resync from
// the store.
func (s *Subscription[T]) Lagged() bool { return s.lagged.Swap(false) }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		close(s.done)
		s.broker.remove(s)
	})
}

// Broker routes events to subscribers by topic.
type Broker[T any] struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscription[T]
	nextID uint64
}

// NewBroker creates a new event broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		topics: make(map[string]map[uint64]*Subscription[T]),
	}
}

// Subscribe registers a listener on a topic.
func (b *Broker[T]) Subscribe(topic string, buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription[T]{
		Topic:  topic,
		id:     b.nextID,
		ch:     make(chan T, buffer),
		done:   make(chan struct{}),
		broker: b,
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription[T])
		b.topics[topic] = subs
	}
	subs[sub.id] = sub
	return sub
}

func (b *Broker[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Don't close the channel here: publishers may have already snapshotted
	// subscribers and will send concurrently.
	subs := b.topics[s.Topic]
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(b.topics, s.Topic)
	}
}

// Publish delivers ev to every subscriber of topic without blocking.
// Subscribers with a full buffer are flagged as lagged instead.
func (b *Broker[T]) Publish(topic string, ev T) int {
	b.mu.RLock()
	subs := make([]*Subscription[T], 0, len(b.topics[topic]))
	for _, sub := range b.topics[topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, sub := range subs {
		select {
		case <-sub.done:
			continue
		default:
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			sub.lagged.Store(true)
			dropped++
		}
	}
	if dropped > 0 {
		log.Printf("chat: dropped %d events (topic=%q, slow subscribers)", dropped, topic)
	}
	return delivered
}

// Subscribers returns the number of live subscriptions on a topic.
func (b *Broker[T]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Topics returns the number of topics with at least one subscriber.
func (b *Broker[T]) Topics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}
