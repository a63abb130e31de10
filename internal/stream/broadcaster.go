// Package stream provides multi-consumer fan-out with bounded, drop-oldest
// per-subscriber buffers. Publishers never block on slow subscribers.
package stream

import (
	"sync"
	"sync/atomic"
)

// Subscription is one consumer's view of a Broadcaster.
type Subscription[T any] struct {
	ch      chan T
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
	detach  func()
}

// C returns the delivery channel. It is closed when the subscription or the
// broadcaster is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped returns how many items were discarded because the buffer was full.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	if s.detach != nil {
		s.detach()
	}
	s.shutdown()
}

// offer enqueues v, evicting the oldest buffered item when full.
// It reports whether an item was dropped.
func (s *Subscription[T]) offer(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- v:
		return false
	default:
	}

	// Full: evict the oldest. The consumer may have drained meanwhile, so
	// neither step blocks.
	select {
	case <-s.ch:
	default:
	}
	s.dropped.Add(1)

	select {
	case s.ch <- v:
	default:
	}
	return true
}

func (s *Subscription[T]) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broadcaster delivers every published value to all current subscribers.
type Broadcaster[T any] struct {
	// pubMu serializes Publish so concurrent publishers deliver in one order
	// to every subscriber.
	pubMu sync.Mutex

	mu      sync.RWMutex
	subs    map[uint64]*Subscription[T]
	nextID  uint64
	buffer  int
	closed  bool
	onDrop  func()
	hasLast bool
	last    T
	replay  bool
}

// Option configures a Broadcaster.
type Option[T any] func(*Broadcaster[T])

// WithReplayLast makes new subscribers receive the latest published value first.
func WithReplayLast[T any]() Option[T] {
	return func(b *Broadcaster[T]) { b.replay = true }
}

// WithDropHook registers a callback invoked for every dropped item.
func WithDropHook[T any](fn func()) Option[T] {
	return func(b *Broadcaster[T]) { b.onDrop = fn }
}

// NewBroadcaster creates a Broadcaster whose subscribers buffer up to buffer items.
func NewBroadcaster[T any](buffer int, opts ...Option[T]) *Broadcaster[T] {
	if buffer < 1 {
		buffer = 1
	}
	b := &Broadcaster[T]{
		subs:   make(map[uint64]*Subscription[T]),
		buffer: buffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new consumer. Subscribing to a closed broadcaster
// returns an already-closed subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	return b.SubscribeBuffered(b.buffer)
}

// SubscribeBuffered is Subscribe with a per-subscription buffer size.
func (b *Broadcaster[T]) SubscribeBuffered(buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription[T]{ch: make(chan T, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.shutdown()
		return sub
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	sub.detach = func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}

	if b.replay && b.hasLast {
		sub.offer(b.last)
	}
	return sub
}

// Publish delivers v to every subscriber without blocking. Concurrent calls
// are applied one at a time, so all subscribers observe the same order.
func (b *Broadcaster[T]) Publish(v T) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.last = v
	b.hasLast = true
	subs := make([]*Subscription[T], 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.offer(v) && b.onDrop != nil {
			b.onDrop()
		}
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Further publishes are ignored.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription[T])
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}
