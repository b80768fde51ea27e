// Package eventbus fans progress events out to any number of listeners
// without ever blocking the publisher.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel capacity of a subscription.
const DefaultBuffer = 64

// Bus is a type-safe publish/subscribe bus for events of type T. Slow
// subscribers lose events instead of stalling Publish.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    []chan T
	dropped atomic.Int64
	closed  bool
}

// New creates an empty Bus.
func New[T any]() *Bus[T] { return &Bus[T]{} }

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. A non-positive buffer uses
// DefaultBuffer. Subscribing to a closed bus returns a closed channel.
func (b *Bus[T]) Subscribe(buffer int) <-chan T {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan T, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Dropped returns the number of deliveries skipped because a subscriber's
// buffer was full.
func (b *Bus[T]) Dropped() int64 { return b.dropped.Load() }

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
