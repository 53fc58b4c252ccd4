// Package events provides a small typed publish/subscribe bus.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Bus delivers values of type T to every current subscriber.
// The zero value is ready to use.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs []*Subscription[T] // in subscription order
}

// Subscription is the handle returned by Subscribe.
type Subscription[T any] struct {
	bus    *Bus[T]
	fn     func(T)
	active atomic.Bool
}

// Subscribe registers fn. fn runs on the publisher's goroutine, so it must
// not block for long.
func (b *Bus[T]) Subscribe(fn func(T)) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription[T]{bus: b, fn: fn}
	sub.active.Store(true)
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes the subscription. Calling it more than once is safe.
// Once it returns, fn is not called for events published afterwards, and a
// Publish already in progress skips it if it has not reached it yet.
func (s *Subscription[T]) Unsubscribe() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	s.bus.mu.Lock()
	s.bus.subs = slices.DeleteFunc(s.bus.subs, func(other *Subscription[T]) bool { return other == s })
	s.bus.mu.Unlock()
}

// Active reports whether the subscription still receives events.
func (s *Subscription[T]) Active() bool {
	return s != nil && s.active.Load()
}

// Publish delivers v synchronously to a snapshot of the subscribers, in
// subscription order. Each subscriber sees v at most once.
func (b *Bus[T]) Publish(v T) {
	for _, sub := range b.snapshot() {
		if sub.active.Load() {
			sub.fn(v)
		}
	}
}

// Len returns the number of active subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus[T]) snapshot() []*Subscription[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.subs)
}
