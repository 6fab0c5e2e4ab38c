// Package pubsub is a small in-process multicast broker. Each subscriber gets
// its own buffered channel and must call the returned cancel func when the
// consuming component goes away.
package pubsub

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscriber channel capacity used by NewBroker when buffer <= 0.
const DefaultBuffer = 64

// Broker fans every published value out to all current subscribers.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]chan T
	next   uint64
	buffer int
	closed bool
	log    *logrus.Entry
}

// NewBroker returns an empty broker. name labels drop warnings in the log.
func NewBroker[T any](name string, buffer int, log *logrus.Entry) *Broker[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker[T]{
		subs:   map[uint64]chan T{},
		buffer: buffer,
		log:    log.WithField("broker", name),
	}
}

// Subscribe registers a new subscriber. The cancel func removes it and closes
// the channel; calling it more than once is fine.
func (b *Broker[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broker[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers v to every subscriber without blocking. A subscriber whose
// buffer is full misses v. Returns the number of subscribers that received it.
func (b *Broker[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, ch := range b.subs {
		select {
		case ch <- v:
			delivered++
		default:
			b.log.WithField("subscriber", id).Error("subscriber buffer full, dropping event")
		}
	}
	return delivered
}

// PublishWait is Publish for values that must not be lost: it waits for room
// in each subscriber's buffer until ctx is done. Subscribers still full at
// that point miss v.
func (b *Broker[T]) PublishWait(ctx context.Context, v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, ch := range b.subs {
		select {
		case ch <- v:
			delivered++
		case <-ctx.Done():
			b.log.WithField("subscriber", id).WithError(ctx.Err()).Error("subscriber did not drain in time, dropping event")
		}
	}
	return delivered
}

// Len is the current subscriber count.
func (b *Broker[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broker[T]) Close() {
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
