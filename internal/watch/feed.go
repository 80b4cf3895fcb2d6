package watch

import (
	"sync"
	"sync/atomic"
)

// DefaultFeedBuffer is the per-subscriber buffer of a Feed.
const DefaultFeedBuffer = 64

// Feed broadcasts every published item in order. A subscriber that falls
// more than its buffer behind loses the oldest undelivered items; Publish
// never blocks.
type Feed[T any] struct {
	buffer int

	mu     sync.Mutex
	subs   map[chan T]struct{}
	closed bool

	dropped atomic.Int64
}

// NewFeed returns a feed whose subscribers buffer up to buffer items. A
// non-positive buffer uses DefaultFeedBuffer.
func NewFeed[T any](buffer int) *Feed[T] {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	return &Feed[T]{buffer: buffer, subs: map[chan T]struct{}{}}
}

func (f *Feed[T]) Publish(x T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	for ch := range f.subs {
		select {
		case ch <- x:
			continue
		default:
		}

		select {
		case <-ch:
			f.dropped.Add(1)
		default:
		}

		ch <- x
	}
}

// Subscribe returns a channel of future items and its cancel function.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, f.buffer)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(ch)
		return ch, func() {}
	}

	f.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[ch]; ok {
				delete(f.subs, ch)
				close(ch)
			}
		})
	}
}

// Dropped returns the number of items lost by slow subscribers.
func (f *Feed[T]) Dropped() int64 { return f.dropped.Load() }

// Close closes every subscription.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true

	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
