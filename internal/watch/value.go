// Package watch provides non-blocking observable values and event feeds for
// presentation layers.
package watch

import "sync"

// Value holds the latest value of T. Subscribers see the current value on
// subscription and then every later value unless a newer one replaced it
// before they read. Set never blocks.
type Value[T any] struct {
	mu     sync.Mutex
	cur    T
	subs   map[chan T]struct{}
	closed bool
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{cur: initial, subs: map[chan T]struct{}{}}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores x and offers it to every subscriber.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}

	v.cur = x
	for ch := range v.subs {
		offerLatest(ch, x)
	}
}

// Subscribe returns a channel primed with the current value and a cancel
// function that closes it.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		close(ch)
		return ch, func() {}
	}

	ch <- v.cur
	v.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if _, ok := v.subs[ch]; ok {
				delete(v.subs, ch)
				close(ch)
			}
		})
	}
}

// Close closes every subscription. Later Sets are ignored.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true

	for ch := range v.subs {
		delete(v.subs, ch)
		close(ch)
	}
}

// offerLatest replaces a stale buffered value. Callers hold the lock, so
// they are the only sender.
func offerLatest[T any](ch chan T, x T) {
	select {
	case ch <- x:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	ch <- x
}
