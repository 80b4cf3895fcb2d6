// Package lifecycle provides initialization guards for long-lived,
// expensive resources such as inference sessions.
package lifecycle

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Once runs an initialization function until it succeeds.
//
// Unlike sync.Once, a failed attempt is not cached: the next call to Do runs
// the function again. Callers that arrive while an attempt is in flight share
// that attempt and observe its result. Once an attempt has succeeded, Do
// returns nil immediately without taking any lock.
type Once struct {
	done  atomic.Bool
	group singleflight.Group
}

// Do runs fn unless a previous call succeeded. The attempt runs with the
// context of the caller that started it; other waiters stop waiting (but do
// not abort the attempt) when their own ctx is done.
func (o *Once) Do(ctx context.Context, fn func(context.Context) error) error {
	if o.done.Load() {
		return nil
	}

	ch := o.group.DoChan("init", func() (any, error) {
		if o.done.Load() {
			return nil, nil
		}
		if err := fn(ctx); err != nil {
			return nil, err
		}
		o.done.Store(true)
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports whether an attempt has succeeded.
func (o *Once) Done() bool {
	return o.done.Load()
}

// Reset forgets a previous success so the next Do runs fn again.
func (o *Once) Reset() {
	o.done.Store(false)
}
