package fetch

import (
	"context"
	"sync"

	"github.com/moeview/moeview/pkg/cache"
)

// Future resolves exactly once with the terminal result of a fetch.
// Multiple waiters can observe the same result: completion closes the done
// channel, which notifies all of them.
type Future struct {
	done chan struct{}

	once sync.Once
	rec  *cache.Record
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete resolves the future. Only the first call has effect.
func (f *Future) complete(rec *cache.Record, err error) {
	f.once.Do(func() {
		f.rec = rec
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or the context expires.
func (f *Future) Wait(ctx context.Context) (*cache.Record, error) {
	select {
	case <-f.done:
		return f.rec, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolved reports whether the future has a terminal result.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome. It must only be called after Done is closed.
func (f *Future) Result() (*cache.Record, error) {
	return f.rec, f.err
}
