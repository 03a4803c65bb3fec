package throttle

import (
	"context"
	"sync"
)

// Future is the pending result of a submitted task. It resolves exactly once.
type Future[T any] struct {
	id   string
	done chan struct{}
	once sync.Once

	val      T
	err      error
	attempts int
}

func newFuture[T any](id string) *Future[T] {
	return &Future[T]{id: id, done: make(chan struct{})}
}

// ID returns the task ID.
func (f *Future[T]) ID() string { return f.id }

// Done is closed once the task settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task settles or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the settled value. ok is false while the task is still pending.
func (f *Future[T]) Result() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		return v, nil, false
	}
}

// Attempts is the number of invocations made for the task (0 until settled).
func (f *Future[T]) Attempts() int {
	select {
	case <-f.done:
		return f.attempts
	default:
		return 0
	}
}

func (f *Future[T]) resolve(v T, attempts int, err error) {
	f.once.Do(func() {
		f.val, f.err, f.attempts = v, err, attempts
		close(f.done)
	})
}
