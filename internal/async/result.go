// Package async provides the single-shot completion handle used by the
// Begin/End operation pairs in this module.
//
// A Result completes exactly once. Its callback, if any, runs exactly once,
// after the value and error have been recorded and Done has been closed, so
// End may be called from inside the callback.
package async

import (
	"context"
	"errors"
	"sync"
)

// ErrNotCompleted is returned by End when the operation is still pending.
var ErrNotCompleted = errors.New("async: operation not completed")

// Callback receives the outcome of an asynchronous operation.
type Callback[T any] func(T, error)

// Result is a completion handle for one asynchronous operation.
type Result[T any] struct {
	once sync.Once
	done chan struct{}
	cb   Callback[T]

	val T
	err error
}

// New returns a pending Result that invokes cb when completed. cb may be nil.
func New[T any](cb Callback[T]) *Result[T] {
	return &Result[T]{done: make(chan struct{}), cb: cb}
}

// Go runs fn on a new goroutine and completes the returned Result with its
// outcome.
func Go[T any](ctx context.Context, cb Callback[T], fn func(context.Context) (T, error)) *Result[T] {
	r := New(cb)
	go func() {
		r.Complete(fn(ctx))
	}()
	return r
}

// Complete records the outcome and fires the callback. Only the first call
// has any effect; it reports whether this call completed r.
func (r *Result[T]) Complete(v T, err error) bool {
	first := false
	r.once.Do(func() {
		first = true
		r.val, r.err = v, err
		close(r.done)
	})
	if first && r.cb != nil {
		r.cb(v, err)
	}
	return first
}

// Done is closed once r has completed.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// IsCompleted reports whether r has completed.
func (r *Result[T]) IsCompleted() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until r completes or ctx is done.
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// End returns the recorded outcome without blocking. It fails with
// ErrNotCompleted while the operation is pending.
func (r *Result[T]) End() (T, error) {
	if !r.IsCompleted() {
		var zero T
		return zero, ErrNotCompleted
	}
	return r.val, r.err
}
