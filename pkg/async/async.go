package async

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by AwaitWithTimeout when the future does not
// complete in time.
var ErrTimeout = errors.New("async: operation timed out waiting for future completion")

// Future represents the result of an asynchronous computation.
type Future[U any] struct {
	result U
	err    error
	once   sync.Once
	done   chan struct{}
}

// Await blocks until the computation completes and returns its result.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.result, f.err
}

// AwaitWithTimeout blocks until the computation completes or the timeout
// elapses, in which case it returns ErrTimeout. The underlying goroutine
// keeps running; only the wait is abandoned.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-time.After(timeout):
		var zero U
		return zero, ErrTimeout
	}
}

// IsComplete reports completion without blocking.
func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Async runs fn in its own goroutine and returns a Future for its result. A
// context canceled before fn starts completes the future with the context
// error without invoking fn.
func Async[T any, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f := &Future[U]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		select {
		case <-ctx.Done():
			f.once.Do(func() { f.err = ctx.Err() })
			return
		default:
		}

		res, err := fn(ctx, param)
		f.once.Do(func() {
			f.result = res
			f.err = err
		})
	}()

	return f
}

// Fire runs fn in its own goroutine and discards the result. Used for
// side effects like notification dispatch whose failure must not affect the
// caller. fn is responsible for its own error logging.
func Fire[T any](ctx context.Context, param T, fn func(context.Context, T) error) {
	go func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = fn(ctx, param)
	}()
}
