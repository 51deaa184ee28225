package async

import (
	"context"
	"time"
)

type result[T any] struct {
	value T
	err   error
}

// Race runs call on its own goroutine and returns whichever settles first:
// the call or the timeout (or ctx). A call that loses keeps running until it
// returns by itself; its result is dropped into a buffered channel and discarded.
// call receives the deadline-bound context so cooperative callees can stop early.
func Race[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan result[T], 1)
	go func() {
		v, err := call(ctx)
		done <- result[T]{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
