package retry

import (
	"context"
	"errors"
	"time"
)

var ErrRetry = errors.New("retry")

// Backoff is a (blocking) function returns when to retry.
//
// If the passed context is canceled, Backoff returns ctx.Err().
type Backoff func(context.Context) error

// StaticBackoff returns a Backoff waiting for a fixed interval.
var StaticBackoff = func(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1)
}

// ExponentialBackoff returns a Backoff.
// For N-th call, it waits for `initialInterval * r^N` or context to be done.
var ExponentialBackoff = func(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer func() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			i := float64(interval) * r
			interval = time.Duration(int64(i))
			return nil
		}
	}
}

type Result[T any] struct {
	Value T
	Err   error
}

type Promise[T any] <-chan Result[T]

func Failed[T any](err error) Promise[T] {
	ch := make(chan Result[T], 1)
	ch <- Result[T]{Err: err}
	close(ch)
	return ch
}

func Ok[T any](value T) Promise[T] {
	ch := make(chan Result[T], 1)
	ch <- Result[T]{Value: value}
	close(ch)
	return ch
}

// Go runs f in a background goroutine, retrying while f returns ErrRetry.
//
// The returned Promise receives the last result of f.
func Go[T any](ctx context.Context, b Backoff, f func() (T, error)) Promise[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		for {
			if err := b(ctx); err != nil {
				ch <- Result[T]{Err: err}
				return
			}

			value, err := f()
			if err == nil {
				ch <- Result[T]{Value: value}
				return
			}
			if errors.Is(err, ErrRetry) {
				continue
			}
			ch <- Result[T]{Value: value, Err: err}
			return
		}
	}()
	return ch
}
