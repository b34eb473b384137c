// Package loop runs a task repeatedly until the task decides to stop.
//
// It is used wherever the control plane needs a bounded poll,
// like waiting for an announcer unit to come up.
package loop

import (
	"context"
	"fmt"
	"time"
)

type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}

	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue the loop. The next call of the task happens after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break the loop, with error if any.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task receives the value of the previous call and returns the new value,
// along with Continue(interval) or Break(err).
type Task[T any] func(context.Context, T) (T, Next)

// Start task in loop.
//
// The task is called as task(ctx, init) at first,
// then task(ctx, lastValue) repeatedly until it returns Break.
//
// When ctx gets done, the loop breaks with ctx.Err().
//
// # Returns
//
// - T: the value the task returned at last.
// This value is always returned whether or not error is nil.
//
// - error: error in Break(error), or ctx.Err().
func Start[T any](ctx context.Context, init T, task Task[T]) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	value := init
	for {
		v, n := task(ctx, value)

		if n.err != nil {
			return v, n.err
		} else if n.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			// shutting down has priority over the timer.
			if !timer.Stop() {
				<-timer.C // drain. see: time.Timer.Stop's document
			}
			return value, ctx.Err()

		case <-timer.C:
			continue
		}
	}
}
