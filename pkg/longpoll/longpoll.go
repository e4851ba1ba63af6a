// Package longpoll implements a cooperative "wait until a value changes"
// loop over a value that lives in shared persistent storage. Each probe is
// expected to open and close its own short-lived resource so a long poll
// never pins a pooled connection for the whole wait.
package longpoll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// MinTimeout and MaxTimeout clamp caller-supplied wait durations.
	MinTimeout = 1 * time.Second
	MaxTimeout = 60 * time.Second

	// DefaultPollInterval is the sleep between probes.
	DefaultPollInterval = 200 * time.Millisecond
)

// ErrCancelled is returned when the cancelled predicate reports true
// before the watched value changes.
var ErrCancelled = errors.New("long poll cancelled")

// ValueFunc observes the current value. It is called once per iteration
// and must not hold resources between calls.
type ValueFunc func(ctx context.Context) (string, error)

// CancelledFunc lets the caller abort a wait early, for example when the
// underlying queue entry disappears.
type CancelledFunc func(ctx context.Context) (bool, error)

// Options tunes a WaitForChange call. The zero value uses defaults.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Cancelled    CancelledFunc
}

// WaitForChange polls current until it observes a value different from
// initial, returning true, or the clamped timeout elapses, returning
// false. The cancelled predicate is checked every iteration. Context
// cancellation aborts the wait with ctx.Err().
func WaitForChange(ctx context.Context, initial string, current ValueFunc, opts Options) (bool, error) {
	if current == nil {
		return false, fmt.Errorf("longpoll: current value function is required")
	}

	timeout := opts.Timeout
	if timeout < MinTimeout {
		timeout = MinTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if opts.Cancelled != nil {
			cancelled, err := opts.Cancelled(ctx)
			if err != nil {
				return false, fmt.Errorf("longpoll: cancelled check failed: %w", err)
			}
			if cancelled {
				return false, ErrCancelled
			}
		}

		value, err := current(ctx)
		if err != nil {
			return false, fmt.Errorf("longpoll: value probe failed: %w", err)
		}
		if value != initial {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
