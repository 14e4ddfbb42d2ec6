// Package render implements the render coordinator (spec.md §4.8): it
// turns a raw, possibly-bursty stream of values into one sampled at a fixed
// period, emitting only the latest value from periods that saw at least
// one source event. This is "sample" semantics, not "debounce": unlike a
// trailing-edge debounce, emission happens on the period boundary itself
// and never waits for the source to go quiet. Grounded on go-opencode's
// SSE writer (internal/server/sse.go), which already throttles outbound
// writes to a client against a ticking interval; generalized here from
// "flush this connection's socket" to "sample this generic value stream".
package render

import (
	"context"
	"time"
)

// Coordinate reads values from source and emits the most recent one onto
// the returned channel at most once per period, only for periods in which
// source produced at least one value. It stops and closes its output
// channel when ctx is done or source closes.
func Coordinate[T any](ctx context.Context, period time.Duration, source <-chan T) <-chan T {
	out := make(chan T, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		var latest T
		var pending bool

		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-source:
				if !ok {
					// Flush a pending sample before closing, matching
					// "emits the latest value at each period boundary
					// during which the source emitted" for the window
					// that was cut short by closure.
					if pending {
						sendLatest(out, latest)
					}
					return
				}
				latest = v
				pending = true
			case <-ticker.C:
				if !pending {
					continue // no emission occurs during a period with zero source events
				}
				sendLatest(out, latest)
				pending = false
			}
		}
	}()

	return out
}

// sendLatest replaces any stale unread value with the freshest sample
// rather than blocking the coordinator's single goroutine on a slow
// consumer.
func sendLatest[T any](out chan T, v T) {
	select {
	case out <- v:
	default:
		select {
		case <-out:
		default:
		}
		select {
		case out <- v:
		default:
		}
	}
}
