// Package wait provides a bounded fixed-interval readiness poller.
package wait

import (
	"context"
	"time"
)

// Predicate reports whether the awaited condition currently holds. A sampling
// error is treated as "not yet", never as fatal.
type Predicate func(ctx context.Context) (bool, error)

// Until samples predicate every interval until it holds or timeout elapses.
// It returns true on the first passing sample and false once the bound is
// exceeded or ctx is cancelled. It never returns an error: callers attach
// their own descriptive failure message on a false result.
func Until(ctx context.Context, predicate Predicate, interval, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		ok, err := predicate(ctx)
		if err == nil && ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}
