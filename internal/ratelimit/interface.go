// Package ratelimit limits requests per client at the HTTP edge, backed by redis so
// that every gateway instance shares the counters.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the limit resets, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return (wait + time.Second - 1).Truncate(time.Second)
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)

	Limit() int

	Window() time.Duration
}
