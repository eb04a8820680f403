package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Count is the number of requests seen in the current window, when known.
	Count int64
	// RetryAfter is how long the caller should wait before trying again.
	// Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter admits or rejects actions per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}
