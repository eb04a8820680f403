package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is an in-process token bucket per key: limit tokens refilled
// evenly over window. Used when no Redis is configured.
type LocalLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *LocalLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)
		l.buckets[key] = b
	}
	return b
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	r := l.bucket(key).ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: l.window}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}
