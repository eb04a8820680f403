package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared by every server instance.
type RedisLimiter struct {
	R      *redis.Client
	Limit  int64
	Window time.Duration
	Prefix string
}

func NewRedisLimiter(r *redis.Client, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{R: r, Limit: limit, Window: window, Prefix: "rl:send:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.Prefix + key
	pipe := l.R.TxPipeline()
	incr := pipe.Incr(ctx, k)
	// Only the first hit in a window sets the expiry, so the window does not slide.
	pipe.ExpireNX(ctx, k, l.Window)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	n := incr.Val()
	if n <= l.Limit {
		return Decision{Allowed: true, Count: n}, nil
	}
	retry := ttl.Val()
	if retry <= 0 {
		retry = l.Window
	}
	return Decision{Allowed: false, Count: n, RetryAfter: retry}, nil
}
