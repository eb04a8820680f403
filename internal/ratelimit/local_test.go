package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterRejectsAfterBurst(t *testing.T) {
	l := NewLocalLimiter(3, time.Minute)
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		d, err := l.Allow(context.Background(), "u1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allowed, got %+v err=%v", i+1, d, err)
		}
	}

	d, err := l.Allow(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected fourth request to be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 20*time.Second {
		t.Fatalf("expected retry-after within one refill period, got %v", d.RetryAfter)
	}

	other, _ := l.Allow(context.Background(), "u2")
	if !other.Allowed {
		t.Fatalf("expected separate keys to have separate buckets")
	}
}

func TestLocalLimiterRefills(t *testing.T) {
	l := NewLocalLimiter(2, time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow(context.Background(), "u1")
	l.Allow(context.Background(), "u1")
	if d, _ := l.Allow(context.Background(), "u1"); d.Allowed {
		t.Fatalf("expected bucket to be empty")
	}

	now = now.Add(30 * time.Second)
	if d, _ := l.Allow(context.Background(), "u1"); !d.Allowed {
		t.Fatalf("expected one token after a refill period, got %+v", d)
	}
}

func TestUnlimitedAlwaysAllows(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 100; i++ {
		if d, _ := l.Allow(context.Background(), "x"); !d.Allowed {
			t.Fatalf("expected allowed")
		}
	}
}
