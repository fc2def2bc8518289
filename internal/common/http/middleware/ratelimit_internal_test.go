package middleware

import (
	"testing"
	"time"
)

func TestIPRateLimiterSweepsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	now = now.Add(2 * time.Minute)
	l.Allow("c")

	if got := l.Clients(); got != 1 {
		t.Fatalf("expected idle clients to be swept, %d left", got)
	}
}

func TestIPRateLimiterRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	l.now = func() time.Time { return now }

	if !l.Allow("a") {
		t.Fatalf("first request should pass")
	}
	if l.Allow("a") {
		t.Fatalf("second request in the same instant should be limited")
	}
	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatalf("bucket should refill after a second")
	}
}
