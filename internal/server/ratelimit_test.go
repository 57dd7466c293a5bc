package server

import (
	"testing"
	"time"
)

func TestLoginLimiterThrottlesPerIP(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	limiter := newLoginLimiter(2, func() time.Time { return now })

	if !limiter.Allow("10.0.0.1") || !limiter.Allow("10.0.0.1") {
		t.Fatalf("expected burst of two attempts to pass")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("expected third attempt to be throttled")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatalf("expected other ip to be unaffected")
	}

	now = now.Add(30 * time.Second)
	if !limiter.Allow("10.0.0.1") {
		t.Fatalf("expected a token to refill after half a minute")
	}
}

func TestLoginLimiterSweepsIdleEntries(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	limiter := newLoginLimiter(1, func() time.Time { return now })
	limiter.Allow("10.0.0.1")

	now = now.Add(2 * time.Hour)
	limiter.Allow("10.0.0.2")

	if _, ok := limiter.limiters["10.0.0.1"]; ok {
		t.Fatalf("expected idle limiter to be swept")
	}
}

func TestDisabledLoginLimiterAllowsEverything(t *testing.T) {
	limiter := newLoginLimiter(0, nil)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("disabled limiter should never throttle")
		}
	}
}
