package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const loginLimiterIdleTimeout = time.Hour

// loginLimiter throttles login attempts per client IP.
type loginLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*loginLimiterEntry
	rate      rate.Limit
	burst     int
	clock     func() time.Time
	lastSweep time.Time
}

type loginLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// newLoginLimiter allows attemptsPerMinute attempts in a burst, refilling
// evenly over one minute. A non-positive value disables throttling.
func newLoginLimiter(attemptsPerMinute int, clock func() time.Time) *loginLimiter {
	if attemptsPerMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &loginLimiter{
		limiters: make(map[string]*loginLimiterEntry),
		rate:     rate.Every(time.Minute / time.Duration(attemptsPerMinute)),
		burst:    attemptsPerMinute,
		clock:    clock,
	}
}

// Allow reports whether another attempt from ip is permitted now.
func (l *loginLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= loginLimiterIdleTimeout {
		l.sweep(now)
	}
	entry, exists := l.limiters[ip]
	if !exists {
		entry = &loginLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastAccess = now
	return entry.limiter.AllowN(now, 1)
}

func (l *loginLimiter) sweep(now time.Time) {
	threshold := now.Add(-loginLimiterIdleTimeout)
	for ip, entry := range l.limiters {
		if entry.lastAccess.Before(threshold) {
			delete(l.limiters, ip)
		}
	}
	l.lastSweep = now
}
