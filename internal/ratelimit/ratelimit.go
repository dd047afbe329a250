// Package ratelimit implements per-user token bucket rate limiting for the
// gateway edge. Buckets refill lazily on each Allow call; no background
// goroutine runs, and idle buckets are reclaimed through SweepIdle.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a user's bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config sizes the buckets.
type Config struct {
	RequestsPerMinute int // Refill rate. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Bucket capacity. 0 = defaults to RequestsPerMinute.
}

// Limiter tracks one bucket per user id. A heavy user drains only their own
// bucket, never anyone else's.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	now     func() time.Time
}

type bucket struct {
	tokens  float64
	touched time.Time
}

// NewLimiter builds a limiter. RequestsPerMinute 0 disables limiting.
func NewLimiter(cfg Config) *Limiter {
	capacity := cfg.BurstSize
	if capacity <= 0 {
		capacity = cfg.RequestsPerMinute
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(capacity),
		now:     time.Now,
	}
}

// Allow takes one token from the user's bucket, creating a full bucket on
// first sight. ErrRateLimited means the caller should answer 429.
func (l *Limiter) Allow(userID string) error {
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.buckets[userID]
	if b == nil {
		b = &bucket{tokens: l.burst, touched: now}
		l.buckets[userID] = b
	}
	b.refill(now, l.rate, l.burst)

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// refill credits tokens for the time elapsed since the last call, capped at
// the bucket capacity.
func (b *bucket) refill(now time.Time, rate, burst float64) {
	b.tokens += now.Sub(b.touched).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.touched = now
}

// SweepIdle drops buckets untouched for longer than maxIdle and reports how
// many were dropped. Dropping is free: a returning user starts with a full
// bucket again.
func (l *Limiter) SweepIdle(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxIdle)
	dropped := 0
	for userID, b := range l.buckets {
		if b.touched.Before(cutoff) {
			delete(l.buckets, userID)
			dropped++
		}
	}
	return dropped
}
