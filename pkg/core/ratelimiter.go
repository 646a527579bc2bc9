package core

import (
	"sync"
	"time"
)

// RateLimiter lets at most one action through per interval. It guards error
// logging so a failing exporter cannot flood the console.
type RateLimiter struct {
	interval time.Duration
	lastTime time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
	}
}

// Allow reports whether an action may proceed now. A nil limiter or a
// non-positive interval never limits.
func (r *RateLimiter) Allow() bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.lastTime.IsZero() || now.Sub(r.lastTime) >= r.interval {
		r.lastTime = now
		return true
	}
	return false
}
