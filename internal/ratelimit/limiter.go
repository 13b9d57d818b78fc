// Package ratelimit bounds outbound provider submissions with a fixed-window
// token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter holds capacity tokens that refill to full once per window. Acquire
// blocks until a token is available, so sustained submission throughput never
// exceeds capacity per window. Status polling and downloads are not gated.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	tokens   int
	resetAt  time.Time
}

// New builds a limiter with the given capacity per window. Non-positive
// arguments fall back to one token per second.
func New(capacity int, window time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{capacity: capacity, window: window}
}

// Acquire takes one token, waiting for the next window when none are left.
// It returns early with the context error when ctx is canceled.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		if !now.Before(l.resetAt) {
			l.tokens = l.capacity
			l.resetAt = now.Add(l.window)
		}
		if l.tokens > 0 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := l.resetAt.Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
