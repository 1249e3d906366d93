package httpclient

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum delay between request dispatches.
// It is shared by every logical worker in a run; Wait serializes the
// actual dispatch times even when callers are concurrent.
type RateLimiter struct {
	mu       sync.Mutex
	minDelay time.Duration
	next     time.Time
}

// NewRateLimiter creates a rate limiter with the given minimum inter-request delay
func NewRateLimiter(minDelay time.Duration) *RateLimiter {
	return &RateLimiter{minDelay: minDelay}
}

// Wait blocks until the caller is allowed to dispatch a request.
// It returns early with the context error when ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.minDelay <= 0 {
		return ctx.Err()
	}

	r.mu.Lock()
	now := time.Now()
	at := r.next
	if at.Before(now) {
		at = now
	}
	r.next = at.Add(r.minDelay)
	r.mu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
