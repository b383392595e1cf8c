package debrid

import (
	"context"
	"sync"
	"time"
)

// Bounds for the adaptive inter-request interval. Retry-After hints above
// maxRetryAfter are treated as that value.
const (
	defaultBaselineInterval = 100 * time.Millisecond
	defaultMaxInterval      = 2 * time.Second
	successStep             = 10 * time.Millisecond
	maxRetryAfter           = 300 * time.Second
)

// RateLimiter serializes outbound debrid calls process-wide. The interval
// between calls adapts: it doubles when the remote throttles and creeps back
// toward the baseline on success.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	baseline time.Duration
	max      time.Duration
}

// NewRateLimiter returns a limiter with the given interval bounds. Zero or
// negative bounds fall back to the defaults.
func NewRateLimiter(baseline, max time.Duration) *RateLimiter {
	if baseline <= 0 {
		baseline = defaultBaselineInterval
	}
	if max <= 0 {
		max = defaultMaxInterval
	}
	return &RateLimiter{
		interval: baseline,
		baseline: baseline,
		max:      max,
	}
}

// Acquire blocks until the caller's slot begins. Slots are handed out in call
// order, one interval apart, so calls are serialized without holding the lock
// while sleeping.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	slot := r.last.Add(r.interval)
	if slot.Before(now) {
		slot = now
	}
	r.last = slot
	r.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordThrottle widens the interval after a 429 or throttling 5xx.
// retryAfterSecs is the Retry-After hint when present, <= 0 otherwise.
func (r *RateLimiter) RecordThrottle(retryAfterSecs int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.interval * 2
	if retryAfterSecs > 0 {
		hinted := time.Duration(retryAfterSecs) * time.Second
		if hinted > maxRetryAfter {
			hinted = maxRetryAfter
		}
		if hinted > next {
			next = hinted
		}
	}
	if next > r.max {
		next = r.max
	}
	r.interval = next
}

// RecordSuccess narrows the interval back toward the baseline.
func (r *RateLimiter) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.interval -= successStep
	if r.interval < r.baseline {
		r.interval = r.baseline
	}
}

// Interval returns the current inter-request interval.
func (r *RateLimiter) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}
