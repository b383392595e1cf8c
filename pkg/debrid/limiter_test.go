package debrid

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterThrottleDoubles(t *testing.T) {
	rl := NewRateLimiter(100*time.Millisecond, 2*time.Second)

	rl.RecordThrottle(0)
	if got := rl.Interval(); got != 200*time.Millisecond {
		t.Fatalf("interval after one throttle = %v, want 200ms", got)
	}

	rl.RecordThrottle(0)
	if got := rl.Interval(); got != 400*time.Millisecond {
		t.Fatalf("interval after two throttles = %v, want 400ms", got)
	}
}

func TestRateLimiterThrottleClampedAtMax(t *testing.T) {
	rl := NewRateLimiter(100*time.Millisecond, 2*time.Second)

	for i := 0; i < 10; i++ {
		rl.RecordThrottle(0)
	}
	if got := rl.Interval(); got != 2*time.Second {
		t.Fatalf("interval = %v, want clamp at 2s", got)
	}

	// A huge Retry-After hint is capped before clamping.
	rl.RecordThrottle(1000000)
	if got := rl.Interval(); got != 2*time.Second {
		t.Fatalf("interval after huge retry-after = %v, want 2s", got)
	}
}

func TestRateLimiterRetryAfterWins(t *testing.T) {
	rl := NewRateLimiter(100*time.Millisecond, 10*time.Minute)

	rl.RecordThrottle(5)
	if got := rl.Interval(); got != 5*time.Second {
		t.Fatalf("interval = %v, want retry-after hint of 5s", got)
	}
}

func TestRateLimiterSuccessStepsDown(t *testing.T) {
	rl := NewRateLimiter(100*time.Millisecond, 2*time.Second)

	rl.RecordThrottle(0) // 200ms
	rl.RecordSuccess()
	if got := rl.Interval(); got != 190*time.Millisecond {
		t.Fatalf("interval = %v, want 190ms", got)
	}

	for i := 0; i < 50; i++ {
		rl.RecordSuccess()
	}
	if got := rl.Interval(); got != 100*time.Millisecond {
		t.Fatalf("interval = %v, want floor at baseline 100ms", got)
	}
}

func TestRateLimiterAcquireSpacesCalls(t *testing.T) {
	rl := NewRateLimiter(50*time.Millisecond, time.Second)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("three acquires took %v, want at least two 50ms intervals", elapsed)
	}
}

func TestRateLimiterAcquireHonoursCancel(t *testing.T) {
	rl := NewRateLimiter(time.Minute, time.Hour)

	// First acquire claims the immediate slot.
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx); err == nil {
		t.Fatal("expected context error from second acquire")
	}
}
