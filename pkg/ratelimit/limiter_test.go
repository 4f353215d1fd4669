package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock drives the limiter deterministically: sleeps advance the clock
// instead of blocking.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func newTestLimiter(maxRequests int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	l := NewLimiter(maxRequests, window, zerolog.Nop())
	l.now = func() time.Time { return clock.now }
	l.sleep = func(_ context.Context, d time.Duration) error {
		clock.slept = append(clock.slept, d)
		clock.now = clock.now.Add(d)
		return nil
	}

	return l, clock
}

func TestNewLimiter_InvalidConfig(t *testing.T) {
	tests := []struct {
		name        string
		maxRequests int
		window      time.Duration
	}{
		{"zero max requests", 0, time.Second},
		{"negative max requests", -1, time.Second},
		{"zero window", 10, 0},
		{"negative window", 10, -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Expected panic for invalid config")
				}
			}()
			NewLimiter(tt.maxRequests, tt.window, zerolog.Nop())
		})
	}
}

func TestLimiter_UnderBudgetNoWait(t *testing.T) {
	l, clock := newTestLimiter(3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	if len(clock.slept) != 0 {
		t.Errorf("Expected no sleeps under budget, got %v", clock.slept)
	}
}

func TestLimiter_BlocksWhenBudgetExhausted(t *testing.T) {
	// maxRequests+1 calls within less than a window: the extra call must
	// block for at least window - elapsed.
	l, clock := newTestLimiter(2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if len(clock.slept) == 0 {
		t.Fatal("Expected third acquire to wait, but it did not sleep")
	}
	if clock.slept[0] < time.Second {
		t.Errorf("Waited %v, want at least the full window (1s)", clock.slept[0])
	}
}

func TestLimiter_WaitAccountsForElapsedTime(t *testing.T) {
	l, clock := newTestLimiter(2, time.Second)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// 600ms into the window the budget is exhausted; the wait should be
	// roughly the remaining 400ms, not a full window.
	clock.now = clock.now.Add(600 * time.Millisecond)
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if len(clock.slept) != 1 {
		t.Fatalf("Expected exactly one sleep, got %d", len(clock.slept))
	}
	wait := clock.slept[0]
	if wait < 400*time.Millisecond || wait > 600*time.Millisecond {
		t.Errorf("Waited %v, want remaining window (~400ms + epsilon)", wait)
	}
}

func TestLimiter_WindowSlidesForward(t *testing.T) {
	l, clock := newTestLimiter(2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	// After the window has fully passed, acquisitions are free again.
	clock.now = clock.now.Add(time.Second)
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if len(clock.slept) != 0 {
		t.Errorf("Expected no sleep after window expired, got %v", clock.slept)
	}
}

func TestLimiter_EvictionBoundsMemory(t *testing.T) {
	l, clock := newTestLimiter(5, time.Second)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		clock.now = clock.now.Add(250 * time.Millisecond)
	}

	if n := l.InFlight(); n > 5 {
		t.Errorf("InFlight() = %d, want at most maxRequests (5)", n)
	}
	if cap(l.stamps) > 16 {
		t.Errorf("Timestamp queue grew to cap %d, eviction should keep it bounded", cap(l.stamps))
	}
}

func TestLimiter_ContextCancelledWhileWaiting(t *testing.T) {
	l := NewLimiter(1, time.Minute, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	cancel()
	err := l.Acquire(ctx)
	if err == nil {
		t.Fatal("Expected error after context cancellation, got nil")
	}
	if err != context.Canceled {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestLimiter_ConcurrentAcquire(t *testing.T) {
	// Shared limiter across concurrent runs: all acquisitions must
	// succeed and the window must never exceed the budget.
	l := NewLimiter(5, 100*time.Millisecond, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent acquire failed: %v", err)
	}

	if n := l.InFlight(); n > 5 {
		t.Errorf("InFlight() = %d after concurrent acquires, want at most 5", n)
	}
}
