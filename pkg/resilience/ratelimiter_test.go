package resilience

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestThrottle_MinInterval(t *testing.T) {
	// Two sequential waits for the same endpoint must be separated by at
	// least the configured interval on the monotonic clock.
	th := NewThrottle(50 * time.Millisecond)
	ctx := context.Background()

	if err := th.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := th.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second call released after %v, want >= 50ms", elapsed)
	}
}

func TestThrottle_FirstCallImmediate(t *testing.T) {
	th := NewThrottle(time.Hour)
	start := time.Now()
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first call should not block, took %v", elapsed)
	}
}

func TestThrottle_ContextCancelled(t *testing.T) {
	th := NewThrottle(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	if err := th.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	cancel()
	if err := th.Wait(ctx); err != context.Canceled {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestThrottle_ConcurrentCallersSpaced(t *testing.T) {
	// Goroutines sharing one throttle must still respect the global
	// interval: n callers take at least (n-1) intervals in total.
	const n = 4
	interval := 30 * time.Millisecond
	th := NewThrottle(interval)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := th.Wait(context.Background()); err != nil {
				t.Errorf("wait: %v", err)
			}
		}()
	}
	wg.Wait()
	if elapsed := time.Since(start); elapsed < (n-1)*interval {
		t.Errorf("%d concurrent callers finished in %v, want >= %v", n, elapsed, (n-1)*interval)
	}
}

func TestKeyedThrottle_IndependentKeys(t *testing.T) {
	k := NewKeyedThrottle(time.Hour)
	k.SetInterval("fast", time.Millisecond)

	ctx := context.Background()
	if err := k.Wait(ctx, "slow"); err != nil {
		t.Fatalf("slow first wait: %v", err)
	}
	// A different key must not be blocked by the slow key's reservation.
	start := time.Now()
	if err := k.Wait(ctx, "fast"); err != nil {
		t.Fatalf("fast wait: %v", err)
	}
	if err := k.Wait(ctx, "fast"); err != nil {
		t.Fatalf("fast second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fast key blocked for %v", elapsed)
	}
}

func TestKeyedThrottle_SharedInstancePerKey(t *testing.T) {
	k := NewKeyedThrottle(time.Second)
	if k.Get("feed") != k.Get("feed") {
		t.Fatal("same key must return the same throttle instance")
	}
	if k.Get("feed") == k.Get("catalog") {
		t.Fatal("different keys must get distinct throttles")
	}
}

func TestLimiter_AllowExhaustsBurst(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 3})
	// Freeze the clock so no refill happens mid-test.
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("allow %d should succeed within burst", i)
		}
	}
	if l.Allow() {
		t.Fatal("allow beyond burst should fail")
	}
}

func TestLimiter_Refill(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 2, Burst: 2})
	now := time.Now()
	l.now = func() time.Time { return now }

	if !l.AllowN(2) {
		t.Fatal("initial bucket should be full")
	}
	if l.Allow() {
		t.Fatal("bucket should be empty")
	}
	now = now.Add(time.Second) // 2 tokens refilled
	if !l.AllowN(2) {
		t.Fatal("bucket should have refilled 2 tokens after 1s")
	}
}

func TestLimiter_RefillCappedAtBurst(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 100, Burst: 2})
	now := time.Now()
	l.now = func() time.Time { return now }

	if !l.Allow() {
		t.Fatal("first allow")
	}
	now = now.Add(time.Minute)
	if !l.AllowN(2) {
		t.Fatal("bucket should be full again")
	}
	if l.Allow() {
		t.Fatal("refill must not exceed burst capacity")
	}
}

func TestLimiter_WaitBlocksUntilToken(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 50, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	// 50 tokens/sec means roughly 20ms until the next token.
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("second wait returned after %v, want >= 10ms", elapsed)
	}
}

func TestLimiter_WaitContextCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := l.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}
