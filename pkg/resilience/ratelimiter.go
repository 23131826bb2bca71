// Package resilience provides the outbound-call governors shared by the
// watch loop and the API clients: a minimum-interval throttle, a token
// bucket limiter, and a circuit breaker. All are safe for concurrent use
// by callers sharing one instance.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("rate limited")

// Throttle enforces a minimum interval between successive calls to one
// named endpoint. Concurrent waiters queue: each reserves the next slot
// under the lock, so the global call rate never exceeds one per interval
// no matter how many goroutines share the throttle.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

// NewThrottle creates a throttle with the given minimum interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, now: time.Now}
}

// Wait blocks until the caller's reserved slot arrives or ctx is cancelled.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	now := t.now()
	at := t.next
	if at.Before(now) {
		at = now
	}
	t.next = at.Add(t.interval)
	t.mu.Unlock()

	wait := at.Sub(now)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// KeyedThrottle holds one Throttle per endpoint name, created on first use.
type KeyedThrottle struct {
	mu        sync.Mutex
	def       time.Duration
	intervals map[string]time.Duration
	throttles map[string]*Throttle
}

// NewKeyedThrottle creates a registry whose throttles default to the given
// interval unless overridden via SetInterval.
func NewKeyedThrottle(def time.Duration) *KeyedThrottle {
	return &KeyedThrottle{
		def:       def,
		intervals: make(map[string]time.Duration),
		throttles: make(map[string]*Throttle),
	}
}

// SetInterval overrides the minimum interval for one endpoint name. It has
// no effect on a throttle that has already been created for that name.
func (k *KeyedThrottle) SetInterval(name string, d time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.intervals[name] = d
}

// Get returns the shared throttle for the endpoint name, creating it on
// first use.
func (k *KeyedThrottle) Get(name string) *Throttle {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t, ok := k.throttles[name]; ok {
		return t
	}
	d, ok := k.intervals[name]
	if !ok {
		d = k.def
	}
	t := NewThrottle(d)
	k.throttles[name] = t
	return t
}

// Wait blocks on the named endpoint's throttle.
func (k *KeyedThrottle) Wait(ctx context.Context, name string) error {
	return k.Get(name).Wait(ctx)
}

// LimiterOpts configures the token bucket rate limiter.
type LimiterOpts struct {
	// Rate is the number of tokens added per second.
	Rate float64
	// Burst is the maximum number of tokens (bucket capacity).
	Burst int
}

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	mu     sync.Mutex
	opts   LimiterOpts
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewLimiter creates a token bucket rate limiter starting with a full bucket.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Limiter{
		opts:   opts,
		tokens: float64(opts.Burst),
		now:    time.Now,
	}
}

// Allow reports whether a single token is available, taking it if so.
func (l *Limiter) Allow() bool { return l.AllowN(1) }

// AllowN reports whether n tokens are available, taking them if so.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error { return l.WaitN(ctx, 1) }

// WaitN blocks, re-checking the bucket, until n tokens are available or ctx
// is cancelled.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= float64(n) {
			l.tokens -= float64(n)
			l.mu.Unlock()
			return nil
		}
		deficit := float64(n) - l.tokens
		waitDur := time.Duration(deficit / l.opts.Rate * float64(time.Second))
		l.mu.Unlock()

		if waitDur < time.Millisecond {
			waitDur = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitDur):
		}
	}
}

// refill adds tokens based on elapsed time. Must hold mu.
func (l *Limiter) refill() {
	now := l.now()
	if l.last.IsZero() {
		l.last = now
		return
	}
	elapsed := now.Sub(l.last).Seconds()
	l.tokens += elapsed * l.opts.Rate
	if l.tokens > float64(l.opts.Burst) {
		l.tokens = float64(l.opts.Burst)
	}
	l.last = now
}
