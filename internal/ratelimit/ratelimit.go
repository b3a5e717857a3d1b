// Package ratelimit limits packet ingest per admin caller with lazy-refill
// token buckets: one for pushes per minute and one for bytes per minute.
package ratelimit

import (
	"sync"
	"time"
)

// Limits holds the per-minute ingest limits for one caller.
// A value of 0 means unlimited.
type Limits struct {
	PushesPerMin int64
	BytesPerMin  int64
}

// Unlimited reports whether neither limit is set.
func (l Limits) Unlimited() bool { return l.PushesPerMin <= 0 && l.BytesPerMin <= 0 }

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds float64
}

// Bucket is a token bucket with lazy refill (no background goroutine).
type Bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(limit int64, now time.Time) *Bucket {
	return &Bucket{
		tokens:   float64(limit),
		max:      float64(limit),
		rate:     float64(limit) / 60.0, // per-minute limit -> per-second rate
		lastFill: now,
	}
}

// refill adds tokens based on elapsed time since last refill.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// tryConsume attempts to consume n tokens. A request larger than the bucket
// is charged the full bucket, so it passes once the bucket is full instead of
// never.
func (b *Bucket) tryConsume(n float64, now time.Time) (remaining int64, allowed bool) {
	b.refill(now)
	n = min(n, b.max)
	if b.tokens >= n {
		b.tokens -= n
		return int64(b.tokens), true
	}
	return 0, false
}

// retryAfter returns seconds until n tokens are available.
func (b *Bucket) retryAfter(n float64) float64 {
	n = min(n, b.max)
	if b.tokens >= n {
		return 0
	}
	return (n - b.tokens) / b.rate
}

// Limiter holds the push and byte buckets for a single caller.
type Limiter struct {
	mu       sync.Mutex
	pushes   *Bucket // nil if pushes unlimited
	bytes    *Bucket // nil if bytes unlimited
	limits   Limits
	lastUsed time.Time
	now      func() time.Time
}

func newLimiter(limits Limits, now func() time.Time) *Limiter {
	t := now()
	l := &Limiter{limits: limits, lastUsed: t, now: now}
	if limits.PushesPerMin > 0 {
		l.pushes = newBucket(limits.PushesPerMin, t)
	}
	if limits.BytesPerMin > 0 {
		l.bytes = newBucket(limits.BytesPerMin, t)
	}
	return l
}

// Allow charges one push of n bytes. Both buckets must have room; when the
// byte bucket refuses, the push token is refunded.
func (l *Limiter) Allow(n int64) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.lastUsed = now

	res := Result{Allowed: true}
	if l.pushes != nil {
		remaining, ok := l.pushes.tryConsume(1, now)
		if !ok {
			return Result{
				Limit:             l.limits.PushesPerMin,
				RetryAfterSeconds: l.pushes.retryAfter(1),
			}
		}
		res.Limit, res.Remaining = l.limits.PushesPerMin, remaining
	}
	if l.bytes != nil && n > 0 {
		if _, ok := l.bytes.tryConsume(float64(n), now); !ok {
			if l.pushes != nil {
				l.pushes.tokens = min(l.pushes.max, l.pushes.tokens+1)
			}
			return Result{
				Limit:             l.limits.BytesPerMin,
				RetryAfterSeconds: l.bytes.retryAfter(float64(n)),
			}
		}
	}
	return res
}

// Registry manages per-caller Limiters.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	now      func() time.Time
}

// NewRegistry creates a new rate limiter registry.
func NewRegistry() *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		now:      time.Now,
	}
}

// GetOrCreate returns the limiter for subject, creating one if needed.
// If the limits have changed, a new limiter is created.
func (r *Registry) GetOrCreate(subject string, limits Limits) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[subject]
	r.mu.RUnlock()
	if ok && l.limits == limits {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok := r.limiters[subject]; ok && l.limits == limits {
		return l
	}
	l = newLimiter(limits, r.now)
	r.limiters[subject] = l
	return l
}

// Len returns the number of tracked callers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// EvictStale removes limiters not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}
