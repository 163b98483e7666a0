package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Limiter spaces out operations per key, usually a host name, with an
// optional random jitter. Different keys do not wait for each other.
// It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	interval time.Duration
	jitter   float64 // 0.0 to 1.0

	mu   sync.Mutex
	next map[string]time.Time
	rnd  func() float64
}

// NewLimiter creates a limiter allowing rps operations per second for each
// key. Jitter is clamped to [0, 1] and varies every gap by up to that
// fraction of the interval. If rps is <= 0, the limiter does not block.
func NewLimiter(rps float64, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}

	l := &Limiter{
		jitter: jitter,
		next:   make(map[string]time.Time),
		rnd:    rand.Float64,
	}
	if rps > 0 {
		l.interval = time.Duration(float64(time.Second) / rps)
	}
	return l
}

// Interval returns the nominal gap between two operations on the same key.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until key may perform its next operation, or until the context
// is canceled. The first call for a key never blocks.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.interval <= 0 {
		return nil
	}

	delay := l.reserve(key, time.Now())
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve books the next slot for key and returns how long the caller has to
// wait for it.
func (l *Limiter) reserve(key string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	at := now
	if n, ok := l.next[key]; ok && n.After(now) {
		at = n
	}

	gap := l.interval
	if l.jitter > 0 {
		factor := l.rnd()*2 - 1 // -1.0 to 1.0
		gap += time.Duration(float64(l.interval) * l.jitter * factor)
	}
	l.next[key] = at.Add(gap)

	return at.Sub(now)
}

// Forget drops the schedule kept for key.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.next, key)
	l.mu.Unlock()
}
