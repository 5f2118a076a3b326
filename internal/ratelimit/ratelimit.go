// Package ratelimit throttles rating queries per caller with token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// bucket tracks the token state for a single caller.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter implements a token-bucket rate limiter keyed by caller. Each key
// may spend rate requests per window, refilled continuously.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration
	now     func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows rate requests per window.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		now:     time.Now,
	}
}

// refillPerSecond is the number of tokens a bucket gains each second.
func (l *Limiter) refillPerSecond() float64 {
	return float64(l.rate) / l.window.Seconds()
}

// getBucket returns the refilled bucket for key, creating a full one if it
// doesn't exist. Must be called with l.mu held.
func (l *Limiter) getBucket(key string) *bucket {
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.rate), lastRefill: now}
		l.buckets[key] = b
		return b
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.refillPerSecond()
		if b.tokens > float64(l.rate) {
			b.tokens = float64(l.rate)
		}
		b.lastRefill = now
	}
	return b
}

// Allow consumes one token for key when one is available. The returned
// decision reflects the bucket after the request.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getBucket(key)
	d := Decision{Limit: l.rate}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	}

	d.Remaining = int(b.tokens)
	if deficit := float64(l.rate) - b.tokens; deficit > 0 {
		d.ResetAt = l.now().Add(time.Duration(deficit / l.refillPerSecond() * float64(time.Second)))
	} else {
		d.ResetAt = l.now()
	}
	return d
}

// Sweep drops the buckets that have refilled completely, so callers seen
// once do not hold memory forever. It returns the number removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key := range l.buckets {
		if b := l.getBucket(key); b.tokens >= float64(l.rate) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run sweeps idle buckets every interval until stop is closed.
func (l *Limiter) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
