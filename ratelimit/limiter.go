// Package ratelimit caps outbound webhook calls per destination host with a
// token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter holds one bucket per key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastFill time.Time
	rate     float64 // tokens per second, also the burst size
}

// New returns an empty Limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket)}
}

// Allow takes a token for key if one is available. A rate of 0 or less
// disables limiting.
func (l *Limiter) Allow(key string, rate int) bool {
	if rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.rate != float64(rate) {
		b = &bucket{tokens: float64(rate), lastFill: time.Now(), rate: float64(rate)}
		l.buckets[key] = b
	}
	b.refill(time.Now())

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Wait blocks until Allow succeeds or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string, rate int) error {
	if rate <= 0 {
		return nil
	}

	interval := time.Duration(float64(time.Second) / float64(rate))
	for !l.Allow(key, rate) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (b *bucket) refill(now time.Time) {
	b.tokens += now.Sub(b.lastFill).Seconds() * b.rate
	if b.tokens > b.rate {
		b.tokens = b.rate
	}
	b.lastFill = now
}
