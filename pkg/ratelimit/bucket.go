// Package ratelimit implements the two-tier token bucket (optional global
// bucket plus per-principal bucket) and per-principal bandwidth accounting
// the proxy engines consult before serving a request.
package ratelimit

import (
	"sync"
	"time"
)

// bucket is a fractional token bucket refilled by elapsed*rate, saturating
// at capacity. golang.org/x/time/rate.Limiter models the same mechanics but
// hides the running token count behind Allow/Reserve; the per-principal
// tier needs the exact fractional count (for tests and for
// record_bandwidth-style introspection), so it is reimplemented directly
// here, guarded by a mutex, while the global tier below still wraps
// rate.Limiter where that hidden-state tradeoff is acceptable.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	refill   float64 // tokens per second
	last     time.Time
}

func newBucket(capacity, refillPerSecond float64) *bucket {
	return &bucket{tokens: capacity, capacity: capacity, refill: refillPerSecond, last: time.Now()}
}

// allow refills by elapsed time then tries to consume one token.
func (b *bucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refill
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tokens returns the current token count as of now, without consuming.
func (b *bucket) Tokens(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.last).Seconds()
	tokens := b.tokens
	if elapsed > 0 {
		tokens += elapsed * b.refill
		if tokens > b.capacity {
			tokens = b.capacity
		}
	}
	return tokens
}
