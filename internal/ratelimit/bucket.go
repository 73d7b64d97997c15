package ratelimit

import (
	"sync"
	"time"
)

// Bucket implements token bucket rate limiting for a single principal.
//
// The bucket holds at most its capacity in tokens and refills continuously
// at a fixed rate. It starts full, so a never-seen principal gets an
// immediate burst up to capacity. Refill that would exceed capacity is
// discarded; the bucket never accumulates debt.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBucket creates a full bucket holding capacity tokens that refills at
// refillRate tokens per second.
func NewBucket(capacity, refillRate float64) *Bucket {
	return NewBucketAt(capacity, refillRate, time.Now())
}

// NewBucketAt is NewBucket with an explicit creation time, for
// deterministic tests.
func NewBucketAt(capacity, refillRate float64, now time.Time) *Bucket {
	return &Bucket{
		tokens:     capacity,
		maxTokens:  capacity,
		refillRate: refillRate,
		lastRefill: now,
	}
}

// Allow consumes one token if available and reports whether it did.
func (b *Bucket) Allow() bool {
	return b.AllowAt(time.Now())
}

// AllowAt is Allow with an explicit timestamp, for deterministic tests.
func (b *Bucket) AllowAt(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the number of tokens currently available.
func (b *Bucket) Tokens() float64 {
	return b.TokensAt(time.Now())
}

// TokensAt is Tokens with an explicit timestamp.
func (b *Bucket) TokensAt(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	return b.tokens
}

// refill adds tokens based on time elapsed (must be called with lock held).
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}
