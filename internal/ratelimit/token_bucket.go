// Package ratelimit provides the per-connection message limiter used by the
// relay.
package ratelimit

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

const nanoTokensPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) using a Clock.
//
// Tokens are tracked as fixed-point nano-tokens (1 token = 1e9), so a rate of
// X tokens/sec adds X nano-tokens per elapsed nanosecond.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity = max(capacity, 0)
	rate = max(rate, 0)
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: toNano(capacity),
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	// A clock going backwards only moves the reference point.
	if elapsed <= 0 || b.rate <= 0 {
		return
	}

	full := toNano(b.capacity)
	need := full - b.available
	if need <= 0 {
		b.available = full
		return
	}
	// Clamp before multiplying so elapsed*rate cannot overflow.
	if elapsed >= need/b.rate {
		b.available = full
		return
	}
	b.available = min(b.available+elapsed*b.rate, full)
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}

// MessageLimiter limits inbound messages per second on one connection,
// allowing a burst of one second's worth. A zero rate disables the limit.
type MessageLimiter struct {
	bucket *TokenBucket
}

func NewMessageLimiter(clock Clock, perSecond int) *MessageLimiter {
	if perSecond <= 0 {
		return &MessageLimiter{}
	}
	return &MessageLimiter{bucket: NewTokenBucket(clock, int64(perSecond), int64(perSecond))}
}

func (l *MessageLimiter) Allow() bool {
	if l == nil || l.bucket == nil {
		return true
	}
	return l.bucket.Allow(1)
}
