// token_bucket.go implements an in-process token bucket used by the node's
// HTTP endpoints for per-client request limiting. Unlike the sliding
// windows it never touches the state store.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucketConfig configures a bucket set.
type TokenBucketConfig struct {
	// RatePerSec is the steady-state refill rate in tokens per second.
	RatePerSec int

	// BurstMultiplier scales bucket capacity to allow short bursts.
	BurstMultiplier int
}

// DefaultTokenBucketConfig returns sensible defaults for HTTP limiting.
func DefaultTokenBucketConfig() TokenBucketConfig {
	return TokenBucketConfig{RatePerSec: 20, BurstMultiplier: 3}
}

// bucket holds one client's token state.
type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill int64   // unix nanoseconds
}

// take refills by elapsed time and tries to consume one token.
func (b *bucket) take(nowNano int64) bool {
	elapsed := float64(nowNano-b.lastRefill) / float64(time.Second)
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = nowNano
	if b.tokens >= 1.0 {
		b.tokens--
		return true
	}
	return false
}

// TokenBucketLimiter maintains one token bucket per client key. All methods
// are safe for concurrent use.
type TokenBucketLimiter struct {
	config TokenBucketConfig

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewTokenBucketLimiter creates a limiter with the given configuration.
func NewTokenBucketLimiter(config TokenBucketConfig) *TokenBucketLimiter {
	if config.RatePerSec <= 0 {
		config.RatePerSec = DefaultTokenBucketConfig().RatePerSec
	}
	if config.BurstMultiplier <= 0 {
		config.BurstMultiplier = 1
	}
	return &TokenBucketLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// SetClock overrides the time source for tests.
func (l *TokenBucketLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow consumes one token for client, creating a full bucket on first
// sight. Returns false when the client is out of tokens.
func (l *TokenBucketLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[client]
	if b == nil {
		cap := float64(l.config.RatePerSec * l.config.BurstMultiplier)
		b = &bucket{
			tokens:     cap,
			capacity:   cap,
			refillRate: float64(l.config.RatePerSec),
			lastRefill: l.now().UnixNano(),
		}
		l.buckets[client] = b
	}
	return b.take(l.now().UnixNano())
}

// PruneIdle removes buckets not refilled since the cutoff. Returns the
// number removed.
func (l *TokenBucketLimiter) PruneIdle(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, b := range l.buckets {
		if b.lastRefill < cutoff.UnixNano() {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}
