package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chande-dhanush/Sakura/config"
)

// TokenBucket is a classic refill-on-demand token bucket. Acquire blocks
// (bounded by MaxWait) instead of hard-rejecting so bursts are smoothed into
// latency rather than failures.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	maxWait    time.Duration
	clock      func() time.Time
}

// NewTokenBucket constructs a bucket that starts full.
func NewTokenBucket(cfg config.BucketConfig, clock func() time.Time) *TokenBucket {
	if clock == nil {
		clock = time.Now
	}
	return &TokenBucket{
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillPerSec,
		tokens:     cfg.Capacity,
		lastRefill: clock(),
		maxWait:    cfg.MaxWait,
		clock:      clock,
	}
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// TryAcquire takes one token without blocking.
func (b *TokenBucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clock())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Acquire takes one token, sleeping for the deficit when the bucket is
// empty. It fails with ErrRateLimitExceeded when the required wait exceeds
// MaxWait, and with ctx.Err() when the context is done first.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	var waited time.Duration
	for {
		b.mu.Lock()
		now := b.clock()
		b.refillLocked(now)
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		sleep := time.Duration(deficit / b.refillRate * float64(time.Second))
		b.mu.Unlock()

		if b.refillRate <= 0 || (b.maxWait > 0 && waited+sleep > b.maxWait) {
			return fmt.Errorf("%w: need %s, budget %s", ErrRateLimitExceeded, sleep, b.maxWait-waited)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		waited += sleep
	}
}

// Tokens reports the current token count after refill. Exposed for stats.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clock())
	return b.tokens
}

// bucketSet lazily creates one bucket per (provider, role) pair.
type bucketSet struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	cfg     *config.GatewayConfig
	clock   func() time.Time
}

func newBucketSet(cfg *config.GatewayConfig, clock func() time.Time) *bucketSet {
	return &bucketSet{
		buckets: make(map[string]*TokenBucket),
		cfg:     cfg,
		clock:   clock,
	}
}

func (s *bucketSet) bucketFor(provider, role string) *TokenBucket {
	key := provider + ":" + role

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[key]; ok {
		return b
	}
	bc, ok := s.cfg.Buckets[role]
	if !ok {
		bc = s.cfg.Default
	}
	b := NewTokenBucket(bc, s.clock)
	s.buckets[key] = b
	return b
}
