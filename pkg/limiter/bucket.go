package limiter

import (
	"fmt"
	"sync"
	"time"
)

// BucketConfig describes the quota of a single tier: the bucket holds up to
// Capacity tokens and accrues RefillAmount tokens per RefillInterval.
type BucketConfig struct {
	Capacity       int
	RefillAmount   int
	RefillInterval time.Duration
}

func (c BucketConfig) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.RefillAmount <= 0 {
		return fmt.Errorf("refill amount must be positive, got %d", c.RefillAmount)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("refill interval must be positive, got %s", c.RefillInterval)
	}
	return nil
}

// tokenBucket holds the mutable admission state of one tier. Refill is
// computed lazily on each consume from the elapsed time, so there is no
// background ticker and the bucket is fully deterministic under an
// injected clock.
type tokenBucket struct {
	cfg BucketConfig

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func newTokenBucket(cfg BucketConfig, now time.Time) *tokenBucket {
	return &tokenBucket{
		cfg:    cfg,
		tokens: float64(cfg.Capacity),
		last:   now,
	}
}

// refillLocked credits tokens accrued since the previous refill, clamped to
// capacity. Fractional accrual is kept. Callers must hold mu.
func (b *tokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() / b.cfg.RefillInterval.Seconds() * float64(b.cfg.RefillAmount)
	if b.tokens > float64(b.cfg.Capacity) {
		b.tokens = float64(b.cfg.Capacity)
	}
	b.last = now
}

func (b *tokenBucket) tryConsume(cost int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		return true
	}
	return false
}

func (b *tokenBucket) available(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	return b.tokens
}

// waitEstimate returns how long until cost tokens will have accrued at the
// configured refill rate, or zero if they are available now. Callers must
// screen costs above capacity first; those never accrue.
func (b *tokenBucket) waitEstimate(cost int, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	deficit := float64(cost) - b.tokens
	if deficit <= 0 {
		return 0
	}
	perToken := b.cfg.RefillInterval.Seconds() / float64(b.cfg.RefillAmount)
	return time.Duration(deficit * perToken * float64(time.Second))
}

func (b *tokenBucket) reset(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = float64(b.cfg.Capacity)
	b.last = now
}
