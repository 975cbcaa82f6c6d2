// Package limiter gates every outbound platform call behind per-tier token
// buckets so a single client process never exceeds the platform's
// per-category quota. Consume never blocks and never retries; denial is an
// expected outcome returned as a value, and retry policy stays with the
// caller.
package limiter

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Config holds one bucket configuration per tier. The closed tier set keeps
// the config complete by construction: there is no way to end up with a
// missing tier at runtime.
type Config struct {
	Default BucketConfig
	Read    BucketConfig
	Write   BucketConfig
	Admin   BucketConfig
}

// DefaultConfig mirrors the platform's published per-category quotas.
// Admin is the most restrictive purely by its numbers, not structurally.
func DefaultConfig() Config {
	return Config{
		Default: BucketConfig{Capacity: 100, RefillAmount: 50, RefillInterval: time.Minute},
		Read:    BucketConfig{Capacity: 200, RefillAmount: 100, RefillInterval: time.Minute},
		Write:   BucketConfig{Capacity: 20, RefillAmount: 10, RefillInterval: time.Minute},
		Admin:   BucketConfig{Capacity: 5, RefillAmount: 2, RefillInterval: time.Minute},
	}
}

func (c Config) forTier(t Tier) BucketConfig {
	switch t {
	case Read:
		return c.Read
	case Write:
		return c.Write
	case Admin:
		return c.Admin
	}
	return c.Default
}

func (c Config) validate() error {
	for _, t := range Tiers {
		if err := c.forTier(t).validate(); err != nil {
			return fmt.Errorf("%s tier: %w", t, err)
		}
	}
	return nil
}

// Metrics is a point-in-time snapshot of one tier's counters. Counters only
// grow, except for an explicit Reset.
type Metrics struct {
	Total  int64
	Denied int64
}

// Allowed is derived; it is not tracked separately.
func (m Metrics) Allowed() int64 {
	return m.Total - m.Denied
}

// tierState is the per-tier mutable state. The bucket has its own mutex so
// contention on one tier never blocks another; the counters are atomics
// outside that lock, so a metrics snapshot is eventually consistent with
// in-flight consumes.
type tierState struct {
	bucket *tokenBucket
	total  atomic.Int64
	denied atomic.Int64
}

// TieredLimiter owns one token bucket per tier and routes admission
// decisions through them. Construct one per process and hand it to every
// call site; independent instances do not share state.
type TieredLimiter struct {
	tiers   [numTiers]*tierState
	enabled atomic.Bool
	now     func() time.Time
}

type options struct {
	clock             func() time.Time
	disabled          bool
	requestsPerMinute int
	writesPerMinute   int
}

// Option adjusts limiter construction.
type Option func(*options)

// WithClock replaces the time source. Tests use this to drive refill
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithDisabled constructs the limiter switched off: every consume succeeds
// and only totals are counted. It can be switched back on with SetEnabled.
func WithDisabled() Option {
	return func(o *options) { o.disabled = true }
}

// WithRequestsPerMinute overrides the default and read tiers to n requests
// per minute. Zero or negative values are ignored.
func WithRequestsPerMinute(n int) Option {
	return func(o *options) { o.requestsPerMinute = n }
}

// WithWritesPerMinute overrides the write tier to n requests per minute.
// Zero or negative values are ignored.
func WithWritesPerMinute(n int) Option {
	return func(o *options) { o.writesPerMinute = n }
}

func perMinute(n int) BucketConfig {
	return BucketConfig{Capacity: n, RefillAmount: n, RefillInterval: time.Minute}
}

// New builds a TieredLimiter from cfg. All buckets start full.
func New(cfg Config, opts ...Option) (*TieredLimiter, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if o.requestsPerMinute > 0 {
		cfg.Default = perMinute(o.requestsPerMinute)
		cfg.Read = perMinute(o.requestsPerMinute)
	}
	if o.writesPerMinute > 0 {
		cfg.Write = perMinute(o.writesPerMinute)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	l := &TieredLimiter{now: o.clock}
	start := l.now()
	for _, t := range Tiers {
		l.tiers[t] = &tierState{bucket: newTokenBucket(cfg.forTier(t), start)}
	}
	l.enabled.Store(!o.disabled)
	return l, nil
}

func (l *TieredLimiter) state(t Tier) (*tierState, error) {
	if !t.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTier, int(t))
	}
	return l.tiers[t], nil
}

// Consume spends one token from the tier's bucket. It reports false when the
// bucket has insufficient tokens right now; that outcome is transient and
// carries a nil error.
func (l *TieredLimiter) Consume(tier Tier) (bool, error) {
	return l.ConsumeN(tier, 1)
}

// ConsumeN spends cost tokens from the tier's bucket. A cost larger than the
// tier's capacity can never be satisfied and fails with ErrUnsatisfiable so
// callers do not retry forever. ConsumeN never blocks.
func (l *TieredLimiter) ConsumeN(tier Tier, cost int) (bool, error) {
	st, err := l.state(tier)
	if err != nil {
		return false, err
	}
	if cost <= 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}

	st.total.Add(1)

	if !l.enabled.Load() {
		return true, nil
	}

	if cost > st.bucket.cfg.Capacity {
		st.denied.Add(1)
		return false, fmt.Errorf("%w: cost %d on %s tier with capacity %d",
			ErrUnsatisfiable, cost, tier, st.bucket.cfg.Capacity)
	}

	if !st.bucket.tryConsume(cost, l.now()) {
		st.denied.Add(1)
		return false, nil
	}
	return true, nil
}

// ConsumeForRequest classifies the outbound call and spends one token from
// the resulting tier.
func (l *TieredLimiter) ConsumeForRequest(method, path string) (bool, error) {
	return l.Consume(Classify(method, path))
}

// GetMetrics returns a snapshot of every tier's counters. It is safe to call
// concurrently with Consume; the snapshot is eventually consistent with
// in-flight calls.
func (l *TieredLimiter) GetMetrics() map[Tier]Metrics {
	out := make(map[Tier]Metrics, numTiers)
	for _, t := range Tiers {
		st := l.tiers[t]
		out[t] = Metrics{
			Total:  st.total.Load(),
			Denied: st.denied.Load(),
		}
	}
	return out
}

// AvailableTokens reports the tier's current token count after crediting any
// accrued refill.
func (l *TieredLimiter) AvailableTokens(tier Tier) (float64, error) {
	st, err := l.state(tier)
	if err != nil {
		return 0, err
	}
	return st.bucket.available(l.now()), nil
}

// EstimateWait reports how long until cost tokens will have accrued on the
// tier. It is advisory only; another caller may take the tokens first. A
// cost above the tier's capacity never accrues and fails with
// ErrUnsatisfiable instead of a finite wait.
func (l *TieredLimiter) EstimateWait(tier Tier, cost int) (time.Duration, error) {
	st, err := l.state(tier)
	if err != nil {
		return 0, err
	}
	if cost <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	if cost > st.bucket.cfg.Capacity {
		return 0, fmt.Errorf("%w: cost %d on %s tier with capacity %d",
			ErrUnsatisfiable, cost, tier, st.bucket.cfg.Capacity)
	}
	return st.bucket.waitEstimate(cost, l.now()), nil
}

// Reset zeroes the tier's counters and refills its bucket to capacity. Meant
// for tests and administrative clear-the-slate operations, not for
// production bypass.
func (l *TieredLimiter) Reset(tier Tier) error {
	st, err := l.state(tier)
	if err != nil {
		return err
	}
	st.total.Store(0)
	st.denied.Store(0)
	st.bucket.reset(l.now())
	return nil
}

// ResetAll resets every tier.
func (l *TieredLimiter) ResetAll() {
	for _, t := range Tiers {
		_ = l.Reset(t)
	}
}

// SetEnabled flips the global switch. Disabling does not reset any state;
// buckets keep refilling and totals keep counting.
func (l *TieredLimiter) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

// Enabled reports the current switch state.
func (l *TieredLimiter) Enabled() bool {
	return l.enabled.Load()
}
