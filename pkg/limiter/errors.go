package limiter

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCost means the requested cost was zero or negative.
	ErrInvalidCost = errors.New("limiter: cost must be positive")

	// ErrUnknownTier means the tier value is outside the closed enumeration.
	ErrUnknownTier = errors.New("limiter: unknown tier")

	// ErrUnsatisfiable means the requested cost exceeds the tier's capacity.
	// Unlike an ordinary denial this is permanent: no amount of waiting will
	// ever accrue enough tokens, so callers must not retry.
	ErrUnsatisfiable = errors.New("limiter: cost exceeds bucket capacity")
)

// RateLimitedError is the typed condition call sites surface when admission
// is denied. It is transient: retrying after RetryAfter may succeed.
type RateLimitedError struct {
	Tier       Tier
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many %s requests, try again in ~%dms",
		e.Tier, e.RetryAfter.Milliseconds())
}
