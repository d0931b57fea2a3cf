// Package ratelimit implements per-client token buckets.
//
// A bucket starts full, refills continuously at a fixed rate up to its
// capacity, and pays one token per admitted request. The admit check is a
// single atomic step per key.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Limiter decides whether one more request from key is admitted.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type Decision struct {
	Allowed    bool
	Remaining  int           // whole tokens left after this check
	RetryAfter time.Duration // time until the next token, zero when allowed
}

type Config struct {
	Capacity     int
	RefillPerSec float64

	// IdleTTL > 0 evicts buckets untouched for that long. It is raised to the
	// full-refill time so an evicted bucket was already full.
	IdleTTL       time.Duration
	SweepInterval time.Duration

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (c Config) clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

// fullRefill is the time an empty bucket needs to become full again.
func (c Config) fullRefill() time.Duration {
	return time.Duration(float64(c.Capacity) / c.RefillPerSec * float64(time.Second))
}

func (c Config) effectiveIdleTTL() time.Duration {
	if c.IdleTTL <= 0 {
		return 0
	}
	if full := c.fullRefill(); c.IdleTTL < full {
		return full
	}
	return c.IdleTTL
}

// retryAfter is the wait until tokens reaches 1 at the given rate.
func retryAfter(tokens, perSec float64) time.Duration {
	if tokens >= 1 || perSec <= 0 {
		return 0
	}
	secs := (1 - tokens) / perSec
	return time.Duration(math.Ceil(secs * float64(time.Second)))
}
