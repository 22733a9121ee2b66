package core

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy configures the exponential-backoff-with-jitter helper
// grounded on icn-common/resilience.rs, shared by gossip retry (spec.md
// §4.3) and used by the job manager as the caller-defined DAG put retry
// policy spec.md §9 leaves open (SPEC_FULL.md §C.4).
type BackoffPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultBackoffPolicy mirrors the donor's rate-limiter-adjacent retry
// shape: short base delay, capped ceiling, bounded attempt count.
var DefaultBackoffPolicy = BackoffPolicy{
	BaseDelay:  50 * time.Millisecond,
	MaxDelay:   5 * time.Second,
	MaxRetries: 5,
}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(d * jitter)
}

// Retry invokes fn until it succeeds, ctx is cancelled, or MaxRetries is
// exhausted, sleeping an exponentially growing, jittered delay between
// attempts. The last error is returned on exhaustion.
func Retry(ctx context.Context, policy BackoffPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.delay(attempt - 1)):
			}
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
