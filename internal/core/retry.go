package core

import (
	"fmt"
	"time"
)

// DefaultRetryDelay is the wait between a failed attempt and the next one.
const DefaultRetryDelay = 10 * time.Minute

// RetryPolicy decides when a failed operation is attempted again.
// MaxAttempts of zero means retry until success or cancellation.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy retries every ten minutes without a cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delay: DefaultRetryDelay}
}

// NewRetryPolicy builds a policy from raw config; invalid values fall back to defaults.
func NewRetryPolicy(delay time.Duration, maxAttempts int) RetryPolicy {
	p := DefaultRetryPolicy()
	if delay > 0 {
		p.Delay = delay
	}
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	return p
}

// Next returns the retry time after the given number of failed attempts,
// or false when the cap has been reached.
func (p RetryPolicy) Next(now time.Time, attempts int) (time.Time, bool) {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return time.Time{}, false
	}
	return now.Add(p.Delay), true
}

// Validate ensures the policy can be applied.
func (p RetryPolicy) Validate() error {
	if p.Delay <= 0 {
		return fmt.Errorf("retry delay must be >0")
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative")
	}
	return nil
}
