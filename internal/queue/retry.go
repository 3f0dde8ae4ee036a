package queue

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"creativehub/internal/domain"
)

// RetryPolicy decides whether a failed job goes back to pending and when it
// becomes available again. A nil policy never retries.
type RetryPolicy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// NewRetryPolicy returns an exponential policy capped at maxAttempts total attempts.
func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:         maxAttempts,
		InitialInterval:     5 * time.Second,
		MaxInterval:         2 * time.Minute,
		Multiplier:          2,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
	}
}

// ShouldRetry reports whether job may be attempted again. Attempts is the
// counter after the failed attempt's claim.
func (p *RetryPolicy) ShouldRetry(job domain.Job) bool {
	if p == nil {
		return false
	}
	limit := job.MaxAttempts
	if limit <= 0 {
		limit = domain.DefaultMaxAttempts
	}
	if p.MaxAttempts > 0 && p.MaxAttempts < limit {
		limit = p.MaxAttempts
	}
	return job.Attempts < limit
}

// Delay returns the wait before attempt number attempts+1.
func (p *RetryPolicy) Delay(attempts int) time.Duration {
	if p == nil {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.RandomizationFactor
	b.Reset()

	var d time.Duration
	for i := 0; i < max(attempts, 1); i++ {
		d = b.NextBackOff()
	}
	return d
}
