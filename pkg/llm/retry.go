package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

// RetryPolicy retries an operation on transient client failures with
// exponential backoff. Non-transient failures abort immediately. The policy
// is applied once, at the place the client is called, rather than scattered
// across call sites.
type RetryPolicy struct {
	MaxAttempts     int           // total attempts including the first (default 3)
	InitialInterval time.Duration // default 500ms
	MaxInterval     time.Duration // default 5s
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialInterval == 0 {
		p.InitialInterval = defaultInitialInterval
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = defaultMaxInterval
	}
	return p
}

// Do runs op, retrying transient failures up to the attempt ceiling.
// It returns the number of attempts made and the final error, if any.
func (p RetryPolicy) Do(ctx context.Context, op func() error) (int, error) {
	p = p.withDefaults()

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMultiplier(2.0),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithRandomizationFactor(0), // deterministic (no jitter)
	)
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)

	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(wrapped, bo)
	return attempts, err
}
