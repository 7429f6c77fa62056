package swaperr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the internal retry loop used for retryable kinds.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig matches the engine-wide policy: three attempts beyond
// the first, starting at 250ms and doubling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// Retry runs op, retrying with exponential backoff while the classified error
// is retryable. Non-retryable errors surface immediately. The returned error
// is always classified.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.InitialInterval
	expBackoff.MaxInterval = cfg.MaxInterval
	expBackoff.Multiplier = cfg.Multiplier

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		classified := Classify(err)
		if !classified.Retryable() {
			return backoff.Permanent(classified)
		}
		return classified
	}

	err := backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(expBackoff, cfg.MaxRetries), ctx))
	if err == nil {
		return nil
	}
	return Classify(err)
}
