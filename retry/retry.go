// Package retry classifies provider errors as recoverable or not and runs
// operations under an exponential backoff policy. It is used by the provider
// adapter layer; the workflow engine itself never retries.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Options configure Do.
type Options struct {
	MaxRetries int
	BaseWait   time.Duration
	MaxWait    time.Duration
	Multiplier float64
}

// Option mutates Options.
type Option func(*Options)

// WithMaxRetries sets the number of retries after the initial attempt.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithBaseWait sets the initial backoff interval.
func WithBaseWait(d time.Duration) Option {
	return func(o *Options) { o.BaseWait = d }
}

// WithMaxWait caps the backoff interval.
func WithMaxWait(d time.Duration) Option {
	return func(o *Options) { o.MaxWait = d }
}

// Do runs fn, retrying recoverable failures with exponential backoff until
// the retry budget is exhausted or the context is done. Non-recoverable
// errors return immediately.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	options := Options{
		MaxRetries: 3,
		BaseWait:   500 * time.Millisecond,
		MaxWait:    30 * time.Second,
		Multiplier: 2.0,
	}
	for _, opt := range opts {
		opt(&options)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = options.BaseWait
	policy.MaxInterval = options.MaxWait
	policy.Multiplier = options.Multiplier
	policy.MaxElapsedTime = 0 // bounded by retry count, not wall clock

	wrapped := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRecoverable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(options.MaxRetries)), ctx))

	// Unwrap a surviving PermanentError so callers see the original.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
