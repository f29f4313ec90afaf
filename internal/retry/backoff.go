// Package retry runs provider calls under a bounded exponential backoff.
//
// Only errors the caller classifies as retryable are retried; anything else
// stops the loop on the first attempt. Both the number of retries and the
// total time spent backing off are capped, and context cancellation ends the
// loop immediately with the context's error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      int
	MaxElapsed      time.Duration
	Jitter          bool
}

// DefaultPolicy matches Gmail's guidance for 429 and 5xx responses.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxRetries:      5,
		MaxElapsed:      2 * time.Minute,
		Jitter:          true,
	}
}

// Notify is called before each retry with the failure and the upcoming delay.
type Notify func(err error, wait time.Duration)

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	def := DefaultPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	jitter := 0.0
	if p.Jitter {
		jitter = backoff.DefaultRandomizationFactor
	}
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithRandomizationFactor(jitter),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxRetries)), ctx)
}

// Do calls op until it succeeds, returns an error retryable rejects, or the
// policy is exhausted. The last error is returned unwrapped.
func Do[T any](
	ctx context.Context,
	p Policy,
	retryable func(error) bool,
	notify Notify,
	op func(ctx context.Context) (T, error),
) (T, error) {
	attempt := func() (T, error) {
		v, err := op(ctx)
		if err != nil && (retryable == nil || !retryable(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	var n backoff.Notify
	if notify != nil {
		n = backoff.Notify(notify)
	}
	return backoff.RetryNotifyWithData(attempt, p.backOff(ctx), n)
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, retryable func(error) bool, notify Notify, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, retryable, notify, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
