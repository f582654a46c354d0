package model

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cexll/subagentsdk/pkg/logging"
)

const (
	retryInitialInterval = 200 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
)

// newRetryBackoff returns a jittered exponential backoff capped at maxRetries.
func newRetryBackoff(ctx context.Context, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
}

// doWithRetry runs fn until it succeeds, fails permanently or retries run out.
func doWithRetry(ctx context.Context, provider string, maxRetries int, retryable func(error) bool, fn func(context.Context) error) error {
	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.With("model").Warn().Err(err).Str("provider", provider).Dur("wait", wait).Msg("retrying completion")
	}
	return backoff.RetryNotify(op, newRetryBackoff(ctx, maxRetries), notify)
}

// isTransientNetErr treats timeouts as retryable.
func isTransientNetErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
