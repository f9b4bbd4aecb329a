package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryInitialInterval = 200 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
)

// TryNTimes runs f until it succeeds, returns a Permanent error, the context
// is done, or attempts are exhausted.
func TryNTimes(ctx context.Context, f func() error, attempts uint64) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = 0

	var retries uint64
	if attempts > 1 {
		retries = attempts - 1
	}

	return backoff.Retry(f, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
