package util

import (
	"context"
	"time"
)

// RetryIf calls fn up to attempts times, doubling the delay after each
// failure, for as long as retryable reports the error as transient. A nil
// retryable retries every error. The last error is returned when the attempts
// run out; context cancellation between attempts returns ctx.Err().
func RetryIf(ctx context.Context, attempts int, delay time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= attempts || (retryable != nil && !retryable(err)) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
