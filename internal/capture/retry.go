package capture

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy is a bounded retry with exponential backoff, applied
// uniformly to every fetch. Only transient failures are retried;
// permanent failures return immediately.
type RetryPolicy struct {
	MaxAttempts  int // total attempts, including the first
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// transienter is implemented by classified errors (fmp.FetchError)
// that know whether they are worth retrying.
type transienter interface {
	IsTransient() bool
}

// isTransient reports whether err carries a transient classification.
// Unclassified errors are treated as permanent.
func isTransient(err error) bool {
	var t transienter
	return errors.As(err, &t) && t.IsTransient()
}

// Execute runs attempt up to MaxAttempts times, sleeping between
// transient failures with doubling delay capped at MaxDelay. Returns
// the last error, or ctx.Err() if cancelled mid-backoff.
func (p RetryPolicy) Execute(ctx context.Context, attempt func() error) error {
	delay := p.InitialDelay

	var err error
	for i := 0; i < p.MaxAttempts; i++ {
		err = attempt()
		if err == nil || !isTransient(err) {
			return err
		}

		if i == p.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return err
}
