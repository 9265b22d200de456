package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/service"
)

var (
	// ErrRateLimit marks a throttled oracle call; the next retry waits the
	// maximum delay.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries is returned once every attempt has failed.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError lets an operation state explicitly whether its failure is
// worth another attempt.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// finalUnlessMarked retries everything except errors explicitly marked final.
func finalUnlessMarked(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}
	return true
}

// WithRetry runs operation until it succeeds, fails with an error
// opts.ShouldRetry rejects, or runs out of attempts. Delays grow by
// opts.Multiplier up to opts.MaxDelay.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = finalUnlessMarked
	}

	delay := opts.InitialDelay
	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err = operation(); err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		if attempt == opts.MaxAttempts {
			break
		}

		wait := delay
		if errors.Is(err, ErrRateLimit) {
			wait = opts.MaxDelay
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, wait, err)
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %w", ctx.Err(), err)
			case <-timer.C:
			}
		}
		delay = min(time.Duration(float64(delay)*opts.Multiplier), opts.MaxDelay)
	}

	if opts.MaxAttempts == 1 {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, opts.MaxAttempts, err)
}
