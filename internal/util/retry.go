package util

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (default: 2).
	MaxAttempts int

	// Delay is the wait before the first retry (default: 1s).
	// A negative value retries immediately.
	Delay time.Duration

	// Multiplier grows the delay between retries. Values <= 1 keep it fixed.
	Multiplier float64

	// MaxDelay caps the delay when Multiplier > 1 (default: 30s).
	MaxDelay time.Duration

	// IsRetryable determines if an error should be retried.
	// If nil, uses IsResourceExhausted.
	IsRetryable func(error) bool
}

// transientSpawnPatterns are substrings of spawn errors that clear up on
// their own once the process table or fd table drains.
var transientSpawnPatterns = []string{
	"resource temporarily unavailable",
	"try again",
	"eagain",
	"too many open files",
	"cannot allocate memory",
}

// IsResourceExhausted reports whether err is a transient resource
// exhaustion error from fork/exec (EAGAIN and friends).
func IsResourceExhausted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENOMEM) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientSpawnPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Retry executes fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. It returns the last error on exhaustion.
// fn receives the 1-based attempt number.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(attempt int) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	} else if cfg.Delay == 0 {
		cfg.Delay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = IsResourceExhausted
	}

	var zero T
	var lastErr error
	delay := cfg.Delay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) || !cfg.IsRetryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		if cfg.Multiplier > 1 {
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	return zero, lastErr
}

// PermanentError wraps an error to indicate it should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent checks if an error is marked as permanent.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}

// MarkPermanent wraps an error to indicate it should not be retried.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
