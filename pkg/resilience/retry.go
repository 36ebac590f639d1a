// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry and timeout boundaries for calls to
// external collaborators (embedders, search APIs, skill handlers).
package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	"github.com/mentat-ai/mentat/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// InitialDelay is the initial backoff delay.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// IsRecoverable determines if an error should be retried.
	// If nil, isRecoverableDefault is used.
	IsRecoverable func(error) bool

	// Jitter adds randomness to backoff; 0.1 means ±10%.
	Jitter float64
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a new config with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithMaxDelay returns a new config with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// Do executes fn with retry logic, returning the last error if all attempts
// fail. Errors wrapped with Permanent stop the loop immediately and are
// returned unwrapped.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = isRecoverableDefault
	}

	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(calculateBackoff(attempt, rc))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.New(errors.CodeContextLost, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if stderrors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if !rc.IsRecoverable(err) {
			return err
		}
	}

	return lastErr
}

// DoWithResult executes fn with retry logic, returning both result and error.
func DoWithResult[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := rc.Do(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// calculateBackoff computes exponential backoff delay with jitter.
func calculateBackoff(attempt int, rc RetryConfig) time.Duration {
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}

	exponentialDelay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.Multiplier, float64(attempt-1)))
	if rc.MaxDelay > 0 && exponentialDelay > rc.MaxDelay {
		exponentialDelay = rc.MaxDelay
	}

	if rc.Jitter > 0 {
		jitterRange := float64(exponentialDelay) * rc.Jitter * 2 * (rand.Float64() - 0.5)
		exponentialDelay = time.Duration(float64(exponentialDelay) + jitterRange)
		if exponentialDelay < 0 {
			exponentialDelay = 0
		}
	}

	return exponentialDelay
}

// isRecoverableDefault retries everything except context errors and
// MentatErrors explicitly marked unrecoverable.
func isRecoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var me *errors.MentatError
	if stderrors.As(err, &me) {
		return me.Recoverable
	}
	return true
}
