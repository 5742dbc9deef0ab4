package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config controls the retry loop for a single operation.
type Config struct {
	// MaxRetries is the number of attempts after the first failure.
	MaxRetries int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64
	// JitterFactor randomizes each delay by ±JitterFactor to avoid
	// coordinated retry storms. Zero disables jitter for deterministic tests.
	JitterFactor float64
	// Retryable overrides DefaultRetryable when set.
	Retryable func(Kind) bool
	// Tracker, when set, records the outcome of every attempt so health
	// checks can observe degradation. It never influences control flow.
	Tracker *HealthTracker
}

// DefaultConfig mirrors the retry posture used for store and provider calls:
// three retries starting at 500ms, doubling, capped at 10s, with ±20% jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
	}
}

// Error is the typed failure surfaced when an operation is not retried
// further, either because retries were exhausted or the failure is not
// retryable. It carries the classification of the last failure and the total
// number of attempts made.
type Error struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("operation failed after %d attempt(s) (%s): %v", e.Attempts, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Do runs op, retrying transient failures with exponential backoff. The wait
// between attempts is a non-blocking sleep that aborts as soon as ctx is
// done, so an outer request deadline always wins over MaxRetries. The
// operation itself receives ctx and must honor it for the same reason.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	retryable := cfg.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 2.0
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, &Error{Kind: KindConnectionTimeout, Attempts: attempts, Err: err}
		}

		attempts++
		result, err := op(ctx)
		if err == nil {
			cfg.Tracker.RecordSuccess()
			return result, nil
		}

		kind := Classify(err)
		cfg.Tracker.RecordFailure()

		if !retryable(kind) || attempts > cfg.MaxRetries {
			return zero, &Error{Kind: kind, Attempts: attempts, Err: err}
		}

		if err := sleep(ctx, jittered(delay, cfg.JitterFactor)); err != nil {
			return zero, &Error{Kind: kind, Attempts: attempts, Err: err}
		}

		delay = time.Duration(float64(delay) * factor)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func jittered(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(d) * (1 + spread))
}

// sleep waits for d or until ctx is done, whichever comes first. It must not
// hold any lock or pooled connection while waiting.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
