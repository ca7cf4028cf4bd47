// Package retry implements classified retry for outward calls: the backlog
// store, the Retell gateway, and the CRM client all share this one
// primitive instead of carrying their own retry loops.
//
// An error classified as permanent aborts immediately and propagates
// unchanged; a transient error is retried with exponential backoff until
// the policy's attempt budget is spent. A cancelled context observed before
// a scheduled sleep completes abandons the loop at once, so shutdown never
// waits out a backoff sleep.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/IvanSScrobot/ardent-ms-call-retell/backoff"
)

// Class is the retry classification of an error.
type Class int

const (
	// Transient marks infrastructure failures (network, timeout) worth
	// retrying.
	Transient Class = iota
	// Permanent marks request-level failures (validation, authorization)
	// that will not succeed on retry.
	Permanent
)

// Classifier maps an error to a retry class.
type Classifier func(error) Class

// Policy controls a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Strategy computes the sleep before each retry. Nil means
	// backoff.DefaultStrategy.
	Strategy backoff.Strategy

	// Classify decides whether a failure is retried. Nil means
	// DefaultClassifier.
	Classify Classifier
}

// permanentError wraps an error to mark it non-retryable for
// DefaultClassifier. Unwrap keeps errors.Is/As working on the cause.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// MarkPermanent wraps err so DefaultClassifier treats it as permanent.
// A nil err returns nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries a MarkPermanent wrapper.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// DefaultClassifier treats MarkPermanent-wrapped errors as permanent and
// everything else as transient.
func DefaultClassifier(err error) Class {
	if IsPermanent(err) {
		return Permanent
	}
	return Transient
}

// Do runs op under the policy and returns its result. On failure the last
// error is propagated unchanged; callers can test it with errors.Is/As and
// IsPermanent.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	strategy := p.Strategy
	if strategy == nil {
		strategy = backoff.DefaultStrategy()
	}
	classify := p.Classify
	if classify == nil {
		classify = DefaultClassifier
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if classify(err) == Permanent {
			return zero, err
		}
		if attempt == attempts {
			return zero, err
		}

		if !sleep(ctx, strategy.Delay(attempt)) {
			// Shutdown observed mid-sleep: propagate without waiting.
			return zero, err
		}
	}
	return zero, lastErr
}

// sleep waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
