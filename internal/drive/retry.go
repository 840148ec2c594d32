package drive

import "context"

// RetryPolicy bounds how often an operation is attempted and which failures
// earn another attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Retryable reports whether a failed attempt may be repeated.
	Retryable func(error) bool
}

// DefaultRetryPolicy allows one retry, and only after an unauthorized
// response. Throttling, server errors and network failures are surfaced
// immediately.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Retryable:   IsUnauthorized,
	}
}

// Run calls op until it succeeds, fails with a non-retryable error, the
// attempt budget is spent, or ctx is done. beforeRetry, when non-nil, runs
// between a failed attempt and the next one with the failure that caused
// the retry. attempt is 1-based.
func (p RetryPolicy) Run(
	ctx context.Context,
	op func(attempt int) error,
	beforeRetry func(attempt int, err error),
) error {
	maxAttempts := max(p.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		err := op(attempt)
		if err == nil {
			return nil
		}

		if attempt >= maxAttempts || p.Retryable == nil || !p.Retryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return err
		}

		if beforeRetry != nil {
			beforeRetry(attempt, err)
		}
	}
}
