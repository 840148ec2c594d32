package drive

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_RetriesOnceOnUnauthorized(t *testing.T) {
	p := DefaultRetryPolicy()

	var (
		calls   []int
		retried []int
	)

	err := p.Run(context.Background(),
		func(attempt int) error {
			calls = append(calls, attempt)
			if attempt == 1 {
				return &RequestError{StatusCode: 401, Err: ErrUnauthorized}
			}

			return nil
		},
		func(attempt int, err error) {
			retried = append(retried, attempt)
			assert.True(t, IsUnauthorized(err))
		},
	)

	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2}, calls)
	assert.Equal(t, []int{1}, retried)
}

func TestRetryPolicy_BudgetExhausted(t *testing.T) {
	p := DefaultRetryPolicy()

	calls := 0
	err := p.Run(context.Background(), func(int) error {
		calls++
		return ErrUnauthorized
	}, nil)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicy_NonRetryable(t *testing.T) {
	p := DefaultRetryPolicy()

	calls := 0
	err := p.Run(context.Background(), func(int) error {
		calls++
		return ErrServerError
	}, func(int, error) {
		t.Fatal("beforeRetry must not run for a non-retryable error")
	})

	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	p := RetryPolicy{Retryable: func(error) bool { return true }}

	calls := 0
	err := p.Run(context.Background(), func(int) error {
		calls++
		return errors.New("boom")
	}, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_StopsWhenContextDone(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Retryable: func(error) bool { return true }}

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.Run(ctx, func(int) error {
		calls++
		cancel()

		return ErrUnauthorized
	}, nil)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_CustomBudget(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Retryable: IsUnauthorized}

	calls := 0
	err := p.Run(context.Background(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return ErrUnauthorized
		}

		return nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}
