package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestRetryPolicy_SucceedsFirstAttempt(t *testing.T) {
	attempts, err := fastPolicy(3).Do(context.Background(), func() error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryPolicy_RetriesTransientFailures(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return NewError(ErrorRateLimited, errors.New("429"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	attempts, err := fastPolicy(3).Do(context.Background(), func() error {
		return NewError(ErrorUnavailable, errors.New("503"))
	})
	require.Error(t, err)
	require.Equal(t, ErrorUnavailable, Classify(err))
	require.Equal(t, 3, attempts)
}

func TestRetryPolicy_DoesNotRetryMalformedResponse(t *testing.T) {
	attempts, err := fastPolicy(3).Do(context.Background(), func() error {
		return NewError(ErrorMalformedResponse, errors.New("bad JSON"))
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryPolicy_DoesNotRetryUnclassifiedErrors(t *testing.T) {
	attempts, err := fastPolicy(3).Do(context.Background(), func() error {
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryPolicy_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryPolicy{MaxAttempts: 10, InitialInterval: 50 * time.Millisecond}.Do(ctx, func() error {
		calls++
		cancel()
		return NewError(ErrorUnavailable, errors.New("503"))
	})
	require.Error(t, err)
	require.LessOrEqual(t, calls, 2)
}

func TestClassify(t *testing.T) {
	require.Equal(t, ErrorTimeout, Classify(context.DeadlineExceeded))
	require.Equal(t, ErrorRateLimited, Classify(NewError(ErrorRateLimited, errors.New("429"))))
	require.Equal(t, ErrorKind(""), Classify(errors.New("plain")))

	wrapped := errors.Join(errors.New("outer"), NewError(ErrorTimeout, errors.New("deadline")))
	require.Equal(t, ErrorTimeout, Classify(wrapped))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(NewError(ErrorTimeout, errors.New("t"))))
	require.True(t, IsRetryable(NewError(ErrorRateLimited, errors.New("r"))))
	require.True(t, IsRetryable(NewError(ErrorUnavailable, errors.New("u"))))
	require.False(t, IsRetryable(NewError(ErrorMalformedResponse, errors.New("m"))))
	require.False(t, IsRetryable(NewError(ErrorToolExecution, errors.New("x"))))
	require.False(t, IsRetryable(errors.New("plain")))
}
