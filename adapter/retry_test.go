package adapter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brianchuang/agent-sub000/adapter"
	"github.com/brianchuang/agent-sub000/planner"
)

func fastPolicy() adapter.RetryPolicy {
	return adapter.RetryPolicy{MaxAttempts: 3, BaseDelayMs: 1, MaxDelayMs: 2, JitterRatio: 0}
}

func TestRetry_SucceedsWithoutRetryingOnFirstOK(t *testing.T) {
	t.Parallel()

	var calls int
	wrapped := adapter.Retry(func(context.Context, adapter.Action) (adapter.Result, error) {
		calls++
		return adapter.Result{OK: true}, nil
	}, fastPolicy(), nil, nil)

	res, err := wrapped(context.Background(), adapter.Action{})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 1, calls)
}

func TestRetry_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	var calls int
	wrapped := adapter.Retry(func(context.Context, adapter.Action) (adapter.Result, error) {
		calls++
		return adapter.Result{OK: false, Code: "HTTP_400", Error: "bad request"}, errors.New("bad request")
	}, fastPolicy(), nil, nil)

	_, err := wrapped(context.Background(), adapter.Action{})
	require.Error(t, err)
	require.ErrorContains(t, err, string(planner.RetryNonRetryable))
	require.Equal(t, 1, calls, "a non-retryable failure must not be retried")
}

func TestRetry_RetriesOnHTTP429ThenExhausts(t *testing.T) {
	t.Parallel()

	var calls int
	var recorded []adapter.RetryAttemptRecord
	wrapped := adapter.Retry(func(context.Context, adapter.Action) (adapter.Result, error) {
		calls++
		return adapter.Result{OK: false, Code: "HTTP_429", Error: "rate limited"}, errors.New("rate limited")
	}, fastPolicy(), nil, func(r adapter.RetryAttemptRecord) { recorded = append(recorded, r) })

	_, err := wrapped(context.Background(), adapter.Action{})
	require.Error(t, err)
	require.ErrorContains(t, err, string(planner.RetryMaxAttemptsExhausted))
	require.Equal(t, 3, calls, "must stop at policy.MaxAttempts")
	require.Len(t, recorded, 3)
	require.False(t, recorded[len(recorded)-1].Retryable == false && recorded[len(recorded)-1].Error == "", "final attempt record carries the terminal error")
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var calls int
	wrapped := adapter.Retry(func(context.Context, adapter.Action) (adapter.Result, error) {
		calls++
		if calls < 3 {
			return adapter.Result{OK: false, Code: "HTTP_503"}, errors.New("unavailable")
		}
		return adapter.Result{OK: true}, nil
	}, fastPolicy(), nil, nil)

	res, err := wrapped(context.Background(), adapter.Action{})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 3, calls)
}

func TestDefaultClassifier(t *testing.T) {
	t.Parallel()

	require.True(t, adapter.DefaultClassifier(adapter.Result{Retryable: true}, nil))
	require.True(t, adapter.DefaultClassifier(adapter.Result{Code: "HTTP_429"}, nil))
	require.True(t, adapter.DefaultClassifier(adapter.Result{Code: "HTTP_503"}, nil))
	require.True(t, adapter.DefaultClassifier(adapter.Result{}, errors.New("request timed out")))
	require.False(t, adapter.DefaultClassifier(adapter.Result{Code: "HTTP_400"}, errors.New("bad request")))
}

func TestRetry_ContextCancellationDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	wrapped := adapter.Retry(func(context.Context, adapter.Action) (adapter.Result, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return adapter.Result{OK: false, Code: "HTTP_503"}, errors.New("unavailable")
	}, adapter.RetryPolicy{MaxAttempts: 5, BaseDelayMs: 50, MaxDelayMs: 100}, nil, nil)

	_, err := wrapped(ctx, adapter.Action{})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
