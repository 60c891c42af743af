package adapter

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/brianchuang/agent-sub000/planner"
)

// RetryPolicy bounds the Retry decorator, per spec.md §4.4.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelayMs  int
	MaxDelayMs   int
	JitterRatio  float64
}

// DefaultRetryPolicy mirrors common exponential-backoff defaults seen
// across the pack's retry helpers (runtime/a2a/retry.go,
// runtime/toolregistry/executor.go).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelayMs: 200, MaxDelayMs: 10_000, JitterRatio: 0.2}
}

// RetryAttemptRecord is written after each attempt, per spec.md §4.4.
type RetryAttemptRecord struct {
	Attempt   int
	DelayMs   int
	Error     string
	Retryable bool
}

// AttemptRecorder receives a RetryAttemptRecord after each attempt. May
// be nil.
type AttemptRecorder func(RetryAttemptRecord)

// Classifier decides whether a Result/error pair is retryable. The
// default classifier implements spec.md §4.4's rule: retryable if the
// adapter reports Retryable=true, or the error code matches
// HTTP_429/HTTP_5xx, or the message contains "timeout"/"timed out".
type Classifier func(res Result, err error) bool

// DefaultClassifier mirrors
// runtime/toolregistry/executor.go's retryHintFromToolErrorCode.
func DefaultClassifier(res Result, err error) bool {
	if res.Retryable {
		return true
	}
	code := strings.ToUpper(res.Code)
	if code == "HTTP_429" || strings.HasPrefix(code, "HTTP_5") {
		return true
	}
	msg := strings.ToLower(res.Error)
	if err != nil {
		msg += " " + strings.ToLower(err.Error())
	}
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}

// Retry wraps next with exponential backoff with jitter, bounded by
// policy. Terminal reasons are non_retryable or
// max_attempts_exhausted, reported as the prefix of the returned error's
// message (the planner.RetryReason values).
func Retry(next Execute, policy RetryPolicy, classify Classifier, record AttemptRecorder) Execute {
	if classify == nil {
		classify = DefaultClassifier
	}
	return func(ctx context.Context, a Action) (Result, error) {
		var lastRes Result
		var lastErr error
		for attempt := 1; attempt <= maxInt(policy.MaxAttempts, 1); attempt++ {
			res, err := next(ctx, a)
			lastRes, lastErr = res, err

			retryable := err != nil && classify(res, err)
			if err == nil && !res.OK {
				retryable = classify(res, nil)
			}

			if err == nil && res.OK {
				if record != nil {
					record(RetryAttemptRecord{Attempt: attempt, Retryable: false})
				}
				return res, nil
			}

			if !retryable {
				if record != nil {
					record(RetryAttemptRecord{Attempt: attempt, Error: attemptError(res, err), Retryable: false})
				}
				return res, terminalError(err, string(planner.RetryNonRetryable))
			}

			if attempt == policy.MaxAttempts {
				if record != nil {
					record(RetryAttemptRecord{Attempt: attempt, Error: attemptError(res, err), Retryable: true})
				}
				return res, terminalError(err, string(planner.RetryMaxAttemptsExhausted))
			}

			delay := backoffDelay(policy, attempt)
			if record != nil {
				record(RetryAttemptRecord{Attempt: attempt, DelayMs: delay, Error: attemptError(res, err), Retryable: true})
			}
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(time.Duration(delay) * time.Millisecond):
			}
		}
		return lastRes, lastErr
	}
}

func attemptError(res Result, err error) string {
	if err != nil {
		return err.Error()
	}
	return res.Error
}

type terminal struct {
	cause  error
	reason string
}

func (t *terminal) Error() string {
	if t.cause != nil {
		return t.reason + ": " + t.cause.Error()
	}
	return t.reason
}

func (t *terminal) Unwrap() error { return t.cause }

func terminalError(cause error, reason string) error {
	return &terminal{cause: cause, reason: reason}
}

func backoffDelay(p RetryPolicy, attempt int) int {
	base := p.BaseDelayMs
	if base <= 0 {
		base = 1
	}
	delay := base << (attempt - 1)
	if p.MaxDelayMs > 0 && delay > p.MaxDelayMs {
		delay = p.MaxDelayMs
	}
	if p.JitterRatio > 0 {
		jitter := float64(delay) * p.JitterRatio
		delay = delay - int(jitter) + rand.Intn(int(jitter*2)+1)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
