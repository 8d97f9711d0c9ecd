package model

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Wait: time.Millisecond}, testLogger(), "invoke", func() error {
		calls++
		if calls < 3 {
			return &ServiceError{Op: "invoke", Retryable: true, Err: errors.New("rate limited")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	permanent := &ServiceError{Op: "invoke", Retryable: false, Err: errors.New("bad request")}
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, Wait: time.Millisecond}, testLogger(), "invoke", func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("got %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ExhaustedAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Wait: time.Millisecond}, testLogger(), "invoke", func() error {
		calls++
		return &ServiceError{Op: "invoke", Retryable: true, Err: errors.New("timeout")}
	})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, RetryPolicy{MaxAttempts: 3, Wait: time.Hour}, testLogger(), "invoke", func() error {
		return &ServiceError{Op: "invoke", Retryable: true, Err: errors.New("timeout")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(&ServiceError{Retryable: false}) {
		t.Error("permanent ServiceError rated retryable")
	}
	if !IsRetryable(&ServiceError{Retryable: true}) {
		t.Error("transient ServiceError rated permanent")
	}
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Error("cancellation must not be retryable")
	}
	if IsRetryable(errors.New("unknown")) {
		t.Error("unclassified error rated retryable")
	}
}

func TestRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{429: true, 500: true, 503: true, 400: false, 404: false, 200: false} {
		if got := retryableStatus(code); got != want {
			t.Errorf("retryableStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
