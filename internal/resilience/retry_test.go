package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
		JitterFraction: 0,
	}
}

func TestRetryVal_SucceedsFirstTry(t *testing.T) {
	val, err := RetryVal(context.Background(), "anthropic", fastRetry(3), func(_ context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("got %d, want 42", val)
	}
}

func TestRetryVal_RetriesTransient(t *testing.T) {
	var calls int
	val, err := RetryVal(context.Background(), "anthropic", fastRetry(3), func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("overloaded"), 529)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" || calls != 3 {
		t.Errorf("got val=%q calls=%d", val, calls)
	}
}

func TestRetryVal_PermanentFailsFast(t *testing.T) {
	var calls int
	_, err := RetryVal(context.Background(), "anthropic", fastRetry(3), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("invalid request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error should not be retried, calls=%d", calls)
	}
}

func TestRetryVal_ExhaustsAttempts(t *testing.T) {
	var calls int
	_, err := RetryVal(context.Background(), "anthropic", fastRetry(3), func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("flaky"), 503)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryVal_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	_, err := RetryVal(ctx, "anthropic", fastRetry(5), func(_ context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("flaky"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected retry loop to stop on cancellation, calls=%d", calls)
	}
}
