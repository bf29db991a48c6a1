package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecute_SucceedsAfterTransientFailures(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Execute() = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestExecute_ExhaustsAttemptsReturnsLastError(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}

	last := errors.New("still failing")
	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return last
	})

	if !errors.Is(err, last) {
		t.Fatalf("Execute() = %v, want last error", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestExecute_PermanentErrorStopsImmediately(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond}

	calls := 0
	wrapped := errors.New("bad request")
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(wrapped)
	})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !IsPermanent(err) {
		t.Fatalf("Execute() = %v, want permanent error", err)
	}
	if !errors.Is(err, wrapped) {
		t.Fatal("permanent error must unwrap to the original")
	}
}

func TestExecute_CanceledContextStopsRetrying(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 5, Backoff: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Execute(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExecute_AttemptTimeoutApplies(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 1, AttemptTimeout: 10 * time.Millisecond}

	err := p.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() = %v, want deadline exceeded", err)
	}
}

func TestRetryableStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{599, true},
		{400, false},
		{401, false},
		{404, false},
		{200, false},
	}

	for _, tt := range tests {
		if got := RetryableStatus(tt.status); got != tt.want {
			t.Errorf("RetryableStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
