package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryer(maxAttempts int) *Retryer {
	return NewRetryer(RetryConfig{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		CallTimeout: 100 * time.Millisecond,
	}, nil, nopLogger())
}

func TestRetryerSucceedsFirstAttempt(t *testing.T) {
	r := fastRetryer(3)
	calls := 0

	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryerRetriesTransient(t *testing.T) {
	r := fastRetryer(3)
	calls := 0

	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient("mock", "op", errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryerPermanentReturnsImmediately(t *testing.T) {
	r := fastRetryer(3)
	calls := 0
	permErr := Permanent("mock", "op", errors.New("bad request"))

	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return permErr
	})
	if !IsPermanent(err) {
		t.Fatalf("Do() error = %v, want permanent", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (permanent must not retry)", calls)
	}
}

func TestRetryerUnclassifiedNotRetried(t *testing.T) {
	r := fastRetryer(3)
	calls := 0
	plain := errors.New("unknown failure")

	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return plain
	})
	if !errors.Is(err, plain) {
		t.Fatalf("Do() error = %v, want wrapped original", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (unclassified must not retry)", calls)
	}
}

func TestRetryerExhaustionBecomesPermanent(t *testing.T) {
	r := fastRetryer(2)
	calls := 0

	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return Transient("mock", "op", errors.New("always flaky"))
	})
	if !IsPermanent(err) {
		t.Fatalf("Do() error = %v, want permanent after exhaustion", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryerAttemptTimeoutIsTransient(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		CallTimeout: 10 * time.Millisecond,
	}, nil, nopLogger())

	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want success after timed-out attempt retried", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryerRespectsParentCancellation(t *testing.T) {
	r := fastRetryer(5)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := r.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return Transient("mock", "op", errors.New("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
