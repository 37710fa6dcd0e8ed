package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(4), func(ctx context.Context) error {
		calls++
		return Retryable(errors.New("still down"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		cancel()
		return Retryable(errors.New("transient"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_AttemptTimeoutAppliesPerAttempt(t *testing.T) {
	cfg := Config{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		AttemptTimeout: 10 * time.Millisecond,
	}
	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		select {
		case <-ctx.Done():
			return Retryable(ctx.Err())
		case <-time.After(time.Second):
			return nil
		}
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDelay_LinearSchedule(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 250 * time.Millisecond}, // capped
		{10, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDoWithResult_ReturnsValue(t *testing.T) {
	got, err := DoWithResult(context.Background(), fastConfig(3), func(ctx context.Context) (string, error) {
		return "ready", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ready" {
		t.Errorf("expected %q, got %q", "ready", got)
	}
}
