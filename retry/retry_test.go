package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), &Policy{MaxAttempts: 3}, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("got %v, %v", got, err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoDefaultPolicyNoRetry(t *testing.T) {
	calls := 0
	wantErr := errors.New("boom")
	_, err := Do(context.Background(), nil, func(context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no policy means single attempt)", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), &Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("permanent")
	_, err := Do(context.Background(), &Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}, func(context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoNonRetryablePredicateStopsEarly(t *testing.T) {
	calls := 0
	wantErr := errors.New("fatal")
	_, err := Do(context.Background(), &Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		Retryable:      func(error) bool { return false },
	}, func(context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable should stop immediately)", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, &Policy{MaxAttempts: 3, InitialBackoff: time.Second}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("x")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (should not sleep past cancellation)", calls)
	}
}

func TestComputeBackoffGrowsAndCaps(t *testing.T) {
	p := Policy{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 35 * time.Millisecond, Multiplier: 2}
	// JitterFraction is zero, so computeBackoff never consults rng.
	d0 := computeBackoff(0, p, nil)
	d1 := computeBackoff(1, p, nil)
	d2 := computeBackoff(2, p, nil)
	if d0 != 10*time.Millisecond {
		t.Errorf("d0 = %v, want 10ms", d0)
	}
	if d1 != 20*time.Millisecond {
		t.Errorf("d1 = %v, want 20ms", d1)
	}
	if d2 != 35*time.Millisecond {
		t.Errorf("d2 = %v, want capped at 35ms", d2)
	}
}
