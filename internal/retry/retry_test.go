package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/psantana5/printassist/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.FATAL, false)
}

func TestDoSucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), testLogger(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
	calls := 0
	err := Do(context.Background(), cfg, testLogger(), func() error {
		calls++
		if calls < 3 {
			return errors.New("entity not resolved yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoReturnsLastErrorAfterExhaustingRetries(t *testing.T) {
	cfg := Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
	wantErr := errors.New("entity permanently missing")
	calls := 0
	err := Do(context.Background(), cfg, testLogger(), func() error {
		calls++
		return wantErr
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected returned error to wrap %v, got %v", wantErr, err)
	}
	if calls != cfg.MaxRetries+1 {
		t.Fatalf("expected %d calls, got %d", cfg.MaxRetries+1, calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, DefaultConfig(), testLogger(), func() error {
		t.Fatal("fn should not be called with an already-cancelled context")
		return nil
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
