package longpoll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitForChange_ReturnsWhenValueChanges(t *testing.T) {
	var value atomic.Value
	value.Store("3")

	go func() {
		time.Sleep(500 * time.Millisecond)
		value.Store("4")
	}()

	start := time.Now()
	changed, err := WaitForChange(context.Background(), "3", func(ctx context.Context) (string, error) {
		return value.Load().(string), nil
	}, Options{Timeout: 5 * time.Second, PollInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("WaitForChange returned error: %v", err)
	}
	if !changed {
		t.Fatal("expected changed=true")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected early return, waited %v", elapsed)
	}
}

func TestWaitForChange_TimesOutUnchanged(t *testing.T) {
	changed, err := WaitForChange(context.Background(), "same", func(ctx context.Context) (string, error) {
		return "same", nil
	}, Options{Timeout: MinTimeout, PollInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("WaitForChange returned error: %v", err)
	}
	if changed {
		t.Fatal("expected changed=false on timeout")
	}
}

func TestWaitForChange_CancelledPredicate(t *testing.T) {
	var probes int32
	_, err := WaitForChange(context.Background(), "x", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&probes, 1)
		return "x", nil
	}, Options{
		Timeout:      10 * time.Second,
		PollInterval: 20 * time.Millisecond,
		Cancelled: func(ctx context.Context) (bool, error) {
			return atomic.LoadInt32(&probes) >= 2, nil
		},
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestWaitForChange_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := WaitForChange(ctx, "x", func(ctx context.Context) (string, error) {
		return "x", nil
	}, Options{Timeout: 30 * time.Second, PollInterval: 20 * time.Millisecond})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForChange_ClampsTimeout(t *testing.T) {
	start := time.Now()
	changed, err := WaitForChange(context.Background(), "x", func(ctx context.Context) (string, error) {
		return "x", nil
	}, Options{Timeout: 10 * time.Millisecond, PollInterval: 50 * time.Millisecond})
	if err != nil || changed {
		t.Fatalf("unexpected result: changed=%v err=%v", changed, err)
	}
	if elapsed := time.Since(start); elapsed < MinTimeout {
		t.Fatalf("timeout should clamp up to %v, returned after %v", MinTimeout, elapsed)
	}

	probe := func(ctx context.Context) (string, error) { return "x", nil }
	if _, err := WaitForChange(context.Background(), "x", probe, Options{Timeout: 90 * time.Minute, PollInterval: 10 * time.Millisecond, Cancelled: func(ctx context.Context) (bool, error) {
		return true, nil
	}}); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled on oversized timeout path, got %v", err)
	}
}
