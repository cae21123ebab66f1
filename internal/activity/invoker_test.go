package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/perola/lifeline/pkg/api"
)

// recordClock returns instantly from After while remembering each requested
// delay, so backoff schedules can be asserted without sleeping.
type recordClock struct {
	delays []time.Duration
}

func (c *recordClock) Now() time.Time { return time.Unix(0, 0) }

func (c *recordClock) After(d time.Duration) <-chan time.Time {
	c.delays = append(c.delays, d)
	ch := make(chan time.Time, 1)
	ch <- time.Unix(0, 0)
	return ch
}

func TestInvokeUnknownActivity(t *testing.T) {
	inv := NewInvoker(Config{})

	_, err := inv.Invoke(context.Background(), api.ActivityRequest{Activity: "no-such"})
	var af *api.ActivityFailure
	if !errors.As(err, &af) {
		t.Fatalf("expected *ActivityFailure, got %v", err)
	}
	if af.Activity != "no-such" || af.Attempts != 0 {
		t.Fatalf("unexpected failure: %+v", af)
	}
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	inv := NewInvoker(Config{
		Retry: api.RetryPolicy{MaxAttempts: 3},
	})

	attempts := 0
	inv.Register("flaky", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return map[string]any{"ok": true}, nil
	})

	result, err := inv.Invoke(context.Background(), api.ActivityRequest{Activity: "flaky"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if result["ok"] != true {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestInvokeExhaustedRetriesReturnActivityFailure(t *testing.T) {
	inv := NewInvoker(Config{
		Retry: api.RetryPolicy{MaxAttempts: 2},
	})

	boom := errors.New("downstream down")
	inv.Register("doomed", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, boom
	})

	_, err := inv.Invoke(context.Background(), api.ActivityRequest{Activity: "doomed"})
	var af *api.ActivityFailure
	if !errors.As(err, &af) {
		t.Fatalf("expected *ActivityFailure, got %v", err)
	}
	if af.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", af.Attempts)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("failure should wrap the handler error, got %v", err)
	}
}

func TestInvokeBackoffGrowsExponentiallyWithCap(t *testing.T) {
	clock := &recordClock{}
	inv := NewInvoker(Config{
		Retry: api.RetryPolicy{
			MaxAttempts:       5,
			InitialBackoff:    100 * time.Millisecond,
			BackoffMultiplier: 2.0,
			MaxBackoff:        300 * time.Millisecond,
		},
		Clock: clock,
	})

	inv.Register("doomed", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, errors.New("still down")
	})

	_, err := inv.Invoke(context.Background(), api.ActivityRequest{Activity: "doomed"})
	if err == nil {
		t.Fatal("expected failure")
	}

	// 4 sleeps between 5 attempts: 100ms, 200ms, then capped at 300ms.
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}
	if len(clock.delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), clock.delays)
	}
	for i, d := range want {
		if clock.delays[i] != d {
			t.Fatalf("sleep %d = %v, want %v", i, clock.delays[i], d)
		}
	}
}

func TestInvokeTimeoutBoundsEachAttempt(t *testing.T) {
	inv := NewInvoker(Config{Timeout: 30 * time.Millisecond})

	inv.Register("slow", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return map[string]any{}, nil
		}
	})

	start := time.Now()
	_, err := inv.Invoke(context.Background(), api.ActivityRequest{Activity: "slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("timeout did not bound the attempt: %v", elapsed)
	}
}

func TestInvokeInjectsIdentityArgs(t *testing.T) {
	inv := NewInvoker(Config{})

	var seen map[string]any
	inv.Register("echo", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		seen = args
		return nil, nil
	})

	req := api.ActivityRequest{
		InstanceID:     "inst-1",
		Sequence:       4,
		Activity:       "echo",
		Args:           map[string]any{"custom": "value"},
		IdempotencyKey: IdempotencyKey("inst-1", 4, "echo"),
	}
	if _, err := inv.Invoke(context.Background(), req); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if seen["instance_id"] != "inst-1" {
		t.Fatalf("instance_id not injected: %v", seen)
	}
	if seen["idempotency_key"] != req.IdempotencyKey {
		t.Fatalf("idempotency_key not injected: %v", seen)
	}
	if seen["custom"] != "value" {
		t.Fatalf("caller args lost: %v", seen)
	}
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	k1 := IdempotencyKey("inst-1", 4, "notify")
	k2 := IdempotencyKey("inst-1", 4, "notify")
	if k1 != k2 {
		t.Fatalf("key not stable: %s vs %s", k1, k2)
	}

	if IdempotencyKey("inst-1", 5, "notify") == k1 {
		t.Fatal("key must vary with sequence")
	}
	if IdempotencyKey("inst-1", 4, "persist-status") == k1 {
		t.Fatal("key must vary with activity")
	}
	if IdempotencyKey("inst-2", 4, "notify") == k1 {
		t.Fatal("key must vary with instance")
	}
}
