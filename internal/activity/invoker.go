// Package activity executes named side-effecting operations on behalf of
// workflow instances, with bounded timeouts, retry with backoff, and stable
// idempotency keys so downstream systems can deduplicate redeliveries.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perola/lifeline/pkg/api"
)

// idempotencyNamespace scopes the deterministic activity keys.
var idempotencyNamespace = uuid.MustParse("9f2c1b44-7b3a-4c21-9e6d-5a0f8e2d4c17")

// IdempotencyKey derives the stable key for one activity invocation from
// (instanceID, sequence, activity). Retries and crash/redelivery of the
// same invocation always produce the same key.
func IdempotencyKey(instanceID string, sequence int64, activityName string) string {
	data := fmt.Sprintf("%s/%d/%s", instanceID, sequence, activityName)
	return uuid.NewSHA1(idempotencyNamespace, []byte(data)).String()
}

// Handler executes one named activity. The idempotency key is available in
// args under "idempotency_key".
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Invoker routes activity requests to registered handlers, applying a
// per-attempt timeout and a retry policy with exponential backoff.
// It is safe for concurrent use across many instances.
type Invoker struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	timeout time.Duration
	retry   api.RetryPolicy
	clock   api.Clock
}

// Config controls invocation behavior.
type Config struct {
	// Timeout bounds each individual attempt. Zero means no bound beyond
	// the caller's context.
	Timeout time.Duration

	// Retry applies to transient failures. Zero value means one attempt.
	Retry api.RetryPolicy

	Clock api.Clock
}

// NewInvoker creates an Invoker with the given config.
func NewInvoker(cfg Config) *Invoker {
	clock := cfg.Clock
	if clock == nil {
		clock = api.SystemClock()
	}
	return &Invoker{
		handlers: make(map[string]Handler),
		timeout:  cfg.Timeout,
		retry:    cfg.Retry,
		clock:    clock,
	}
}

// Register binds a handler to an activity name, replacing any previous one.
func (inv *Invoker) Register(name string, h Handler) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.handlers[name] = h
}

// Invoke executes the requested activity. Transient handler errors are
// retried per the policy; exhausted retries surface as *api.ActivityFailure.
func (inv *Invoker) Invoke(ctx context.Context, req api.ActivityRequest) (map[string]any, error) {
	inv.mu.RLock()
	h, ok := inv.handlers[req.Activity]
	inv.mu.RUnlock()
	if !ok {
		return nil, &api.ActivityFailure{
			Activity: req.Activity,
			Attempts: 0,
			Err:      fmt.Errorf("no handler registered for activity %q", req.Activity),
		}
	}

	args := make(map[string]any, len(req.Args)+2)
	for k, v := range req.Args {
		args[k] = v
	}
	args["instance_id"] = req.InstanceID
	args["idempotency_key"] = req.IdempotencyKey

	maxAttempts := 1
	var (
		backoff    time.Duration
		maxBackoff time.Duration
		multiplier float64
	)
	if inv.retry.MaxAttempts > 0 {
		maxAttempts = inv.retry.MaxAttempts
	}
	backoff = inv.retry.InitialBackoff
	if backoff <= 0 {
		backoff = inv.retry.Backoff
	}
	maxBackoff = inv.retry.MaxBackoff
	multiplier = inv.retry.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, &api.ActivityFailure{Activity: req.Activity, Attempts: attempt - 1, Err: ctx.Err()}
		default:
		}

		result, err := inv.invokeOnce(ctx, h, args)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		if backoff > 0 {
			delay := backoff
			if maxBackoff > 0 && delay > maxBackoff {
				delay = maxBackoff
			}
			select {
			case <-ctx.Done():
				return nil, &api.ActivityFailure{Activity: req.Activity, Attempts: attempt, Err: ctx.Err()}
			case <-inv.clock.After(delay):
			}
			next := time.Duration(float64(backoff) * multiplier)
			if maxBackoff > 0 && next > maxBackoff {
				backoff = maxBackoff
			} else {
				backoff = next
			}
		}
	}

	return nil, &api.ActivityFailure{Activity: req.Activity, Attempts: maxAttempts, Err: lastErr}
}

func (inv *Invoker) invokeOnce(ctx context.Context, h Handler, args map[string]any) (map[string]any, error) {
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}
	return h(ctx, args)
}
