package taskqueue

import (
	"context"
	"time"
)

// Task is one queued side effect: an activity to invoke on behalf of an
// instance. Tasks give fire-and-forget effects (notifications, projection
// updates, audit exports) at-least-once delivery across crashes when a
// durable queue backend is used.
type Task struct {
	ID string

	InstanceID string

	// Sequence is the history sequence of the transition that staged this
	// effect; together with Activity it determines the idempotency key.
	Sequence int64

	Activity string
	Args     map[string]any

	// IdempotencyKey is stable across redelivery so downstream systems
	// can deduplicate.
	IdempotencyKey string

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately".
	NotBefore time.Time

	// Attempts counts prior delivery attempts (for requeued tasks).
	Attempts int
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until
	// one is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
