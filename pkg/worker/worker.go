package worker

import (
	"context"
	"sync"
	"time"

	"github.com/perola/lifeline/internal/activity"
	"github.com/perola/lifeline/internal/taskqueue"
	"github.com/perola/lifeline/pkg/api"
)

// Worker pulls activity tasks from a Queue, invokes them, and reports the
// results back to the engine so they are recorded in instance history.
type Worker struct {
	engine  api.Engine
	queue   taskqueue.Queue
	invoker *activity.Invoker
}

// New creates a new Worker.
func New(engine api.Engine, queue taskqueue.Queue, invoker *activity.Invoker) *Worker {
	return &Worker{
		engine:  engine,
		queue:   queue,
		invoker: invoker,
	}
}

// Enqueue adds an activity task to the queue for asynchronous processing.
// It does NOT invoke the activity itself; that is done by ProcessOne.
func (w *Worker) Enqueue(ctx context.Context, req api.ActivityRequest) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		InstanceID:     req.InstanceID,
		Sequence:       req.Sequence,
		Activity:       req.Activity,
		Args:           req.Args,
		IdempotencyKey: req.IdempotencyKey,
		EnqueuedAt:     time.Now(),
	})
}

// EnqueueAt adds an activity task that becomes eligible for processing no
// earlier than 'at'.
func (w *Worker) EnqueueAt(ctx context.Context, req api.ActivityRequest, at time.Time) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		InstanceID:     req.InstanceID,
		Sequence:       req.Sequence,
		Activity:       req.Activity,
		Args:           req.Args,
		IdempotencyKey: req.IdempotencyKey,
		EnqueuedAt:     time.Now(),
		NotBefore:      at,
	})
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (context cancelled or queue error)
//   - processed == true: a task was processed; err reflects the recording step,
//     not the activity outcome, which is written to history either way.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	req := api.ActivityRequest{
		InstanceID:     task.InstanceID,
		Sequence:       task.Sequence,
		Activity:       task.Activity,
		Args:           task.Args,
		IdempotencyKey: task.IdempotencyKey,
	}

	result, invokeErr := w.invoker.Invoke(ctx, req)
	return true, w.engine.RecordActivityResult(ctx, req, result, invokeErr)
}

// Run processes tasks until ctx is cancelled, using n concurrent handlers.
// It returns after all handlers have drained.
func (w *Worker) Run(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := w.ProcessOne(ctx); err != nil && ctx.Err() != nil {
					return
				}
				if ctx.Err() != nil {
					return
				}
			}
		}()
	}
	wg.Wait()
}
