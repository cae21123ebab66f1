package lifeline

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/perola/lifeline/internal/engine"
	"github.com/perola/lifeline/internal/taskqueue"
	"github.com/perola/lifeline/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a
// Worker to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := lifeline.NewLocalRunner(lifeline.Config{Notifier: mailer})
//	if err := runner.Engine.RegisterLifecycle(entity.DocumentLifecycle(rules)); err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = runner.StartWorkers(ctx, 2)
//	snap, err := runner.Engine.CreateInstance(ctx, api.EntityDocument, "doc-1", "alice", seed)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory lifecycle engine used by this runner.
	Engine Engine

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker delivers staged effects from Queue.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine and
// an in-memory queue.
//
// This is intended for local development, tests, and simple single-process
// deployments. Effects staged on the queue are lost on process exit; use
// NewSQLiteBundle for durability.
func NewLocalRunner(cfg Config) *LocalRunner {
	q := taskqueue.NewInMemoryQueue(1024)

	ec := cfg.engineConfig()
	ec.Queue = q

	disp := engine.NewInMemoryDispatcher(ec)
	w := worker.New(disp, q, disp.Invoker())

	return &LocalRunner{
		Engine: disp,
		Queue:  q,
		Worker: w,
	}
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("lifeline: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()

			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if err != nil {
					// For local runner we treat cancellation as a clean shutdown signal.
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// For other errors, log and keep going so a single bad task
					// doesn't kill the worker loop.
					log.Printf("lifeline: local runner worker error: %v", err)
					continue
				}
				if !processed && ctx.Err() != nil {
					return
				}
			}
		}()
	}

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
