// Package worker provides the background worker that delivers an instance's
// staged side effects.
//
// When the engine commits a transition it stages effect requests (projection
// updates, notifications, audit exports) on a task queue. Workers consume
// those tasks, invoke the corresponding activity with retries and timeouts,
// and report the outcome back to the engine so it is recorded in the
// instance's history.
//
// Workers are long-lived components that typically run in dedicated
// goroutines. Multiple workers can safely operate on the same queue to scale
// processing, and a durable queue backend gives effects at-least-once
// delivery across crashes. Every task carries an idempotency key that is
// stable across redelivery so downstream systems can deduplicate.
//
// Most applications construct workers via helper functions in the lifeline
// package, which wire engines, queues, and invokers together with sensible
// defaults. The worker package is useful when implementing custom worker
// behavior or new queue backends.
package worker
