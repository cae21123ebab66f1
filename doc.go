// Package lifeline provides a durable, per-entity lifecycle engine for Go.
//
// Lifeline is designed for backend services that track business entities
// (documents, applications, projects) through long-lived approval and
// escalation processes without introducing heavy workflow infrastructure.
// It runs fully in Go, supports in-memory and SQLite persistence, and
// integrates cleanly into existing codebases.
//
// # Core Concepts
//
// The Lifeline programming model is intentionally small:
//
//  1. Engine
//  2. LifecycleDefinition
//  3. Signals and Guards
//  4. History Log
//  5. Activities and Workers
//
// # Engine
//
// The Engine hosts lifecycle definitions and the running instances of those
// lifecycles. It provides APIs to:
//   - create instances (enter an entity into its lifecycle)
//   - deliver signals that drive status transitions
//   - run read-only queries against instance state
//   - read history and audit trails
//   - recover all persisted instances after a restart
//
// Every accepted transition is committed to an append-only history log
// before its side effects run; the log is the source of truth, and an
// instance's state is always reproducible by replaying it from the first
// entry. Rejected signals leave no history behind.
//
// # LifecycleDefinition
//
// A LifecycleDefinition is a fixed table of statuses and guarded
// transitions for one entity type, together with a state document the
// transitions mutate. Definitions are registered into an Engine before
// instances are created, either literally or via LifecycleBuilder:
//
//	lifeline.NewLifecycle("ticket", "open").
//	    Statuses("open", "closed").
//	    Terminal("closed").
//	    State(func() any { return &TicketState{} }).
//	    Transition("close", lifeline.From("open"), "closed", closeOut).
//	    MustRegister(engine)
//
// The entity package ships production definitions for a document approval
// lifecycle and a compact project lifecycle.
//
// # Signals and Guards
//
// Signals are delivered as Commands. A signal is accepted only when the
// instance's current status admits it and the transition's guard passes;
// otherwise the engine returns a GuardViolation and the instance is
// unchanged. Accepted signals increment the instance version by exactly
// one, so versions count accepted transitions.
//
// Transitions run one at a time per instance. Concurrent deliveries are
// serialized, and each is guarded against the state its predecessors left
// behind.
//
// # Activities and Workers
//
// Transitions stage side effects (projection writes, notifications, audit
// exports) instead of performing them inline. Effects run after the
// transition commits, through an invoker that applies per-attempt timeouts
// and exponential backoff, and their outcomes are recorded back into
// history. With a durable queue (see NewSQLiteBundle) effects survive
// crashes and are delivered at least once; every request carries a stable
// idempotency key so downstream systems can deduplicate.
//
// Deadlines declared by the state document (review due, approval due) are
// watched per instance; overdue deadlines fire escalation effects until the
// deadline is cleared or the instance reaches a terminal status.
//
// # Getting Started
//
// The quickest path is the LocalRunner, which bundles an in-memory engine,
// queue, and worker:
//
//	runner := lifeline.NewLocalRunner(lifeline.Config{})
//	defer runner.Stop()
//
// For durability, open a SQLite database and use NewSQLiteEngine or
// NewSQLiteBundle, re-register lifecycles on startup, then call
// RecoverInstances before accepting traffic.
//
// See the examples directory for complete programs.
package lifeline
