// Package api defines the public types of the lifeline engine: lifecycle
// definitions, commands, history and audit records, the Engine interface,
// collaborator interfaces, and observers.
//
// # Model
//
// Every tracked entity (a document, an application, a project) gets one
// workflow instance. The instance's durable representation is its history
// log: an append-only, ordered sequence of entries recording every accepted
// signal, every activity result and every timer firing. In-memory state is
// always a deterministic fold of that log, which is what makes instances
// recoverable after a crash without a transactional write per mutation.
//
// A LifecycleDefinition declares the shape of one entity type's lifecycle:
// its statuses, its guard/transition table, its queries, and how overdue
// deadlines escalate. Lifecycles are fixed at compile time.
//
// # Signals, queries, guards
//
// A Command (signal) attempts one transition. Its guard runs first; on
// rejection the command is discarded, never recorded. On acceptance the
// transition is appended to history and applied, and any staged side
// effects are handed to the activity layer. Queries never mutate anything:
// they read the last committed snapshot.
//
// # Errors
//
// Three failure classes are distinguished: GuardViolation (caller error,
// synchronous, never retried), ActivityFailure (a side effect exhausted its
// retries; the instance stays put and the failure is audited), and
// ReplayInconsistency (a history log that no longer folds deterministically;
// fatal for the instance).
package api
