package api

import "time"

// HistoryKind identifies one kind of history log entry.
type HistoryKind string

const (
	HistoryInstanceCreated   HistoryKind = "instance.created"
	HistorySignalReceived    HistoryKind = "signal.received"
	HistoryActivityCompleted HistoryKind = "activity.completed"
	HistoryActivityFailed    HistoryKind = "activity.failed"
	HistoryTimerFired        HistoryKind = "timer.fired"
)

// HistoryEntry is the immutable record of one accepted operation on an
// instance. The ordered sequence of entries is the durable source of truth:
// replaying them from empty state reconstructs the instance exactly.
//
// Entries are exclusively appended by the executor that owns the instance
// and are never shared across instances.
type HistoryEntry struct {
	InstanceID string

	// Sequence is the entry's position in the instance history, starting
	// at 1 for the creation entry.
	Sequence int64

	Kind HistoryKind

	// Signal is set for signal.received entries.
	Signal string

	// Activity is set for activity.completed / activity.failed entries.
	Activity string

	// Actor is the identity that caused this entry, when known.
	Actor string

	// Payload carries entry-specific data: command args for signals,
	// activity results for completions, the failure reason for failures,
	// and the overdue purpose for timer firings.
	Payload map[string]any

	// ResultingVersion is the instance version after this entry was
	// applied. Only accepted signals increment the version.
	ResultingVersion int64

	// At is the wall-clock time the entry was committed. Replay uses this
	// recorded time, never the current clock, so folds are deterministic.
	At time.Time
}
