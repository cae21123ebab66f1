package persistence

import (
	"context"
	"errors"

	"github.com/perola/lifeline/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when no history exists for an instance.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrSequenceConflict is returned when an append reuses a sequence
	// number. The executor is the single writer per instance, so a
	// conflict indicates a second writer or a replayed append.
	ErrSequenceConflict = errors.New("history sequence conflict")
)

// HistoryStore is the append-only, ordered store for instance history logs.
// It is the only durable shared resource the core depends on.
type HistoryStore interface {
	// AppendEntry appends one entry. Entries for an instance must arrive
	// with strictly increasing, gap-free sequence numbers starting at 1.
	AppendEntry(ctx context.Context, entry api.HistoryEntry) error

	// ListEntries returns the full history for an instance in sequence
	// order. It returns ErrInstanceNotFound when no entries exist.
	ListEntries(ctx context.Context, instanceID string) ([]api.HistoryEntry, error)

	// ListInstanceIDs returns the IDs of all instances with history,
	// for startup recovery.
	ListInstanceIDs(ctx context.Context) ([]string, error)
}
