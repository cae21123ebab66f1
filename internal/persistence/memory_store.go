package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/perola/lifeline/pkg/api"
)

// InMemoryStore is a goroutine-safe HistoryStore backed by maps.
// It is non-durable and intended for tests and local development.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]api.HistoryEntry
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string][]api.HistoryEntry),
	}
}

// Ensure InMemoryStore implements HistoryStore.
var _ HistoryStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) AppendEntry(ctx context.Context, entry api.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.entries[entry.InstanceID]
	want := int64(len(log)) + 1
	if entry.Sequence != want {
		return ErrSequenceConflict
	}
	s.entries[entry.InstanceID] = append(log, entry)
	return nil
}

func (s *InMemoryStore) ListEntries(ctx context.Context, instanceID string) ([]api.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.entries[instanceID]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	out := make([]api.HistoryEntry, len(log))
	copy(out, log)
	return out, nil
}

func (s *InMemoryStore) ListInstanceIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
