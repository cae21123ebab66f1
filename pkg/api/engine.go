package api

import "context"

// Engine is the high-level entry point: it owns the instance registry and
// routes signals and queries to the executor for each instance.
type Engine interface {
	// RegisterLifecycle registers a lifecycle definition by entity type.
	RegisterLifecycle(def LifecycleDefinition) error

	// CreateInstance starts a new instance for the given entity and seeds
	// its history with the creation entry.
	CreateInstance(ctx context.Context, entityType EntityType, entityID, actor string, seed map[string]any) (*InstanceSnapshot, error)

	// DeliverSignal routes a command to the instance's executor. It
	// returns the new version when the signal is accepted into history,
	// or a *GuardViolation / *ActivityFailure when it is not.
	DeliverSignal(ctx context.Context, instanceID string, cmd Command) (int64, error)

	// RunQuery returns a read-only projection of the instance's last
	// committed state. The reserved query "snapshot" returns the full
	// snapshot; other names must be declared by the lifecycle.
	RunQuery(ctx context.Context, instanceID, query string) (any, error)

	// GetInstance returns the full snapshot for an instance.
	GetInstance(ctx context.Context, instanceID string) (*InstanceSnapshot, error)

	// ListInstances returns snapshots matching the given filter.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*InstanceSnapshot, error)

	// History returns the instance's complete ordered history log.
	History(ctx context.Context, instanceID string) ([]HistoryEntry, error)

	// AuditTrail returns the instance's append-only audit trail.
	AuditTrail(ctx context.Context, instanceID string) ([]AuditEntry, error)

	// RecordActivityResult reports the outcome of an asynchronously
	// dispatched activity back to the owning instance, appending an
	// activity.completed or activity.failed entry. Results arriving after
	// the instance reached a terminal status are recorded but no longer
	// mutate state.
	RecordActivityResult(ctx context.Context, req ActivityRequest, result map[string]any, invokeErr error) error

	// RecoverInstances reloads every persisted instance by replaying its
	// history log and restarts escalation loops where due dates are still
	// outstanding. It is intended to be called once on process startup,
	// before accepting new signals. It returns the number of instances
	// recovered.
	RecoverInstances(ctx context.Context) (int, error)

	// Close stops all escalation loops and releases the registry.
	Close() error
}
