package lifeline

import (
	"context"
	"database/sql"
	"time"

	"github.com/perola/lifeline/internal/activity"
	"github.com/perola/lifeline/internal/engine"
	"github.com/perola/lifeline/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	LifecycleDefinition  = api.LifecycleDefinition
	Transition           = api.Transition
	TransitionContext    = api.TransitionContext
	GuardFunc            = api.GuardFunc
	ApplyFunc            = api.ApplyFunc
	QueryFunc            = api.QueryFunc
	SyncActivity         = api.SyncActivity
	Command              = api.Command
	InstanceSnapshot     = api.InstanceSnapshot
	InstanceFilter       = api.InstanceFilter
	HistoryEntry         = api.HistoryEntry
	AuditEntry           = api.AuditEntry
	Status               = api.Status
	EntityType           = api.EntityType
	RetryPolicy          = api.RetryPolicy
	ActivityRequest      = api.ActivityRequest
	GuardViolation       = api.GuardViolation
	ActivityFailure      = api.ActivityFailure
	ReplayInconsistency  = api.ReplayInconsistency
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewGuardViolation    = api.NewGuardViolation
	IsGuardViolation     = api.IsGuardViolation
	IsActivityFailure    = api.IsActivityFailure
)

// Re-export error sentinels.

var (
	ErrInstanceNotFound  = api.ErrInstanceNotFound
	ErrLifecycleNotFound = api.ErrLifecycleNotFound
)

// Config carries the optional pieces of an engine. The zero value is usable:
// collaborator-backed activities are simply skipped when their collaborator
// is nil, and the observer defaults to a no-op.
type Config struct {
	// Observer receives lifecycle events for logging and metrics.
	Observer api.Observer

	// Clock overrides the time source, mainly for tests.
	Clock api.Clock

	// CheckInterval bounds how long an escalation loop sleeps between
	// deadline checks. Defaults to one hour.
	CheckInterval time.Duration

	// DedupeEscalations fires each overdue deadline once instead of
	// re-notifying on every check.
	DedupeEscalations bool

	// ActivityTimeout bounds each activity invocation attempt.
	ActivityTimeout time.Duration

	// ActivityRetry is the default retry policy for activity invocations.
	ActivityRetry api.RetryPolicy

	// External collaborators. Each one that is non-nil gets its standard
	// activity handler registered.
	Projection api.ProjectionWriter
	Notifier   api.Notifier
	Validator  api.RuleValidator
	Scanner    api.SecurityScanner
	Audit      api.AuditSink
}

func (c Config) engineConfig() engine.Config {
	return engine.Config{
		Collaborators: activity.Collaborators{
			Projection: c.Projection,
			Notifier:   c.Notifier,
			Validator:  c.Validator,
			Scanner:    c.Scanner,
			Audit:      c.Audit,
		},
		Observer: c.Observer,
		Clock:    c.Clock,
		Escalation: engine.EscalationConfig{
			CheckInterval:    c.CheckInterval,
			DedupePerPurpose: c.DedupeEscalations,
		},
		ActivityTimeout: c.ActivityTimeout,
		ActivityRetry:   c.ActivityRetry,
	}
}

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
// History is lost when the process exits; use NewSQLiteEngine for
// crash-recoverable instances.
func NewInMemoryEngine(cfg Config) Engine {
	return engine.NewInMemoryDispatcher(cfg.engineConfig())
}

// NewSQLiteEngine returns an Engine that persists instance history in a
// SQLite database. Lifecycle definitions are kept in-memory and must be
// re-registered on startup before calling RecoverInstances.
func NewSQLiteEngine(db *sql.DB, cfg Config) (Engine, error) {
	return engine.NewSQLiteDispatcher(db, cfg.engineConfig())
}

// Convenience helpers that just forward to the underlying Engine.

// CreateInstance enters an entity into its registered lifecycle.
func CreateInstance(ctx context.Context, eng Engine, entityType EntityType, entityID, actor string, seed map[string]any) (*InstanceSnapshot, error) {
	return eng.CreateInstance(ctx, entityType, entityID, actor, seed)
}

// DeliverSignal delivers a command to an instance and returns the resulting
// version.
func DeliverSignal(ctx context.Context, eng Engine, instanceID string, cmd Command) (int64, error) {
	return eng.DeliverSignal(ctx, instanceID, cmd)
}

// GetInstance fetches an instance snapshot by ID.
func GetInstance(ctx context.Context, eng Engine, id string) (*InstanceSnapshot, error) {
	return eng.GetInstance(ctx, id)
}

// ListInstances lists resident instances matching the filter.
func ListInstances(ctx context.Context, eng Engine, filter InstanceFilter) ([]*InstanceSnapshot, error) {
	return eng.ListInstances(ctx, filter)
}

// RecoverInstances delegates to eng.RecoverInstances.
//
// It is typically called on process startup, after registering lifecycles
// and before starting any workers:
//
//	count, err := lifeline.RecoverInstances(ctx, engine)
func RecoverInstances(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverInstances(ctx)
}
