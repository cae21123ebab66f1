package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perola/lifeline/internal/activity"
	"github.com/perola/lifeline/internal/persistence"
	"github.com/perola/lifeline/internal/taskqueue"
	"github.com/perola/lifeline/pkg/api"
)

// Dispatcher implements api.Engine: it owns the lifecycle registry and the
// instance registry (instance id -> executor handle) and routes inbound
// signals and queries to the right executor. Instances not resident in
// memory are recovered on demand by replaying their history log.
type Dispatcher struct {
	lifecycles *lifecycleRegistry
	store      persistence.HistoryStore
	invoker    *activity.Invoker
	queue      taskqueue.Queue
	observer   api.Observer
	clock      api.Clock
	escCfg     EscalationConfig

	mu        sync.RWMutex
	executors map[string]*Executor
	closed    bool
}

// Config describes how to construct a Dispatcher.
type Config struct {
	Store persistence.HistoryStore

	// Queue, when set, carries fire-and-forget side effects to background
	// workers with at-least-once delivery. When nil, effects run inline
	// after each commit.
	Queue taskqueue.Queue

	// Collaborators back the standard activity handlers.
	Collaborators activity.Collaborators

	Observer api.Observer
	Clock    api.Clock

	Escalation EscalationConfig

	// ActivityTimeout bounds each activity attempt.
	ActivityTimeout time.Duration

	// ActivityRetry applies to transient activity failures.
	ActivityRetry api.RetryPolicy
}

// NewDispatcher creates a Dispatcher with the given configuration.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Store == nil {
		cfg.Store = persistence.NewInMemoryStore()
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Clock == nil {
		cfg.Clock = api.SystemClock()
	}

	inv := activity.NewInvoker(activity.Config{
		Timeout: cfg.ActivityTimeout,
		Retry:   cfg.ActivityRetry,
		Clock:   cfg.Clock,
	})
	activity.RegisterStandardHandlers(inv, cfg.Collaborators)

	return &Dispatcher{
		lifecycles: newLifecycleRegistry(),
		store:      cfg.Store,
		invoker:    inv,
		queue:      cfg.Queue,
		observer:   cfg.Observer,
		clock:      cfg.Clock,
		escCfg:     cfg.Escalation,
		executors:  make(map[string]*Executor),
	}
}

// NewInMemoryDispatcher returns a Dispatcher backed entirely by in-memory
// stores, with side effects dispatched inline.
func NewInMemoryDispatcher(cfg Config) *Dispatcher {
	cfg.Store = persistence.NewInMemoryStore()
	return NewDispatcher(cfg)
}

// NewSQLiteDispatcher returns a Dispatcher that persists history logs in
// the given SQLite database.
func NewSQLiteDispatcher(db *sql.DB, cfg Config) (*Dispatcher, error) {
	store, err := persistence.NewSQLiteHistoryStore(db)
	if err != nil {
		return nil, err
	}
	cfg.Store = store
	return NewDispatcher(cfg), nil
}

// Ensure Dispatcher implements api.Engine.
var _ api.Engine = (*Dispatcher)(nil)

// Invoker exposes the activity invoker so callers can register custom
// handlers beyond the standard set.
func (d *Dispatcher) Invoker() *activity.Invoker { return d.invoker }

func (d *Dispatcher) RegisterLifecycle(def api.LifecycleDefinition) error {
	return d.lifecycles.Register(def)
}

func (d *Dispatcher) CreateInstance(ctx context.Context, entityType api.EntityType, entityID, actor string, seed map[string]any) (*api.InstanceSnapshot, error) {
	def, err := d.lifecycles.Get(entityType)
	if err != nil {
		return nil, err
	}

	instanceID := uuid.NewString()
	ex, err := newInstance(ctx, def, d.deps(), instanceID, entityID, actor, seed)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		ex.Stop()
		return nil, errors.New("dispatcher is closed")
	}
	d.executors[instanceID] = ex
	d.mu.Unlock()

	snap, err := ex.Snapshot()
	if err != nil {
		return nil, err
	}
	d.observer.OnInstanceCreated(ctx, snap)
	return snap, nil
}

func (d *Dispatcher) DeliverSignal(ctx context.Context, instanceID string, cmd api.Command) (int64, error) {
	ex, err := d.executor(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	return ex.Submit(ctx, cmd)
}

func (d *Dispatcher) RunQuery(ctx context.Context, instanceID, query string) (any, error) {
	ex, err := d.executor(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return ex.Query(query)
}

func (d *Dispatcher) GetInstance(ctx context.Context, instanceID string) (*api.InstanceSnapshot, error) {
	ex, err := d.executor(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return ex.Snapshot()
}

func (d *Dispatcher) ListInstances(ctx context.Context, filter api.InstanceFilter) ([]*api.InstanceSnapshot, error) {
	d.mu.RLock()
	executors := make([]*Executor, 0, len(d.executors))
	for _, ex := range d.executors {
		executors = append(executors, ex)
	}
	d.mu.RUnlock()

	var out []*api.InstanceSnapshot
	for _, ex := range executors {
		snap, err := ex.Snapshot()
		if err != nil {
			return nil, err
		}
		if filter.EntityType != "" && snap.EntityType != filter.EntityType {
			continue
		}
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (d *Dispatcher) History(ctx context.Context, instanceID string) ([]api.HistoryEntry, error) {
	ex, err := d.executor(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return ex.History(ctx)
}

func (d *Dispatcher) AuditTrail(ctx context.Context, instanceID string) ([]api.AuditEntry, error) {
	ex, err := d.executor(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	snap, err := ex.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.AuditTrail, nil
}

func (d *Dispatcher) RecordActivityResult(ctx context.Context, req api.ActivityRequest, result map[string]any, invokeErr error) error {
	ex, err := d.executor(ctx, req.InstanceID)
	if err != nil {
		return err
	}
	return ex.RecordActivityResult(ctx, req, result, invokeErr)
}

// RecoverInstances replays every persisted history log and re-registers the
// resulting executors, restarting escalation loops where due dates remain
// outstanding. It is intended to be called once on process startup, before
// accepting new signals.
func (d *Dispatcher) RecoverInstances(ctx context.Context) (int, error) {
	ids, err := d.store.ListInstanceIDs(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		d.mu.RLock()
		_, resident := d.executors[id]
		d.mu.RUnlock()
		if resident {
			continue
		}
		if _, err := d.recover(ctx, id); err != nil {
			// Replay inconsistencies are fatal for the instance and must
			// not be swallowed.
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Close stops all escalation loops and rejects further use.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for _, ex := range d.executors {
		ex.Stop()
	}
	return nil
}

func (d *Dispatcher) deps() executorDeps {
	return executorDeps{
		store:    d.store,
		invoker:  d.invoker,
		queue:    d.queue,
		observer: d.observer,
		clock:    d.clock,
		escCfg:   d.escCfg,
	}
}

// executor returns the resident executor for an instance, recovering it
// from the history store if needed.
func (d *Dispatcher) executor(ctx context.Context, instanceID string) (*Executor, error) {
	d.mu.RLock()
	ex, ok := d.executors[instanceID]
	closed := d.closed
	d.mu.RUnlock()
	if ok {
		return ex, nil
	}
	if closed {
		return nil, errors.New("dispatcher is closed")
	}
	return d.recover(ctx, instanceID)
}

func (d *Dispatcher) recover(ctx context.Context, instanceID string) (*Executor, error) {
	entries, err := d.store.ListEntries(ctx, instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, instanceID)
		}
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, instanceID)
	}

	entityType := api.EntityType(stringPayload(entries[0].Payload, "entity_type"))
	def, err := d.lifecycles.Get(entityType)
	if err != nil {
		return nil, err
	}

	ex, err := loadInstance(def, d.deps(), entries)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.executors[instanceID]; ok {
		// Lost a recovery race; keep the first one.
		ex.Stop()
		return existing, nil
	}
	d.executors[instanceID] = ex
	return ex, nil
}
