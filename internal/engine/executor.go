package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perola/lifeline/internal/activity"
	"github.com/perola/lifeline/internal/persistence"
	"github.com/perola/lifeline/internal/taskqueue"
	"github.com/perola/lifeline/pkg/api"
)

// Executor owns one instance's state and is its single writer. All mutating
// entry points (Submit, RecordActivityResult, timer firings) serialize on
// one mutex, so no two transitions for the same instance ever run
// concurrently and no intra-instance locking is needed anywhere else.
// Queries never take the write path: they read the last committed snapshot
// under a read lock.
type Executor struct {
	def      api.LifecycleDefinition
	store    persistence.HistoryStore
	invoker  *activity.Invoker
	queue    taskqueue.Queue // nil: effects run inline after commit
	observer api.Observer
	clock    api.Clock

	// mu serializes mutating operations. A Submit that suspends on a
	// synchronous activity (the security scan) holds it for the duration,
	// which is the required block-new-mutations-during-in-flight design.
	mu sync.Mutex

	// snapMu guards the committed state for lock-free-ish reads.
	snapMu sync.RWMutex
	st     *instanceState

	esc *escalationLoop
}

type executorDeps struct {
	store    persistence.HistoryStore
	invoker  *activity.Invoker
	queue    taskqueue.Queue
	observer api.Observer
	clock    api.Clock
	escCfg   EscalationConfig
}

// newInstance creates a brand-new instance: it seeds the history log with
// the creation entry and returns an executor owning the folded state.
func newInstance(ctx context.Context, def api.LifecycleDefinition, deps executorDeps,
	instanceID, entityID, actor string, seed map[string]any) (*Executor, error) {

	payload := make(map[string]any, len(seed)+2)
	for k, v := range seed {
		payload[k] = v
	}
	payload["entity_type"] = string(def.EntityType)
	payload["entity_id"] = entityID

	entry := api.HistoryEntry{
		InstanceID:       instanceID,
		Sequence:         1,
		Kind:             api.HistoryInstanceCreated,
		Actor:            actor,
		Payload:          payload,
		ResultingVersion: 1,
		At:               deps.clock.Now(),
	}

	st := &instanceState{}
	effects, err := applyEntry(def, st, entry)
	if err != nil {
		return nil, err
	}
	if err := deps.store.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	e := &Executor{
		def:      def,
		store:    deps.store,
		invoker:  deps.invoker,
		queue:    deps.queue,
		observer: deps.observer,
		clock:    deps.clock,
		st:       st,
	}
	e.esc = newEscalationLoop(e, deps.escCfg)

	e.mu.Lock()
	e.dispatchEffects(ctx, entry.Sequence, effects)
	e.mu.Unlock()

	e.esc.refresh()
	return e, nil
}

// loadInstance rebuilds an executor from a persisted history log.
func loadInstance(def api.LifecycleDefinition, deps executorDeps, entries []api.HistoryEntry) (*Executor, error) {
	st, err := rehydrate(def, entries)
	if err != nil {
		return nil, err
	}
	e := &Executor{
		def:      def,
		store:    deps.store,
		invoker:  deps.invoker,
		queue:    deps.queue,
		observer: deps.observer,
		clock:    deps.clock,
		st:       st,
	}
	e.esc = newEscalationLoop(e, deps.escCfg)
	e.esc.refresh()
	return e, nil
}

// Submit validates the command against the current status, and on success
// appends the transition to history, applies it, and dispatches any staged
// side effects. It returns the new version, or a *GuardViolation /
// *ActivityFailure with state untouched.
func (e *Executor) Submit(ctx context.Context, cmd api.Command) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.committed()

	t, ok := e.def.FindTransition(cmd.Signal)
	if !ok {
		err := api.NewGuardViolation(cmd.Signal, st.status, "unknown signal")
		e.rejected(ctx, cmd.Signal, err)
		return 0, err
	}

	if e.def.IsTerminal(st.status) && !t.FromTerminal {
		err := api.NewGuardViolation(cmd.Signal, st.status, "instance is in a terminal status")
		e.rejected(ctx, cmd.Signal, err)
		return 0, err
	}

	if len(t.From) > 0 && !statusIn(st.status, t.From) {
		err := api.NewGuardViolation(cmd.Signal, st.status, "")
		e.rejected(ctx, cmd.Signal, err)
		return 0, err
	}

	if t.Guard != nil {
		guardCtx := &api.TransitionContext{
			InstanceID: st.id,
			EntityType: st.entityType,
			EntityID:   st.entityID,
			Status:     st.status,
			Version:    st.version,
			Sequence:   st.seq + 1,
			Now:        e.clock.Now(),
			Command:    cmd,
			State:      st.state,
		}
		if err := t.Guard(ctx, guardCtx); err != nil {
			e.rejected(ctx, cmd.Signal, err)
			return 0, err
		}
	}

	// Synchronous activity (e.g. the security scan) runs before the
	// transition commits. Failure abandons the transition: the instance
	// keeps its pre-transition status and only the failure fact is
	// recorded.
	var syncResult map[string]any
	if t.Sync != nil {
		result, err := e.invokeSync(ctx, st, t, cmd)
		if err != nil {
			return 0, err
		}
		syncResult = result
	}

	entry := api.HistoryEntry{
		InstanceID:       st.id,
		Sequence:         st.seq + 1,
		Kind:             api.HistorySignalReceived,
		Signal:           cmd.Signal,
		Actor:            cmd.RequestedBy,
		Payload:          cmd.Args,
		ResultingVersion: st.version + 1,
		At:               e.clock.Now(),
	}

	next, effects, err := e.commitEntry(ctx, entry)
	if err != nil {
		return 0, err
	}

	if syncResult != nil {
		resEntry := api.HistoryEntry{
			InstanceID:       next.id,
			Sequence:         next.seq + 1,
			Kind:             api.HistoryActivityCompleted,
			Activity:         t.Sync.Activity,
			Actor:            "system",
			Payload:          syncResult,
			ResultingVersion: next.version,
			At:               e.clock.Now(),
		}
		if next, _, err = e.commitEntry(ctx, resEntry); err != nil {
			return 0, err
		}
	}

	e.dispatchEffects(ctx, entry.Sequence, effects)

	snap, _ := next.snapshot(e.def)
	e.observer.OnSignalAccepted(ctx, snap, cmd.Signal)

	if e.def.IsTerminal(next.status) {
		e.esc.stop()
		e.observer.OnInstanceTerminal(ctx, snap)
	} else {
		e.esc.refresh()
	}

	return next.version, nil
}

// Query returns a read-only projection of the last committed state. It
// never blocks on in-flight activities or transitions.
func (e *Executor) Query(name string) (any, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	if name == "" || name == "snapshot" {
		return snap, nil
	}
	q, ok := e.def.Queries[name]
	if !ok {
		return nil, fmt.Errorf("unknown query %q for entity type %q", name, e.def.EntityType)
	}
	return q(*snap), nil
}

// Snapshot returns a full immutable copy of the committed state.
func (e *Executor) Snapshot() (*api.InstanceSnapshot, error) {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.st.snapshot(e.def)
}

// History reads the instance's full history log back from the store.
func (e *Executor) History(ctx context.Context) ([]api.HistoryEntry, error) {
	e.snapMu.RLock()
	id := e.st.id
	e.snapMu.RUnlock()
	return e.store.ListEntries(ctx, id)
}

// RecordActivityResult appends the outcome of an asynchronously dispatched
// activity to history. Completions for terminal instances are recorded but
// no longer mutate state.
func (e *Executor) RecordActivityResult(ctx context.Context, req api.ActivityRequest, result map[string]any, invokeErr error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.committed()

	entry := api.HistoryEntry{
		InstanceID:       st.id,
		Sequence:         st.seq + 1,
		Activity:         req.Activity,
		Actor:            "system",
		ResultingVersion: st.version,
		At:               e.clock.Now(),
	}
	if invokeErr != nil {
		entry.Kind = api.HistoryActivityFailed
		entry.Payload = map[string]any{"error": invokeErr.Error()}
	} else {
		entry.Kind = api.HistoryActivityCompleted
		entry.Payload = result
	}

	_, _, err := e.commitEntry(ctx, entry)
	return err
}

// Stop shuts down the escalation loop.
func (e *Executor) Stop() {
	e.esc.stop()
}

// --- internals -----------------------------------------------------------

// committed returns the current committed state. Callers must hold e.mu.
func (e *Executor) committed() *instanceState {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.st
}

// commitEntry folds entry into a copy of the committed state, appends it to
// the durable log, and publishes the new state. Callers must hold e.mu.
func (e *Executor) commitEntry(ctx context.Context, entry api.HistoryEntry) (*instanceState, []api.EffectRequest, error) {
	work, err := e.cloneCommitted()
	if err != nil {
		return nil, nil, err
	}

	effects, err := applyEntry(e.def, work, entry)
	if err != nil {
		return nil, nil, err
	}

	if err := e.store.AppendEntry(ctx, entry); err != nil {
		return nil, nil, fmt.Errorf("append history for %s: %w", entry.InstanceID, err)
	}

	e.snapMu.Lock()
	e.st = work
	e.snapMu.Unlock()

	return work, effects, nil
}

func (e *Executor) cloneCommitted() (*instanceState, error) {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()

	src := e.st
	stateCopy, err := cloneState(e.def, src.state)
	if err != nil {
		return nil, err
	}
	audit := make([]api.AuditEntry, len(src.audit))
	copy(audit, src.audit)

	cp := *src
	cp.state = stateCopy
	cp.audit = audit
	return &cp, nil
}

func (e *Executor) invokeSync(ctx context.Context, st *instanceState, t api.Transition, cmd api.Command) (map[string]any, error) {
	seq := st.seq + 1
	tc := &api.TransitionContext{
		InstanceID: st.id,
		EntityType: st.entityType,
		EntityID:   st.entityID,
		Status:     st.status,
		Version:    st.version,
		Sequence:   seq,
		Now:        e.clock.Now(),
		Command:    cmd,
		State:      st.state,
	}

	req := api.ActivityRequest{
		InstanceID:     st.id,
		Sequence:       seq,
		Activity:       t.Sync.Activity,
		Args:           t.Sync.Args(tc),
		IdempotencyKey: activity.IdempotencyKey(st.id, seq, t.Sync.Activity),
	}

	start := e.clock.Now()
	result, err := e.invoker.Invoke(ctx, req)
	if err == nil && t.Sync.Accept != nil {
		if acceptErr := t.Sync.Accept(result); acceptErr != nil {
			err = &api.ActivityFailure{Activity: t.Sync.Activity, Attempts: 1, Err: acceptErr}
		}
	}
	e.observer.OnActivityFinished(ctx, st.id, t.Sync.Activity, err, e.clock.Now().Sub(start))

	if err != nil {
		payload := map[string]any{"error": err.Error(), "signal": cmd.Signal}
		for k, v := range result {
			payload[k] = v
		}
		failEntry := api.HistoryEntry{
			InstanceID:       st.id,
			Sequence:         seq,
			Kind:             api.HistoryActivityFailed,
			Activity:         t.Sync.Activity,
			Actor:            "system",
			Payload:          payload,
			ResultingVersion: st.version,
			At:               e.clock.Now(),
		}
		if _, _, commitErr := e.commitEntry(ctx, failEntry); commitErr != nil {
			return nil, commitErr
		}
		return nil, err
	}
	return result, nil
}

// dispatchEffects hands staged side effects to the task queue, or runs them
// inline when no queue is configured. Callers must hold e.mu.
func (e *Executor) dispatchEffects(ctx context.Context, seq int64, effects []api.EffectRequest) {
	for _, eff := range effects {
		req := api.ActivityRequest{
			InstanceID:     e.st.id,
			Sequence:       seq,
			Activity:       eff.Activity,
			Args:           eff.Args,
			IdempotencyKey: activity.IdempotencyKey(e.st.id, seq, eff.Activity),
		}

		if e.queue != nil {
			task := taskqueue.Task{
				ID:             uuid.NewString(),
				InstanceID:     req.InstanceID,
				Sequence:       req.Sequence,
				Activity:       req.Activity,
				Args:           req.Args,
				IdempotencyKey: req.IdempotencyKey,
				EnqueuedAt:     e.clock.Now(),
			}
			// Enqueue failures are surfaced through the failed entry the
			// worker would otherwise have recorded.
			if err := e.queue.Enqueue(ctx, task); err != nil {
				e.recordEffectResult(ctx, req, nil, err, 0)
			}
			continue
		}

		start := e.clock.Now()
		result, err := e.invoker.Invoke(ctx, req)
		e.recordEffectResult(ctx, req, result, err, e.clock.Now().Sub(start))
	}
}

// recordEffectResult is the locked variant of RecordActivityResult used
// while already inside a mutating operation.
func (e *Executor) recordEffectResult(ctx context.Context, req api.ActivityRequest, result map[string]any, invokeErr error, d time.Duration) {
	e.observer.OnActivityFinished(ctx, req.InstanceID, req.Activity, invokeErr, d)

	st := e.committed()
	entry := api.HistoryEntry{
		InstanceID:       st.id,
		Sequence:         st.seq + 1,
		Activity:         req.Activity,
		Actor:            "system",
		ResultingVersion: st.version,
		At:               e.clock.Now(),
	}
	if invokeErr != nil {
		entry.Kind = api.HistoryActivityFailed
		entry.Payload = map[string]any{"error": invokeErr.Error()}
	} else {
		entry.Kind = api.HistoryActivityCompleted
		entry.Payload = result
	}
	_, _, _ = e.commitEntry(ctx, entry)
}

// recordTimerFired appends a timer.fired entry for one overdue purpose and
// dispatches the escalation effects it stages.
func (e *Executor) recordTimerFired(ctx context.Context, purpose string, due time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.committed()
	if e.def.IsTerminal(st.status) {
		return
	}

	entry := api.HistoryEntry{
		InstanceID:       st.id,
		Sequence:         st.seq + 1,
		Kind:             api.HistoryTimerFired,
		Actor:            "system",
		Payload:          map[string]any{"purpose": purpose, "due": due},
		ResultingVersion: st.version,
		At:               e.clock.Now(),
	}

	next, effects, err := e.commitEntry(ctx, entry)
	if err != nil {
		return
	}
	e.dispatchEffects(ctx, entry.Sequence, effects)

	snap, _ := next.snapshot(e.def)
	e.observer.OnEscalation(ctx, snap, purpose)
}

// dueDates reports the outstanding deadlines from the committed state.
func (e *Executor) dueDates() (map[string]time.Time, api.Status) {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	if e.def.DueDates == nil {
		return nil, e.st.status
	}
	return e.def.DueDates(e.st.state), e.st.status
}

func (e *Executor) rejected(ctx context.Context, signal string, err error) {
	snap, snapErr := e.committed().snapshot(e.def)
	if snapErr != nil {
		return
	}
	e.observer.OnSignalRejected(ctx, snap, signal, err)
}

func cloneState(def api.LifecycleDefinition, state any) (any, error) {
	if state == nil {
		return nil, nil
	}
	out := def.NewState()
	if err := persistence.CloneValue(state, out); err != nil {
		return nil, err
	}
	return out, nil
}

func statusIn(s api.Status, list []api.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
