package engine

import (
	"fmt"
	"time"

	"github.com/perola/lifeline/pkg/api"
)

// instanceState is the in-memory folded state of one instance. It is only
// ever produced by folding history entries through applyEntry, so two folds
// of the same log always agree.
type instanceState struct {
	id         string
	entityType api.EntityType
	entityID   string
	status     api.Status
	version    int64
	seq        int64
	state      any
	audit      []api.AuditEntry
	createdAt  time.Time
	updatedAt  time.Time
}

func (st *instanceState) snapshot(def api.LifecycleDefinition) (*api.InstanceSnapshot, error) {
	stateCopy, err := cloneState(def, st.state)
	if err != nil {
		return nil, err
	}
	audit := make([]api.AuditEntry, len(st.audit))
	copy(audit, st.audit)
	return &api.InstanceSnapshot{
		ID:         st.id,
		EntityType: st.entityType,
		EntityID:   st.entityID,
		Status:     st.status,
		Version:    st.version,
		State:      stateCopy,
		AuditTrail: audit,
		CreatedAt:  st.createdAt,
		UpdatedAt:  st.updatedAt,
	}, nil
}

// applyEntry folds one history entry into st, mutating it. It returns the
// side effects the entry stages; callers on the live path dispatch them,
// while replay discards them (they already ran, or will be redelivered by
// the durable queue).
//
// applyEntry is the single transition function used both live and during
// recovery. It must stay deterministic: everything it does derives from the
// entry itself, never from the clock or external services.
func applyEntry(def api.LifecycleDefinition, st *instanceState, entry api.HistoryEntry) ([]api.EffectRequest, error) {
	if entry.Sequence != st.seq+1 {
		return nil, &api.ReplayInconsistency{
			InstanceID: entry.InstanceID,
			Sequence:   entry.Sequence,
			Reason:     fmt.Sprintf("expected sequence %d", st.seq+1),
		}
	}

	switch entry.Kind {
	case api.HistoryInstanceCreated:
		return applyCreated(def, st, entry)
	case api.HistorySignalReceived:
		return applySignal(def, st, entry)
	case api.HistoryActivityCompleted:
		return nil, applyActivityCompleted(def, st, entry)
	case api.HistoryActivityFailed:
		return nil, applyActivityFailed(st, entry)
	case api.HistoryTimerFired:
		return applyTimerFired(def, st, entry)
	default:
		return nil, &api.ReplayInconsistency{
			InstanceID: entry.InstanceID,
			Sequence:   entry.Sequence,
			Reason:     fmt.Sprintf("unknown entry kind %q", entry.Kind),
		}
	}
}

func applyCreated(def api.LifecycleDefinition, st *instanceState, entry api.HistoryEntry) ([]api.EffectRequest, error) {
	if st.seq != 0 {
		return nil, &api.ReplayInconsistency{
			InstanceID: entry.InstanceID,
			Sequence:   entry.Sequence,
			Reason:     "creation entry after sequence 1",
		}
	}

	st.id = entry.InstanceID
	st.entityType = api.EntityType(stringPayload(entry.Payload, "entity_type"))
	st.entityID = stringPayload(entry.Payload, "entity_id")
	st.status = def.Initial
	st.state = def.NewState()
	st.createdAt = entry.At

	tc := newTransitionContext(st, api.Command{
		Signal:      string(entry.Kind),
		Args:        entry.Payload,
		RequestedBy: entry.Actor,
	}, entry)

	if def.Seed != nil {
		if err := def.Seed(tc); err != nil {
			return nil, &api.ReplayInconsistency{
				InstanceID: entry.InstanceID,
				Sequence:   entry.Sequence,
				Reason:     fmt.Sprintf("seed failed: %v", err),
			}
		}
	}

	st.audit = append(st.audit, tc.StagedAudits()...)
	st.seq = entry.Sequence
	st.version = entry.ResultingVersion
	st.updatedAt = entry.At
	return tc.StagedEffects(), nil
}

func applySignal(def api.LifecycleDefinition, st *instanceState, entry api.HistoryEntry) ([]api.EffectRequest, error) {
	t, ok := def.FindTransition(entry.Signal)
	if !ok {
		return nil, &api.ReplayInconsistency{
			InstanceID: entry.InstanceID,
			Sequence:   entry.Sequence,
			Reason:     fmt.Sprintf("no transition for recorded signal %q", entry.Signal),
		}
	}
	if entry.ResultingVersion != st.version+1 {
		return nil, &api.ReplayInconsistency{
			InstanceID: entry.InstanceID,
			Sequence:   entry.Sequence,
			Reason:     fmt.Sprintf("version jump %d -> %d", st.version, entry.ResultingVersion),
		}
	}

	tc := newTransitionContext(st, api.Command{
		Signal:      entry.Signal,
		Args:        entry.Payload,
		RequestedBy: entry.Actor,
	}, entry)

	if t.Apply != nil {
		if err := t.Apply(tc); err != nil {
			return nil, &api.ReplayInconsistency{
				InstanceID: entry.InstanceID,
				Sequence:   entry.Sequence,
				Reason:     fmt.Sprintf("apply for signal %q failed: %v", entry.Signal, err),
			}
		}
	}

	if t.AuditAction != "" {
		tc.Audit(t.AuditAction, "signal "+entry.Signal)
	}

	if t.To != "" {
		st.status = t.To
	}
	st.audit = append(st.audit, tc.StagedAudits()...)
	st.seq = entry.Sequence
	st.version = entry.ResultingVersion
	st.updatedAt = entry.At
	return tc.StagedEffects(), nil
}

func applyActivityCompleted(def api.LifecycleDefinition, st *instanceState, entry api.HistoryEntry) error {
	if entry.ResultingVersion != st.version {
		return &api.ReplayInconsistency{
			InstanceID: entry.InstanceID,
			Sequence:   entry.Sequence,
			Reason:     "activity entry must not change version",
		}
	}
	// Results arriving after a terminal status are recorded facts but no
	// longer mutate state.
	if def.OnActivityResult != nil && !def.IsTerminal(st.status) {
		def.OnActivityResult(st.state, entry.Activity, entry.Payload, entry.At)
	}
	st.seq = entry.Sequence
	st.updatedAt = entry.At
	return nil
}

func applyActivityFailed(st *instanceState, entry api.HistoryEntry) error {
	st.audit = append(st.audit, api.AuditEntry{
		At:     entry.At,
		Actor:  "system",
		Action: "activity-failed",
		Detail: fmt.Sprintf("activity %s: %s", entry.Activity, stringPayload(entry.Payload, "error")),
	})
	st.seq = entry.Sequence
	st.updatedAt = entry.At
	return nil
}

func applyTimerFired(def api.LifecycleDefinition, st *instanceState, entry api.HistoryEntry) ([]api.EffectRequest, error) {
	purpose := stringPayload(entry.Payload, "purpose")

	tc := newTransitionContext(st, api.Command{
		Signal: string(entry.Kind),
		Args:   entry.Payload,
	}, entry)

	if def.Escalate != nil {
		def.Escalate(tc, purpose)
	} else {
		tc.Audit("escalation", purpose+" overdue")
	}

	st.audit = append(st.audit, tc.StagedAudits()...)
	st.seq = entry.Sequence
	st.updatedAt = entry.At
	return tc.StagedEffects(), nil
}

// rehydrate folds a complete history log into a fresh instanceState.
// Given the same ordered entries, two rehydrations produce identical state;
// this is the property that makes crash recovery safe.
func rehydrate(def api.LifecycleDefinition, entries []api.HistoryEntry) (*instanceState, error) {
	if len(entries) == 0 {
		return nil, &api.ReplayInconsistency{Reason: "empty history"}
	}
	if entries[0].Kind != api.HistoryInstanceCreated {
		return nil, &api.ReplayInconsistency{
			InstanceID: entries[0].InstanceID,
			Sequence:   entries[0].Sequence,
			Reason:     "history does not start with creation entry",
		}
	}

	st := &instanceState{}
	for _, entry := range entries {
		if _, err := applyEntry(def, st, entry); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func newTransitionContext(st *instanceState, cmd api.Command, entry api.HistoryEntry) *api.TransitionContext {
	return &api.TransitionContext{
		InstanceID: st.id,
		EntityType: st.entityType,
		EntityID:   st.entityID,
		Status:     st.status,
		Version:    st.version,
		Sequence:   entry.Sequence,
		Now:        entry.At,
		Command:    cmd,
		State:      st.state,
	}
}

func stringPayload(p map[string]any, key string) string {
	if p == nil {
		return ""
	}
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}
