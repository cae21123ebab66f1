package api

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GuardFunc validates a command against the instance's current state.
// Returning a non-nil error (conventionally a *GuardViolation) rejects the
// command before anything is appended to history.
//
// Guards run exactly once, on the live path; they are never replayed, so
// they may consult external collaborators such as a business-rule validator.
type GuardFunc func(ctx context.Context, tc *TransitionContext) error

// ApplyFunc deterministically mutates the state document for an accepted
// signal. It is executed both live and during replay: it must derive
// everything from the TransitionContext (command args, recorded time) and
// must not touch the clock, random sources, or external services.
type ApplyFunc func(tc *TransitionContext) error

// QueryFunc projects a named sub-record out of a committed snapshot.
type QueryFunc func(snap InstanceSnapshot) any

// SyncActivity is an activity invoked synchronously inside a transition,
// before the signal is committed to history. If the invocation fails, or
// Accept rejects its result, the transition is abandoned: the instance
// stays in its pre-transition status and only an activity.failed entry is
// recorded.
type SyncActivity struct {
	Activity string

	// Args builds the invocation arguments from the pre-transition state.
	Args func(tc *TransitionContext) map[string]any

	// Accept inspects the result and may reject it. nil accepts anything.
	Accept func(result map[string]any) error
}

// Transition is one row of a lifecycle's guard/transition table.
type Transition struct {
	Signal string

	// From lists the statuses this signal is accepted in.
	// Empty means any status, subject to the terminal rule below.
	From []Status

	// To is the resulting status. Empty leaves the status unchanged.
	To Status

	// FromTerminal allows the signal even when the current status is
	// terminal (e.g. published -> archived, or access-control updates).
	FromTerminal bool

	Guard GuardFunc
	Apply ApplyFunc
	Sync  *SyncActivity

	// AuditAction, when non-empty, marks this signal audit-relevant: an
	// AuditEntry with this action is appended alongside the transition.
	AuditAction string
}

// EffectRequest is a side effect staged during Apply, dispatched by the
// executor after the transition commits.
type EffectRequest struct {
	Activity string
	Args     map[string]any
}

// TransitionContext carries everything a guard or apply function may read.
// Apply functions stage audit entries and side effects through it.
type TransitionContext struct {
	InstanceID string
	EntityType EntityType
	EntityID   string
	Status     Status
	Version    int64
	Sequence   int64

	// Now is the recorded entry time. During replay it is the original
	// commit time, not the current clock.
	Now time.Time

	Command Command
	State   any

	audits  []AuditEntry
	effects []EffectRequest
}

// Audit stages a compliance audit entry attributed to the command's actor.
func (tc *TransitionContext) Audit(action, detail string) {
	actor := tc.Command.RequestedBy
	if actor == "" {
		actor = "system"
	}
	tc.audits = append(tc.audits, AuditEntry{
		At:     tc.Now,
		Actor:  actor,
		Action: action,
		Detail: detail,
	})
}

// Effect stages a side-effecting activity to run after the transition
// commits. Effects are dispatched on the live path only; replay folds the
// state mutation without re-running them.
func (tc *TransitionContext) Effect(activity string, args map[string]any) {
	tc.effects = append(tc.effects, EffectRequest{Activity: activity, Args: args})
}

// StagedAudits returns the audit entries staged so far.
func (tc *TransitionContext) StagedAudits() []AuditEntry { return tc.audits }

// StagedEffects returns the effects staged so far.
func (tc *TransitionContext) StagedEffects() []EffectRequest { return tc.effects }

// LifecycleDefinition declares one entity type's complete lifecycle shape:
// its status set, transition table, queries, and escalation behavior.
// Lifecycles are fixed at compile time; this engine is not a general
// user-authored workflow graph system.
type LifecycleDefinition struct {
	EntityType EntityType

	// Initial is the status a new instance starts in.
	Initial Status

	// Statuses is the full set of declared statuses.
	Statuses []Status

	// Terminal lists statuses that accept no further mutating signals,
	// except transitions explicitly marked FromTerminal.
	Terminal []Status

	// NewState allocates an empty state document.
	NewState func() any

	// Seed folds the instance.created entry into a fresh state document.
	// The creation payload arrives as tc.Command.Args.
	Seed ApplyFunc

	Transitions []Transition

	// Queries maps query names to projections. The reserved name
	// "snapshot" always returns the full snapshot and need not be listed.
	Queries map[string]QueryFunc

	// OnActivityResult folds an activity.completed entry into state.
	// Most activities carry no state (notifications); nil is fine.
	OnActivityResult func(state any, activity string, result map[string]any, at time.Time)

	// DueDates reports the outstanding deadlines the escalation loop must
	// watch, keyed by purpose (e.g. "review", "approval"). Zero times and
	// absent keys mean no deadline.
	DueDates func(state any) map[string]time.Time

	// Escalate folds a timer.fired entry: it records the escalation audit
	// entry and stages the notification effects for one overdue purpose.
	Escalate func(tc *TransitionContext, purpose string)
}

// IsTerminal reports whether s is one of the lifecycle's terminal statuses.
func (d LifecycleDefinition) IsTerminal(s Status) bool {
	for _, t := range d.Terminal {
		if t == s {
			return true
		}
	}
	return false
}

// FindTransition returns the transition for the given signal, if declared.
func (d LifecycleDefinition) FindTransition(signal string) (Transition, bool) {
	for _, t := range d.Transitions {
		if t.Signal == signal {
			return t, true
		}
	}
	return Transition{}, false
}

// Validate checks that the definition is internally consistent.
func (d LifecycleDefinition) Validate() error {
	if d.EntityType == "" {
		return errors.New("lifecycle entity type is required")
	}
	if d.Initial == "" {
		return errors.New("lifecycle initial status is required")
	}
	if d.NewState == nil {
		return errors.New("lifecycle must provide NewState")
	}
	if len(d.Transitions) == 0 {
		return errors.New("lifecycle must declare at least one transition")
	}
	declared := make(map[Status]bool, len(d.Statuses))
	for _, s := range d.Statuses {
		declared[s] = true
	}
	if !declared[d.Initial] {
		return fmt.Errorf("initial status %q is not declared", d.Initial)
	}
	for _, t := range d.Terminal {
		if !declared[t] {
			return fmt.Errorf("terminal status %q is not declared", t)
		}
	}
	seen := make(map[string]bool, len(d.Transitions))
	for _, t := range d.Transitions {
		if t.Signal == "" {
			return errors.New("transition signal name is required")
		}
		if seen[t.Signal] {
			return fmt.Errorf("duplicate transition for signal %q", t.Signal)
		}
		seen[t.Signal] = true
		if t.To != "" && !declared[t.To] {
			return fmt.Errorf("transition %q targets undeclared status %q", t.Signal, t.To)
		}
		for _, f := range t.From {
			if !declared[f] {
				return fmt.Errorf("transition %q lists undeclared status %q", t.Signal, f)
			}
		}
	}
	return nil
}
