package entity

import (
	"context"
	"time"

	"github.com/perola/lifeline/pkg/api"
)

// Project lifecycle statuses.
const (
	ProjStatusActive    api.Status = "active"
	ProjStatusOnHold    api.Status = "on-hold"
	ProjStatusCompleted api.Status = "completed"
	ProjStatusArchived  api.Status = "archived"
)

// Project lifecycle signals.
const (
	SignalHold     = "hold"
	SignalResume   = "resume"
	SignalComplete = "complete"
)

// ProjectState is the state document for the project lifecycle. It is a
// deliberately small shape next to the document lifecycle: same contract,
// fewer sub-records.
type ProjectState struct {
	Name       string
	OwnerID    string
	DeadlineAt time.Time
	HeldAt     time.Time
	ResumedAt  time.Time
	DoneAt     time.Time
}

// ProjectLifecycle returns the project lifecycle definition.
func ProjectLifecycle() api.LifecycleDefinition {
	return api.LifecycleDefinition{
		EntityType: api.EntityProject,
		Initial:    ProjStatusActive,
		Statuses: []api.Status{
			ProjStatusActive, ProjStatusOnHold, ProjStatusCompleted, ProjStatusArchived,
		},
		Terminal: []api.Status{ProjStatusCompleted, ProjStatusArchived},

		NewState: func() any { return &ProjectState{} },

		Seed: func(tc *api.TransitionContext) error {
			p := tc.State.(*ProjectState)
			p.Name = tc.Command.Arg("name")
			p.OwnerID = tc.Command.Arg("owner_id")
			if due := tc.Command.TimeArg("deadline"); !due.IsZero() {
				p.DeadlineAt = due
			}
			tc.Audit("created", "project entered lifecycle")
			tc.Effect("persist-status", persistArgs(ProjStatusActive, tc.Version))
			return nil
		},

		Transitions: []api.Transition{
			{
				Signal: SignalHold,
				From:   []api.Status{ProjStatusActive},
				To:     ProjStatusOnHold,
				Apply: func(tc *api.TransitionContext) error {
					p := tc.State.(*ProjectState)
					p.HeldAt = tc.Now
					tc.Effect("persist-status", persistArgs(ProjStatusOnHold, tc.Version+1))
					return nil
				},
			},
			{
				Signal: SignalResume,
				From:   []api.Status{ProjStatusOnHold},
				To:     ProjStatusActive,
				Apply: func(tc *api.TransitionContext) error {
					p := tc.State.(*ProjectState)
					p.ResumedAt = tc.Now
					tc.Effect("persist-status", persistArgs(ProjStatusActive, tc.Version+1))
					return nil
				},
			},
			{
				Signal: SignalComplete,
				From:   []api.Status{ProjStatusActive},
				To:     ProjStatusCompleted,
				Apply: func(tc *api.TransitionContext) error {
					p := tc.State.(*ProjectState)
					p.DoneAt = tc.Now
					tc.Effect("persist-status", persistArgs(ProjStatusCompleted, tc.Version+1))
					tc.Effect("notify", notifyArgs(api.NotifyInApp, p.OwnerID,
						"project-completed", map[string]any{"name": p.Name}))
					return nil
				},
				AuditAction: "completed",
			},
			{
				Signal:       SignalArchive,
				FromTerminal: true,
				To:           ProjStatusArchived,
				Guard: func(ctx context.Context, tc *api.TransitionContext) error {
					if tc.Status == ProjStatusArchived {
						return api.NewGuardViolation(SignalArchive, tc.Status, "already archived")
					}
					return nil
				},
				Apply: func(tc *api.TransitionContext) error {
					tc.Effect("persist-status", persistArgs(ProjStatusArchived, tc.Version+1))
					return nil
				},
				AuditAction: "archived",
			},
		},

		DueDates: func(state any) map[string]time.Time {
			p := state.(*ProjectState)
			if p.DeadlineAt.IsZero() || !p.DoneAt.IsZero() {
				return nil
			}
			return map[string]time.Time{"deadline": p.DeadlineAt}
		},

		Escalate: func(tc *api.TransitionContext, purpose string) {
			p := tc.State.(*ProjectState)
			tc.Audit("escalation", purpose+" overdue")
			tc.Effect("notify", notifyArgs(api.NotifyEmail, p.OwnerID,
				"deadline-overdue", map[string]any{"name": p.Name}))
		},
	}
}
