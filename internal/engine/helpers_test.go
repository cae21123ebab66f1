package engine

import (
	"context"
	"testing"
	"time"

	"github.com/perola/lifeline/pkg/api"
)

// ticketState is a minimal state document for engine-level tests. The full
// production shapes live in pkg/entity; tests here only need enough surface
// to exercise guards, versioning, replay, and escalation.
type ticketState struct {
	Title      string
	Priority   string
	DueAt      time.Time
	Checked    bool
	Escalated  int
	ResolvedAt time.Time
}

const (
	ticketOpen    api.Status = "open"
	ticketTriaged api.Status = "triaged"
	ticketClosed  api.Status = "closed"
)

// ticketLifecycle returns a small three-status lifecycle:
//
//	open -> triaged -> closed, with closed terminal.
//
// The triage transition requires a "priority" argument.
func ticketLifecycle() api.LifecycleDefinition {
	return api.LifecycleDefinition{
		EntityType: "ticket",
		Initial:    ticketOpen,
		Statuses:   []api.Status{ticketOpen, ticketTriaged, ticketClosed},
		Terminal:   []api.Status{ticketClosed},
		NewState:   func() any { return &ticketState{} },

		Seed: func(tc *api.TransitionContext) error {
			st := tc.State.(*ticketState)
			st.Title = tc.Command.Arg("title")
			if due := tc.Command.TimeArg("due"); !due.IsZero() {
				st.DueAt = due
			}
			tc.Audit("created", "ticket opened")
			return nil
		},

		Transitions: []api.Transition{
			{
				Signal: "triage",
				From:   []api.Status{ticketOpen},
				To:     ticketTriaged,
				Guard: func(ctx context.Context, tc *api.TransitionContext) error {
					if tc.Command.Arg("priority") == "" {
						return api.NewGuardViolation("triage", tc.Status, "priority is required")
					}
					return nil
				},
				Apply: func(tc *api.TransitionContext) error {
					tc.State.(*ticketState).Priority = tc.Command.Arg("priority")
					return nil
				},
				AuditAction: "triaged",
			},
			{
				Signal: "close",
				From:   []api.Status{ticketOpen, ticketTriaged},
				To:     ticketClosed,
				Apply: func(tc *api.TransitionContext) error {
					tc.State.(*ticketState).ResolvedAt = tc.Now
					return nil
				},
				AuditAction: "closed",
			},
			{
				Signal:       "reopen-note",
				FromTerminal: true,
				Apply: func(tc *api.TransitionContext) error {
					tc.Audit("note", tc.Command.Arg("text"))
					return nil
				},
			},
		},

		Queries: map[string]api.QueryFunc{
			"priority": func(snap api.InstanceSnapshot) any {
				return snap.State.(*ticketState).Priority
			},
		},

		OnActivityResult: func(state any, activityName string, result map[string]any, at time.Time) {
			if activityName == "check" {
				state.(*ticketState).Checked = true
			}
		},

		DueDates: func(state any) map[string]time.Time {
			st := state.(*ticketState)
			if st.DueAt.IsZero() || !st.ResolvedAt.IsZero() {
				return nil
			}
			return map[string]time.Time{"resolution": st.DueAt}
		},

		Escalate: func(tc *api.TransitionContext, purpose string) {
			st := tc.State.(*ticketState)
			st.Escalated++
			tc.Audit("escalation", purpose+" overdue")
		},
	}
}

func newTicketDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	d := NewDispatcher(cfg)
	if err := d.RegisterLifecycle(ticketLifecycle()); err != nil {
		t.Fatalf("RegisterLifecycle failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func createTicket(t *testing.T, d *Dispatcher, args map[string]any) *api.InstanceSnapshot {
	t.Helper()
	snap, err := d.CreateInstance(context.Background(), "ticket", "ticket-1", "alice", args)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	return snap
}
