package entity

import (
	"context"
	"testing"
	"time"

	"github.com/perola/lifeline/internal/activity"
	"github.com/perola/lifeline/internal/engine"
	"github.com/perola/lifeline/internal/testutil"
	"github.com/perola/lifeline/pkg/api"
)

type documentFixture struct {
	dispatcher *engine.Dispatcher
	projection *testutil.FakeProjection
	notifier   *testutil.FakeNotifier
	validator  *testutil.StaticValidator
	scanner    *testutil.FakeScanner
	audit      *testutil.FakeAuditSink
}

func newDocumentFixture(t *testing.T) *documentFixture {
	t.Helper()

	f := &documentFixture{
		projection: &testutil.FakeProjection{},
		notifier:   &testutil.FakeNotifier{},
		validator:  &testutil.StaticValidator{OK: true},
		scanner:    &testutil.FakeScanner{Report: api.ScanReport{Status: "passed"}},
		audit:      &testutil.FakeAuditSink{},
	}

	f.dispatcher = engine.NewDispatcher(engine.Config{
		Collaborators: f.collaborators(),
	})
	if err := f.dispatcher.RegisterLifecycle(DocumentLifecycle(f.validator)); err != nil {
		t.Fatalf("RegisterLifecycle failed: %v", err)
	}
	t.Cleanup(func() { _ = f.dispatcher.Close() })
	return f
}

func (f *documentFixture) collaborators() activity.Collaborators {
	return activity.Collaborators{
		Projection: f.projection,
		Notifier:   f.notifier,
		Validator:  f.validator,
		Scanner:    f.scanner,
		Audit:      f.audit,
	}
}

func (f *documentFixture) create(t *testing.T) *api.InstanceSnapshot {
	t.Helper()
	snap, err := f.dispatcher.CreateInstance(context.Background(), api.EntityDocument, "doc-1", "alice", map[string]any{
		"title":    "launch plan",
		"owner_id": "alice",
		"location": "s3://docs/launch-plan",
	})
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	return snap
}

func (f *documentFixture) signal(t *testing.T, id string, cmd api.Command) int64 {
	t.Helper()
	v, err := f.dispatcher.DeliverSignal(context.Background(), id, cmd)
	if err != nil {
		t.Fatalf("signal %s failed: %v", cmd.Signal, err)
	}
	return v
}

func (f *documentFixture) status(t *testing.T, id string) api.Status {
	t.Helper()
	snap, err := f.dispatcher.GetInstance(context.Background(), id)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	return snap.Status
}

func TestDocumentHappyPathToPublished(t *testing.T) {
	f := newDocumentFixture(t)
	snap := f.create(t)

	if snap.Status != DocStatusDraft || snap.Version != 1 {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}

	f.signal(t, snap.ID, api.Command{Signal: SignalSubmitForReview, RequestedBy: "alice"})
	f.signal(t, snap.ID, api.Command{Signal: SignalAssignReviewer, RequestedBy: "bob",
		Args: map[string]any{"reviewer_id": "carol"}})
	f.signal(t, snap.ID, api.Command{Signal: SignalStartReview, RequestedBy: "carol"})
	f.signal(t, snap.ID, api.Command{Signal: SignalApprove, RequestedBy: "carol"})
	v := f.signal(t, snap.ID, api.Command{Signal: SignalPublish, RequestedBy: "alice"})

	if v != 6 {
		t.Fatalf("expected version 6 after five accepted signals, got %d", v)
	}
	if got := f.status(t, snap.ID); got != DocStatusPublished {
		t.Fatalf("expected published, got %q", got)
	}

	// The scanner ran exactly once, for submit_for_review.
	if f.scanner.ScanCount() != 1 {
		t.Fatalf("expected 1 scan, got %d", f.scanner.ScanCount())
	}

	// The projection saw the final status.
	last := f.projection.Last()
	if last == nil || last.Status != DocStatusPublished {
		t.Fatalf("unexpected last projection write: %+v", last)
	}

	// The reviewer was notified of the assignment, the owner of the publish.
	if len(f.notifier.ByTemplate("approval-request")) != 1 {
		t.Fatalf("missing approval-request notification: %+v", f.notifier.Sent)
	}
	if len(f.notifier.ByTemplate("document-published")) != 1 {
		t.Fatalf("missing document-published notification: %+v", f.notifier.Sent)
	}

	// Regulated actions were exported to the audit sink.
	exported := f.audit.For(snap.ID)
	if len(exported) == 0 {
		t.Fatal("no audit entries exported")
	}
}

func TestDocumentScanFailureKeepsDraft(t *testing.T) {
	f := newDocumentFixture(t)
	f.scanner.Report = api.ScanReport{Status: "failed", Findings: []string{"embedded secret"}}

	snap := f.create(t)

	_, err := f.dispatcher.DeliverSignal(context.Background(), snap.ID, api.Command{
		Signal: SignalSubmitForReview, RequestedBy: "alice",
	})
	af, ok := api.IsActivityFailure(err)
	if !ok {
		t.Fatalf("expected ActivityFailure, got %v", err)
	}
	if af.Activity != "security-scan" {
		t.Fatalf("unexpected failing activity: %+v", af)
	}

	if got := f.status(t, snap.ID); got != DocStatusDraft {
		t.Fatalf("scan failure moved document to %q", got)
	}

	// A clean rescan admits the document.
	f.scanner.Report = api.ScanReport{Status: "passed"}
	f.signal(t, snap.ID, api.Command{Signal: SignalSubmitForReview, RequestedBy: "alice"})
	if got := f.status(t, snap.ID); got != DocStatusReview {
		t.Fatalf("expected review after clean scan, got %q", got)
	}
}

func TestDocumentReviewerGuard(t *testing.T) {
	f := newDocumentFixture(t)
	snap := f.create(t)

	f.signal(t, snap.ID, api.Command{Signal: SignalSubmitForReview, RequestedBy: "alice"})

	// No reviewer yet.
	_, err := f.dispatcher.DeliverSignal(context.Background(), snap.ID, api.Command{
		Signal: SignalStartReview, RequestedBy: "carol",
	})
	if _, ok := api.IsGuardViolation(err); !ok {
		t.Fatalf("expected GuardViolation, got %v", err)
	}

	f.signal(t, snap.ID, api.Command{Signal: SignalAssignReviewer, RequestedBy: "bob",
		Args: map[string]any{"reviewer_id": "carol"}})

	// Only the assigned reviewer may act.
	_, err = f.dispatcher.DeliverSignal(context.Background(), snap.ID, api.Command{
		Signal: SignalStartReview, RequestedBy: "mallory",
	})
	gv, ok := api.IsGuardViolation(err)
	if !ok {
		t.Fatalf("expected GuardViolation, got %v", err)
	}
	if gv.Reason != "caller is not the assigned reviewer" {
		t.Fatalf("unexpected reason: %q", gv.Reason)
	}

	f.signal(t, snap.ID, api.Command{Signal: SignalStartReview, RequestedBy: "carol"})
}

func TestDocumentRevisionLoop(t *testing.T) {
	f := newDocumentFixture(t)
	snap := f.create(t)
	ctx := context.Background()

	f.signal(t, snap.ID, api.Command{Signal: SignalSubmitForReview, RequestedBy: "alice"})
	f.signal(t, snap.ID, api.Command{Signal: SignalAssignReviewer, RequestedBy: "bob",
		Args: map[string]any{"reviewer_id": "carol"}})
	f.signal(t, snap.ID, api.Command{Signal: SignalStartReview, RequestedBy: "carol"})
	f.signal(t, snap.ID, api.Command{Signal: SignalRequestRevision, RequestedBy: "carol"})

	raw, err := f.dispatcher.RunQuery(ctx, snap.ID, "review")
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if review := raw.(ReviewProcess); !review.RevisionRequired {
		t.Fatalf("revision not flagged: %+v", review)
	}

	// The owner was told to revise.
	if len(f.notifier.ByTemplate("revision-requested")) != 1 {
		t.Fatalf("missing revision-requested notification: %+v", f.notifier.Sent)
	}

	f.signal(t, snap.ID, api.Command{Signal: SignalSubmitRevision, RequestedBy: "carol"})

	raw, err = f.dispatcher.RunQuery(ctx, snap.ID, "review")
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if review := raw.(ReviewProcess); review.RevisionRequired {
		t.Fatalf("revision flag not cleared: %+v", review)
	}

	snap2, err := f.dispatcher.GetInstance(ctx, snap.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if snap2.State.(*DocumentState).ContentVersion != 2 {
		t.Fatalf("content version not bumped: %+v", snap2.State)
	}
}

func TestDocumentRejectionPath(t *testing.T) {
	f := newDocumentFixture(t)
	snap := f.create(t)

	f.signal(t, snap.ID, api.Command{Signal: SignalSubmitForReview, RequestedBy: "alice"})
	f.signal(t, snap.ID, api.Command{Signal: SignalAssignReviewer, RequestedBy: "bob",
		Args: map[string]any{"reviewer_id": "carol"}})
	f.signal(t, snap.ID, api.Command{Signal: SignalReject, RequestedBy: "carol",
		Args: map[string]any{"reason": "incomplete sections"}})

	if got := f.status(t, snap.ID); got != DocStatusRejected {
		t.Fatalf("expected rejected, got %q", got)
	}

	raw, err := f.dispatcher.RunQuery(context.Background(), snap.ID, "approval")
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	approval := raw.(ApprovalProcess)
	if approval.RejectedBy != "carol" || approval.RejectedReason != "incomplete sections" {
		t.Fatalf("unexpected approval record: %+v", approval)
	}

	if len(f.notifier.ByTemplate("document-rejected")) != 1 {
		t.Fatalf("owner not notified of rejection: %+v", f.notifier.Sent)
	}
}

func TestDocumentBusinessRuleGuard(t *testing.T) {
	f := newDocumentFixture(t)
	f.validator.OK = false

	snap := f.create(t)
	f.signal(t, snap.ID, api.Command{Signal: SignalSubmitForReview, RequestedBy: "alice"})
	f.signal(t, snap.ID, api.Command{Signal: SignalAssignReviewer, RequestedBy: "bob",
		Args: map[string]any{"reviewer_id": "carol"}})
	f.signal(t, snap.ID, api.Command{Signal: SignalStartReview, RequestedBy: "carol"})

	_, err := f.dispatcher.DeliverSignal(context.Background(), snap.ID, api.Command{
		Signal: SignalApprove, RequestedBy: "carol",
	})
	if _, ok := api.IsGuardViolation(err); !ok {
		t.Fatalf("expected GuardViolation from rule validator, got %v", err)
	}
	if got := f.status(t, snap.ID); got != DocStatusReview {
		t.Fatalf("failed validation moved document to %q", got)
	}
}

func TestDocumentTerminalOperations(t *testing.T) {
	f := newDocumentFixture(t)
	snap := f.create(t)
	ctx := context.Background()

	f.signal(t, snap.ID, api.Command{Signal: SignalSubmitForReview, RequestedBy: "alice"})
	f.signal(t, snap.ID, api.Command{Signal: SignalAssignReviewer, RequestedBy: "bob",
		Args: map[string]any{"reviewer_id": "carol"}})
	f.signal(t, snap.ID, api.Command{Signal: SignalStartReview, RequestedBy: "carol"})
	f.signal(t, snap.ID, api.Command{Signal: SignalApprove, RequestedBy: "carol"})
	f.signal(t, snap.ID, api.Command{Signal: SignalPublish, RequestedBy: "alice"})

	// Published is terminal: ordinary edits are rejected.
	_, err := f.dispatcher.DeliverSignal(ctx, snap.ID, api.Command{
		Signal: SignalSubmitForReview, RequestedBy: "alice",
	})
	if _, ok := api.IsGuardViolation(err); !ok {
		t.Fatalf("expected GuardViolation, got %v", err)
	}

	// Access control stays adjustable after publication.
	f.signal(t, snap.ID, api.Command{Signal: SignalUpdateAccessControl, RequestedBy: "alice",
		Args: map[string]any{"visibility": "internal", "allowed_roles": []string{"staff"}}})

	raw, err := f.dispatcher.RunQuery(ctx, snap.ID, "access-control")
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	ac := raw.(AccessControl)
	if ac.Visibility != "internal" || len(ac.AllowedRoles) != 1 {
		t.Fatalf("unexpected access control: %+v", ac)
	}
	if got := f.status(t, snap.ID); got != DocStatusPublished {
		t.Fatalf("access-control update changed status to %q", got)
	}

	// Archival is allowed from published, once.
	f.signal(t, snap.ID, api.Command{Signal: SignalArchive, RequestedBy: "alice"})
	if got := f.status(t, snap.ID); got != DocStatusArchived {
		t.Fatalf("expected archived, got %q", got)
	}

	_, err = f.dispatcher.DeliverSignal(ctx, snap.ID, api.Command{
		Signal: SignalArchive, RequestedBy: "alice",
	})
	gv, ok := api.IsGuardViolation(err)
	if !ok {
		t.Fatalf("expected GuardViolation, got %v", err)
	}
	if gv.Reason != "already archived" {
		t.Fatalf("unexpected reason: %q", gv.Reason)
	}
}

func TestDocumentReviewEscalationNotifiesReviewer(t *testing.T) {
	f := newDocumentFixture(t)
	f.dispatcher = engine.NewDispatcher(engine.Config{
		Collaborators: f.collaborators(),
		Escalation:    engine.EscalationConfig{CheckInterval: 20 * time.Millisecond},
	})
	if err := f.dispatcher.RegisterLifecycle(DocumentLifecycle(f.validator)); err != nil {
		t.Fatalf("RegisterLifecycle failed: %v", err)
	}
	t.Cleanup(func() { _ = f.dispatcher.Close() })

	snap := f.create(t)
	f.signal(t, snap.ID, api.Command{Signal: SignalSubmitForReview, RequestedBy: "alice"})
	f.signal(t, snap.ID, api.Command{Signal: SignalAssignReviewer, RequestedBy: "bob",
		Args: map[string]any{
			"reviewer_id": "carol",
			"review_due":  time.Now().Add(-time.Minute),
		}})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.notifier.ByTemplate("review-overdue")) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	overdue := f.notifier.ByTemplate("review-overdue")
	if len(overdue) == 0 {
		t.Fatal("no review-overdue notification")
	}
	if overdue[0].Target != "carol" {
		t.Fatalf("escalation notified %q, want the reviewer", overdue[0].Target)
	}
}
