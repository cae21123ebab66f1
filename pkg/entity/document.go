// Package entity declares the lifecycle shapes shipped with lifeline.
// Each lifecycle is a fixed transition table over an entity-specific state
// document; the document-approval lifecycle is the richest and serves as
// the template for the others.
package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/perola/lifeline/pkg/api"
)

// Document lifecycle statuses.
const (
	DocStatusDraft     api.Status = "draft"
	DocStatusReview    api.Status = "review"
	DocStatusApproved  api.Status = "approved"
	DocStatusRejected  api.Status = "rejected"
	DocStatusPublished api.Status = "published"
	DocStatusArchived  api.Status = "archived"
)

// Document lifecycle signals.
const (
	SignalSubmitForReview     = "submit_for_review"
	SignalAssignReviewer      = "assign_reviewer"
	SignalStartReview         = "start_review"
	SignalSubmitRevision      = "submit_revision"
	SignalApprove             = "approve"
	SignalReject              = "reject"
	SignalRequestRevision     = "request_revision"
	SignalPublish             = "publish"
	SignalArchive             = "archive"
	SignalUpdateAccessControl = "update_access_control"
)

// Business rules evaluated by the external validator.
const (
	RuleDocumentApproval = "document-approval"
	RuleDocumentPublish  = "document-publish"
)

// DocumentState is the full structured snapshot of one document's lifecycle
// progress: the process sub-records the executor folds history into.
type DocumentState struct {
	Title          string
	OwnerID        string
	Location       string
	ContentVersion int

	Review        ReviewProcess
	Approval      ApprovalProcess
	SecurityScan  SecurityScan
	AccessControl AccessControl
}

// ReviewProcess tracks reviewer assignment and progress.
type ReviewProcess struct {
	AssignedReviewerID string
	AssignedAt         time.Time
	StartedAt          time.Time
	DueAt              time.Time
	CompletedAt        time.Time
	RevisionRequired   bool
}

// ApprovalProcess tracks approval, rejection, and publication.
type ApprovalProcess struct {
	ApprovedBy     string
	ApprovedAt     time.Time
	DueAt          time.Time
	RejectedBy     string
	RejectedReason string
	PublishedAt    time.Time
}

// SecurityScan records the outcome of the pre-review content scan.
type SecurityScan struct {
	Status    string
	Findings  []string
	ScannedAt time.Time
}

// AccessControl records the document's visibility settings.
type AccessControl struct {
	Visibility   string
	AllowedRoles []string
	UpdatedAt    time.Time
}

// DocumentLifecycle returns the document-approval lifecycle definition.
// The validator backs the business-rule guards on approve and publish;
// nil skips those checks.
func DocumentLifecycle(validator api.RuleValidator) api.LifecycleDefinition {
	return api.LifecycleDefinition{
		EntityType: api.EntityDocument,
		Initial:    DocStatusDraft,
		Statuses: []api.Status{
			DocStatusDraft, DocStatusReview, DocStatusApproved,
			DocStatusRejected, DocStatusPublished, DocStatusArchived,
		},
		Terminal: []api.Status{DocStatusPublished, DocStatusArchived},

		NewState: func() any { return &DocumentState{} },

		Seed: func(tc *api.TransitionContext) error {
			doc := tc.State.(*DocumentState)
			doc.Title = tc.Command.Arg("title")
			doc.OwnerID = tc.Command.Arg("owner_id")
			doc.Location = tc.Command.Arg("location")
			doc.ContentVersion = 1
			tc.Audit("created", "document entered lifecycle")
			tc.Effect("persist-status", persistArgs(DocStatusDraft, tc.Version))
			return nil
		},

		Transitions: []api.Transition{
			{
				Signal: SignalSubmitForReview,
				From:   []api.Status{DocStatusDraft},
				To:     DocStatusReview,
				Sync: &api.SyncActivity{
					Activity: "security-scan",
					Args: func(tc *api.TransitionContext) map[string]any {
						doc := tc.State.(*DocumentState)
						return map[string]any{
							"entity_id": tc.EntityID,
							"location":  doc.Location,
						}
					},
					Accept: func(result map[string]any) error {
						status, _ := result["status"].(string)
						if status != "passed" {
							findings, _ := result["findings"].([]string)
							return fmt.Errorf("security scan failed: %v", findings)
						}
						return nil
					},
				},
				Apply: func(tc *api.TransitionContext) error {
					tc.Effect("persist-status", persistArgs(DocStatusReview, tc.Version+1))
					return nil
				},
				AuditAction: "submitted-for-review",
			},
			{
				Signal: SignalAssignReviewer,
				From:   []api.Status{DocStatusReview},
				Apply: func(tc *api.TransitionContext) error {
					doc := tc.State.(*DocumentState)
					doc.Review.AssignedReviewerID = tc.Command.Arg("reviewer_id")
					doc.Review.AssignedAt = tc.Now
					if due := tc.Command.TimeArg("review_due"); !due.IsZero() {
						doc.Review.DueAt = due
					}
					tc.Effect("persist-status", persistArgs(DocStatusReview, tc.Version+1))
					tc.Effect("notify", notifyArgs(api.NotifyEmail, doc.Review.AssignedReviewerID,
						"approval-request", map[string]any{"title": doc.Title}))
					tc.Effect("notify", notifyArgs(api.NotifyInApp, doc.Review.AssignedReviewerID,
						"review-assigned", map[string]any{"title": doc.Title}))
					return nil
				},
			},
			{
				Signal: SignalStartReview,
				From:   []api.Status{DocStatusReview},
				Guard:  guardAssignedReviewer,
				Apply: func(tc *api.TransitionContext) error {
					doc := tc.State.(*DocumentState)
					doc.Review.StartedAt = tc.Now
					tc.Effect("persist-status", persistArgs(DocStatusReview, tc.Version+1))
					return nil
				},
			},
			{
				Signal: SignalSubmitRevision,
				From:   []api.Status{DocStatusReview},
				Guard:  guardAssignedReviewer,
				Apply: func(tc *api.TransitionContext) error {
					doc := tc.State.(*DocumentState)
					doc.ContentVersion++
					doc.Review.RevisionRequired = false
					tc.Effect("persist-status", persistArgs(DocStatusReview, tc.Version+1))
					tc.Effect("audit-write", auditArgs(tc, "revision-submitted",
						fmt.Sprintf("content version %d", doc.ContentVersion)))
					return nil
				},
				AuditAction: "revision-submitted",
			},
			{
				Signal: SignalApprove,
				From:   []api.Status{DocStatusReview},
				To:     DocStatusApproved,
				Guard:  guardRules(validator, RuleDocumentApproval),
				Apply: func(tc *api.TransitionContext) error {
					doc := tc.State.(*DocumentState)
					doc.Approval.ApprovedBy = tc.Command.RequestedBy
					doc.Approval.ApprovedAt = tc.Now
					doc.Review.CompletedAt = tc.Now
					if due := tc.Command.TimeArg("publish_due"); !due.IsZero() {
						doc.Approval.DueAt = due
					}
					tc.Effect("persist-status", persistArgs(DocStatusApproved, tc.Version+1))
					tc.Effect("audit-write", auditArgs(tc, "approved", "document approved"))
					return nil
				},
				AuditAction: "approved",
			},
			{
				Signal: SignalReject,
				From:   []api.Status{DocStatusReview},
				To:     DocStatusRejected,
				Apply: func(tc *api.TransitionContext) error {
					doc := tc.State.(*DocumentState)
					doc.Approval.RejectedBy = tc.Command.RequestedBy
					doc.Approval.RejectedReason = tc.Command.Arg("reason")
					doc.Review.CompletedAt = tc.Now
					tc.Effect("persist-status", persistArgs(DocStatusRejected, tc.Version+1))
					tc.Effect("notify", notifyArgs(api.NotifyInApp, doc.OwnerID,
						"document-rejected", map[string]any{"reason": doc.Approval.RejectedReason}))
					return nil
				},
			},
			{
				Signal: SignalRequestRevision,
				From:   []api.Status{DocStatusReview},
				Guard:  guardAssignedReviewer,
				Apply: func(tc *api.TransitionContext) error {
					doc := tc.State.(*DocumentState)
					doc.Review.RevisionRequired = true
					tc.Effect("persist-status", persistArgs(DocStatusReview, tc.Version+1))
					tc.Effect("notify", notifyArgs(api.NotifyInApp, doc.OwnerID,
						"revision-requested", map[string]any{"title": doc.Title}))
					return nil
				},
			},
			{
				Signal: SignalPublish,
				From:   []api.Status{DocStatusApproved},
				To:     DocStatusPublished,
				Guard:  guardRules(validator, RuleDocumentPublish),
				Apply: func(tc *api.TransitionContext) error {
					doc := tc.State.(*DocumentState)
					doc.Approval.PublishedAt = tc.Now
					tc.Effect("persist-status", persistArgs(DocStatusPublished, tc.Version+1))
					tc.Effect("notify", notifyArgs(api.NotifyPush, doc.OwnerID,
						"document-published", map[string]any{"title": doc.Title}))
					return nil
				},
				AuditAction: "published",
			},
			{
				Signal:       SignalArchive,
				FromTerminal: true,
				To:           DocStatusArchived,
				Guard: func(ctx context.Context, tc *api.TransitionContext) error {
					if tc.Status == DocStatusArchived {
						return api.NewGuardViolation(SignalArchive, tc.Status, "already archived")
					}
					return nil
				},
				Apply: func(tc *api.TransitionContext) error {
					tc.Effect("persist-status", persistArgs(DocStatusArchived, tc.Version+1))
					tc.Effect("audit-write", auditArgs(tc, "archived", "document archived"))
					return nil
				},
				AuditAction: "archived",
			},
			{
				Signal:       SignalUpdateAccessControl,
				FromTerminal: true,
				Apply: func(tc *api.TransitionContext) error {
					doc := tc.State.(*DocumentState)
					if v := tc.Command.Arg("visibility"); v != "" {
						doc.AccessControl.Visibility = v
					}
					if roles, ok := tc.Command.Args["allowed_roles"].([]string); ok {
						doc.AccessControl.AllowedRoles = roles
					}
					doc.AccessControl.UpdatedAt = tc.Now
					tc.Effect("persist-status", persistArgs(tc.Status, tc.Version+1))
					tc.Effect("audit-write", auditArgs(tc, "access-control-updated",
						"visibility "+doc.AccessControl.Visibility))
					return nil
				},
				AuditAction: "access-control-updated",
			},
		},

		Queries: map[string]api.QueryFunc{
			"review": func(snap api.InstanceSnapshot) any {
				return snap.State.(*DocumentState).Review
			},
			"approval": func(snap api.InstanceSnapshot) any {
				return snap.State.(*DocumentState).Approval
			},
			"security-scan": func(snap api.InstanceSnapshot) any {
				return snap.State.(*DocumentState).SecurityScan
			},
			"access-control": func(snap api.InstanceSnapshot) any {
				return snap.State.(*DocumentState).AccessControl
			},
		},

		OnActivityResult: func(state any, activity string, result map[string]any, at time.Time) {
			if activity != "security-scan" {
				return
			}
			doc := state.(*DocumentState)
			doc.SecurityScan.Status, _ = result["status"].(string)
			doc.SecurityScan.Findings, _ = result["findings"].([]string)
			doc.SecurityScan.ScannedAt = at
		},

		DueDates: func(state any) map[string]time.Time {
			doc := state.(*DocumentState)
			dues := make(map[string]time.Time, 2)
			if !doc.Review.DueAt.IsZero() && doc.Review.CompletedAt.IsZero() {
				dues["review"] = doc.Review.DueAt
			}
			if !doc.Approval.DueAt.IsZero() && doc.Approval.PublishedAt.IsZero() {
				dues["approval"] = doc.Approval.DueAt
			}
			return dues
		},

		Escalate: func(tc *api.TransitionContext, purpose string) {
			doc := tc.State.(*DocumentState)
			tc.Audit("escalation", purpose+" date overdue")
			target := doc.OwnerID
			if purpose == "review" && doc.Review.AssignedReviewerID != "" {
				target = doc.Review.AssignedReviewerID
			}
			tc.Effect("notify", notifyArgs(api.NotifyEmail, target,
				purpose+"-overdue", map[string]any{"title": doc.Title}))
		},
	}
}

// guardAssignedReviewer rejects callers other than the assigned reviewer.
func guardAssignedReviewer(ctx context.Context, tc *api.TransitionContext) error {
	doc := tc.State.(*DocumentState)
	if doc.Review.AssignedReviewerID == "" {
		return api.NewGuardViolation(tc.Command.Signal, tc.Status, "no reviewer assigned")
	}
	if tc.Command.RequestedBy != doc.Review.AssignedReviewerID {
		return api.NewGuardViolation(tc.Command.Signal, tc.Status, "caller is not the assigned reviewer")
	}
	return nil
}

// guardRules consults the external business-rule validator.
func guardRules(validator api.RuleValidator, rules ...string) api.GuardFunc {
	return func(ctx context.Context, tc *api.TransitionContext) error {
		if validator == nil {
			return nil
		}
		ok, err := validator.Validate(ctx, tc.EntityType, tc.EntityID, rules)
		if err != nil {
			return fmt.Errorf("validate %v: %w", rules, err)
		}
		if !ok {
			return api.NewGuardViolation(tc.Command.Signal, tc.Status, "business rule validation failed")
		}
		return nil
	}
}

func persistArgs(status api.Status, version int64) map[string]any {
	return map[string]any{
		"status": string(status),
		"extra":  map[string]any{"version": version},
	}
}

func notifyArgs(channel api.NotifyChannel, target, template string, data map[string]any) map[string]any {
	return map[string]any{
		"channel":  string(channel),
		"target":   target,
		"template": template,
		"data":     data,
	}
}

func auditArgs(tc *api.TransitionContext, action, detail string) map[string]any {
	return map[string]any{
		"action": action,
		"actor":  tc.Command.RequestedBy,
		"detail": detail,
		"at":     tc.Now,
	}
}
