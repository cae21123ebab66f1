package api

import "context"

// The interfaces in this file are the engine's external collaborators.
// Their implementations (real databases, mail gateways, scanners) live
// outside this module; the engine invokes them through the activity layer
// and tests substitute in-memory fakes.

// ProjectionWriter persists an instance's current status to the external
// read store. Writes are idempotent upserts keyed by (instanceID, version):
// at-least-once delivery may repeat them.
type ProjectionWriter interface {
	UpdateStatus(ctx context.Context, instanceID string, status Status, extra map[string]any) error
}

// NotifyChannel selects a notification transport.
type NotifyChannel string

const (
	NotifyEmail NotifyChannel = "email"
	NotifySMS   NotifyChannel = "sms"
	NotifyPush  NotifyChannel = "push"
	NotifyInApp NotifyChannel = "in-app"
)

// Notifier delivers a notification to one target. Delivery is
// at-least-once; recipients must tolerate duplicates.
type Notifier interface {
	Send(ctx context.Context, channel NotifyChannel, target, template string, data map[string]any) error
}

// RuleValidator evaluates business rules synchronously and without side
// effects. Guards consult it on the live path only.
type RuleValidator interface {
	Validate(ctx context.Context, entityType EntityType, entityID string, rules []string) (bool, error)
}

// ScanReport is the outcome of a security scan.
type ScanReport struct {
	Status   string // "passed" | "failed"
	Findings []string
}

// SecurityScanner runs a (potentially long) content scan. It is invoked
// exactly once per submit-for-review transition attempt.
type SecurityScanner interface {
	Scan(ctx context.Context, entityID, location string) (ScanReport, error)
}

// AuditSink receives copies of audit-relevant entries for external
// compliance storage. The instance's own audit trail is authoritative;
// the sink is an export target and may be written more than once.
type AuditSink interface {
	Record(ctx context.Context, instanceID string, entry AuditEntry) error
}
