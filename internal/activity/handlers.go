package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/perola/lifeline/pkg/api"
)

// Activity names understood by the standard handler set. Lifecycle
// definitions stage effects under these names.
const (
	NamePersistStatus = "persist-status"
	NameNotify        = "notify"
	NameAuditWrite    = "audit-write"
	NameSecurityScan  = "security-scan"
)

// Collaborators bundles the external systems the standard handlers invoke.
// Nil fields disable the corresponding handler.
type Collaborators struct {
	Projection api.ProjectionWriter
	Notifier   api.Notifier
	Validator  api.RuleValidator
	Scanner    api.SecurityScanner
	Audit      api.AuditSink
}

// RegisterStandardHandlers binds the built-in activities to the given
// collaborators on the invoker.
func RegisterStandardHandlers(inv *Invoker, c Collaborators) {
	if c.Projection != nil {
		inv.Register(NamePersistStatus, persistStatusHandler(c.Projection))
	}
	if c.Notifier != nil {
		inv.Register(NameNotify, notifyHandler(c.Notifier))
	}
	if c.Audit != nil {
		inv.Register(NameAuditWrite, auditWriteHandler(c.Audit))
	}
	if c.Scanner != nil {
		inv.Register(NameSecurityScan, securityScanHandler(c.Scanner))
	}
}

func persistStatusHandler(w api.ProjectionWriter) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		instanceID, _ := args["instance_id"].(string)
		status, _ := args["status"].(string)
		if instanceID == "" || status == "" {
			return nil, errors.New("persist-status: instance_id and status are required")
		}
		extra, _ := args["extra"].(map[string]any)
		if err := w.UpdateStatus(ctx, instanceID, api.Status(status), extra); err != nil {
			return nil, err
		}
		return map[string]any{"persisted": true}, nil
	}
}

func notifyHandler(n api.Notifier) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		channel, _ := args["channel"].(string)
		target, _ := args["target"].(string)
		template, _ := args["template"].(string)
		if target == "" || template == "" {
			return nil, errors.New("notify: target and template are required")
		}
		if channel == "" {
			channel = string(api.NotifyInApp)
		}
		data, _ := args["data"].(map[string]any)
		if err := n.Send(ctx, api.NotifyChannel(channel), target, template, data); err != nil {
			return nil, err
		}
		return map[string]any{"sent": true}, nil
	}
}

func auditWriteHandler(sink api.AuditSink) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		instanceID, _ := args["instance_id"].(string)
		action, _ := args["action"].(string)
		if action == "" {
			return nil, errors.New("audit-write: action is required")
		}
		actor, _ := args["actor"].(string)
		detail, _ := args["detail"].(string)
		at, _ := args["at"].(time.Time)
		if at.IsZero() {
			at = time.Now()
		}
		entry := api.AuditEntry{At: at, Actor: actor, Action: action, Detail: detail}
		if err := sink.Record(ctx, instanceID, entry); err != nil {
			return nil, err
		}
		return map[string]any{"recorded": true}, nil
	}
}

func securityScanHandler(s api.SecurityScanner) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		entityID, _ := args["entity_id"].(string)
		location, _ := args["location"].(string)
		if entityID == "" {
			return nil, errors.New("security-scan: entity_id is required")
		}
		report, err := s.Scan(ctx, entityID, location)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", entityID, err)
		}
		return map[string]any{
			"status":   report.Status,
			"findings": report.Findings,
		}, nil
	}
}
