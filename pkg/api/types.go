package api

import (
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register(time.Time{})
	gob.Register(int64(0))
}

// EntityType identifies which lifecycle shape an instance follows.
type EntityType string

const (
	EntityDocument    EntityType = "document"
	EntityApplication EntityType = "application"
	EntityProject     EntityType = "project"
	EntityDeadlineSet EntityType = "deadline-set"
)

// Status is a lifecycle state. The set of valid values is declared by the
// LifecycleDefinition for the instance's entity type.
type Status string

// Command is an inbound signal: an attempt to transition one instance.
// Commands are validated by a guard before being folded into state; a
// rejected command is discarded and never recorded in history.
type Command struct {
	Signal      string
	Args        map[string]any
	RequestedBy string
}

// Arg returns the named argument as a string, or "" if absent.
func (c Command) Arg(name string) string {
	if v, ok := c.Args[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// TimeArg returns the named argument as a time.Time, or the zero time.
func (c Command) TimeArg(name string) time.Time {
	if v, ok := c.Args[name]; ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}

// AuditEntry is one record in an instance's compliance audit trail.
// The audit trail is append-only and distinct from the operational
// history log: it tracks who did what, for regulated actions only.
type AuditEntry struct {
	At     time.Time
	Actor  string
	Action string
	Detail string
}

// InstanceSnapshot is an immutable projection of one instance's committed
// state. Queries return copies; mutating a snapshot has no effect on the
// running instance.
type InstanceSnapshot struct {
	ID         string
	EntityType EntityType
	EntityID   string
	Status     Status
	Version    int64
	State      any
	AuditTrail []AuditEntry
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InstanceFilter selects instances when listing.
// Zero values mean "no filter" for that field.
type InstanceFilter struct {
	EntityType EntityType
	Status     Status
}

// RetryPolicy controls how an activity is retried when it returns an error.
// MaxAttempts includes the first attempt. For example:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
type RetryPolicy struct {
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-attempt delay. Zero means no cap.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt.
	// Values <= 0 default to 2.0 (standard exponential backoff).
	BackoffMultiplier float64

	// Backoff is a constant delay between attempts.
	//
	// Deprecated: use InitialBackoff. Kept for callers that want a flat
	// delay without thinking about multipliers.
	Backoff time.Duration
}

// ActivityRequest describes one side-effecting operation to execute.
// IdempotencyKey is stable across retries and crash/redelivery so that
// downstream systems can deduplicate.
type ActivityRequest struct {
	InstanceID string
	Sequence   int64
	Activity   string
	Args       map[string]any

	// IdempotencyKey is derived from (InstanceID, Sequence, Activity).
	IdempotencyKey string
}

// Clock abstracts wall-clock access so escalation loops and retry backoff
// can be driven deterministically in tests. Implementations must be safe
// for concurrent use across many instances.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns a Clock backed by the real time package.
func SystemClock() Clock { return systemClock{} }
