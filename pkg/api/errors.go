package api

import (
	"errors"
	"fmt"
)

// ErrInstanceNotFound is returned when an instance ID is unknown.
var ErrInstanceNotFound = errors.New("instance not found")

// ErrLifecycleNotFound is returned when no lifecycle is registered for an
// entity type.
var ErrLifecycleNotFound = errors.New("lifecycle not found")

// GuardViolation reports a signal that is not allowed in the instance's
// current state, or a caller that lacks the required role or assignment.
//
// Guard violations are local, synchronous rejections: they are never
// retried, never escalated, and never recorded in history.
type GuardViolation struct {
	Signal string
	Status Status
	Reason string
}

func (e *GuardViolation) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("signal %q not allowed in status %q: %s", e.Signal, e.Status, e.Reason)
	}
	return fmt.Sprintf("signal %q not allowed in status %q", e.Signal, e.Status)
}

// NewGuardViolation builds a GuardViolation for the given signal and status.
func NewGuardViolation(signal string, status Status, reason string) error {
	return &GuardViolation{Signal: signal, Status: status, Reason: reason}
}

// IsGuardViolation returns the violation if err is (or wraps) one.
func IsGuardViolation(err error) (*GuardViolation, bool) {
	var g *GuardViolation
	if errors.As(err, &g) {
		return g, true
	}
	return nil, false
}

// ActivityFailure reports a side effect that failed after exhausting its
// retry policy. The owning instance remains in its pre-transition status;
// the failure is recorded in the audit trail and surfaced to the caller.
type ActivityFailure struct {
	Activity string
	Attempts int
	Err      error
}

func (e *ActivityFailure) Error() string {
	return fmt.Sprintf("activity %q failed after %d attempt(s): %v", e.Activity, e.Attempts, e.Err)
}

func (e *ActivityFailure) Unwrap() error { return e.Err }

// IsActivityFailure returns the failure if err is (or wraps) one.
func IsActivityFailure(err error) (*ActivityFailure, bool) {
	var f *ActivityFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ReplayInconsistency reports a history log that cannot be folded
// deterministically (out-of-order sequence, unknown signal, corrupted
// payload). It is fatal for the affected instance: recovery must halt and
// alert an operator rather than silently diverge.
type ReplayInconsistency struct {
	InstanceID string
	Sequence   int64
	Reason     string
}

func (e *ReplayInconsistency) Error() string {
	return fmt.Sprintf("replay inconsistency for instance %s at seq %d: %s", e.InstanceID, e.Sequence, e.Reason)
}

// IsReplayInconsistency returns the inconsistency if err is (or wraps) one.
func IsReplayInconsistency(err error) (*ReplayInconsistency, bool) {
	var r *ReplayInconsistency
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
