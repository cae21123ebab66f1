// Package testutil holds in-memory fakes for the engine's external
// collaborators, shared by tests across packages.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/perola/lifeline/pkg/api"
)

// StatusWrite is one recorded projection write.
type StatusWrite struct {
	InstanceID string
	Status     api.Status
	Extra      map[string]any
}

// FakeProjection records status writes in memory.
type FakeProjection struct {
	mu     sync.Mutex
	Writes []StatusWrite
	// Err, when set, is returned by every UpdateStatus call.
	Err error
}

func (f *FakeProjection) UpdateStatus(ctx context.Context, instanceID string, status api.Status, extra map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Writes = append(f.Writes, StatusWrite{InstanceID: instanceID, Status: status, Extra: extra})
	return nil
}

// Last returns the most recent write, or nil when none were recorded.
func (f *FakeProjection) Last() *StatusWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Writes) == 0 {
		return nil
	}
	w := f.Writes[len(f.Writes)-1]
	return &w
}

// Count returns the number of recorded writes.
func (f *FakeProjection) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes)
}

// SentNotification is one recorded Notifier.Send call.
type SentNotification struct {
	Channel  api.NotifyChannel
	Target   string
	Template string
	Data     map[string]any
}

// FakeNotifier records notifications in memory.
type FakeNotifier struct {
	mu   sync.Mutex
	Sent []SentNotification
	// FailFirst makes the first n Send calls fail with a transient error.
	FailFirst int
	calls     int
}

func (f *FakeNotifier) Send(ctx context.Context, channel api.NotifyChannel, target, template string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.FailFirst {
		return errors.New("gateway unavailable")
	}
	f.Sent = append(f.Sent, SentNotification{Channel: channel, Target: target, Template: template, Data: data})
	return nil
}

// ByTemplate returns the recorded notifications with the given template.
func (f *FakeNotifier) ByTemplate(template string) []SentNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SentNotification
	for _, n := range f.Sent {
		if n.Template == template {
			out = append(out, n)
		}
	}
	return out
}

// Count returns the number of successful sends.
func (f *FakeNotifier) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// StaticValidator answers every rule evaluation with a fixed verdict.
type StaticValidator struct {
	OK  bool
	Err error

	mu    sync.Mutex
	Rules [][]string
}

func (v *StaticValidator) Validate(ctx context.Context, entityType api.EntityType, entityID string, rules []string) (bool, error) {
	v.mu.Lock()
	v.Rules = append(v.Rules, rules)
	v.mu.Unlock()
	if v.Err != nil {
		return false, v.Err
	}
	return v.OK, nil
}

// FakeScanner returns a fixed scan report. When Err is set the scan call
// itself fails, as distinct from a report with Status "failed".
type FakeScanner struct {
	Report api.ScanReport
	Err    error

	mu    sync.Mutex
	Scans int
}

func (f *FakeScanner) Scan(ctx context.Context, entityID, location string) (api.ScanReport, error) {
	f.mu.Lock()
	f.Scans++
	f.mu.Unlock()
	if f.Err != nil {
		return api.ScanReport{}, f.Err
	}
	return f.Report, nil
}

// ScanCount returns how many times Scan was called.
func (f *FakeScanner) ScanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Scans
}

// FakeAuditSink records exported audit entries in memory.
type FakeAuditSink struct {
	mu      sync.Mutex
	Entries map[string][]api.AuditEntry
}

func (f *FakeAuditSink) Record(ctx context.Context, instanceID string, entry api.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Entries == nil {
		f.Entries = make(map[string][]api.AuditEntry)
	}
	f.Entries[instanceID] = append(f.Entries[instanceID], entry)
	return nil
}

// For returns the entries exported for one instance.
func (f *FakeAuditSink) For(instanceID string) []api.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Entries[instanceID]
}
