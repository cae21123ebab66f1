package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay signal handling.
type Observer interface {
	// OnInstanceCreated is called once when an instance enters its
	// lifecycle, after the creation entry is committed.
	OnInstanceCreated(ctx context.Context, snap *InstanceSnapshot)

	// OnSignalAccepted is called after a signal passes its guard and its
	// transition is committed to history.
	OnSignalAccepted(ctx context.Context, snap *InstanceSnapshot, signal string)

	// OnSignalRejected is called when a guard rejects a signal. Rejected
	// signals are not recorded in history.
	OnSignalRejected(ctx context.Context, snap *InstanceSnapshot, signal string, err error)

	// OnActivityFinished is called after an activity invocation settles,
	// for both successes and failures (err != nil).
	OnActivityFinished(ctx context.Context, instanceID, activity string, err error, duration time.Duration)

	// OnEscalation is called when an overdue deadline fires an escalation.
	OnEscalation(ctx context.Context, snap *InstanceSnapshot, purpose string)

	// OnInstanceTerminal is called when an instance reaches a terminal
	// status and its escalation loop (if any) is stopped.
	OnInstanceTerminal(ctx context.Context, snap *InstanceSnapshot)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceCreated(ctx context.Context, snap *InstanceSnapshot)                {}
func (NoopObserver) OnSignalAccepted(ctx context.Context, snap *InstanceSnapshot, signal string)  {}
func (NoopObserver) OnSignalRejected(ctx context.Context, snap *InstanceSnapshot, signal string, err error) {
}
func (NoopObserver) OnActivityFinished(ctx context.Context, instanceID, activity string, err error, d time.Duration) {
}
func (NoopObserver) OnEscalation(ctx context.Context, snap *InstanceSnapshot, purpose string) {}
func (NoopObserver) OnInstanceTerminal(ctx context.Context, snap *InstanceSnapshot)           {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceCreated(ctx context.Context, snap *InstanceSnapshot) {
	for _, o := range c.observers {
		o.OnInstanceCreated(ctx, snap)
	}
}

func (c *CompositeObserver) OnSignalAccepted(ctx context.Context, snap *InstanceSnapshot, signal string) {
	for _, o := range c.observers {
		o.OnSignalAccepted(ctx, snap, signal)
	}
}

func (c *CompositeObserver) OnSignalRejected(ctx context.Context, snap *InstanceSnapshot, signal string, err error) {
	for _, o := range c.observers {
		o.OnSignalRejected(ctx, snap, signal, err)
	}
}

func (c *CompositeObserver) OnActivityFinished(ctx context.Context, instanceID, activity string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityFinished(ctx, instanceID, activity, err, d)
	}
}

func (c *CompositeObserver) OnEscalation(ctx context.Context, snap *InstanceSnapshot, purpose string) {
	for _, o := range c.observers {
		o.OnEscalation(ctx, snap, purpose)
	}
}

func (c *CompositeObserver) OnInstanceTerminal(ctx context.Context, snap *InstanceSnapshot) {
	for _, o := range c.observers {
		o.OnInstanceTerminal(ctx, snap)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs lifecycle events using
// the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceCreated(ctx context.Context, snap *InstanceSnapshot) {
	o.Logger.InfoContext(ctx, "instance_created",
		slog.String("instance_id", snap.ID),
		slog.String("entity_type", string(snap.EntityType)),
		slog.String("status", string(snap.Status)),
	)
}

func (o *LoggingObserver) OnSignalAccepted(ctx context.Context, snap *InstanceSnapshot, signal string) {
	o.Logger.InfoContext(ctx, "signal_accepted",
		slog.String("instance_id", snap.ID),
		slog.String("signal", signal),
		slog.String("status", string(snap.Status)),
		slog.Int64("version", snap.Version),
	)
}

func (o *LoggingObserver) OnSignalRejected(ctx context.Context, snap *InstanceSnapshot, signal string, err error) {
	o.Logger.WarnContext(ctx, "signal_rejected",
		slog.String("instance_id", snap.ID),
		slog.String("signal", signal),
		slog.String("status", string(snap.Status)),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnActivityFinished(ctx context.Context, instanceID, activity string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "activity_finished",
		slog.String("instance_id", instanceID),
		slog.String("activity", activity),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnEscalation(ctx context.Context, snap *InstanceSnapshot, purpose string) {
	o.Logger.WarnContext(ctx, "escalation",
		slog.String("instance_id", snap.ID),
		slog.String("purpose", purpose),
		slog.String("status", string(snap.Status)),
	)
}

func (o *LoggingObserver) OnInstanceTerminal(ctx context.Context, snap *InstanceSnapshot) {
	o.Logger.InfoContext(ctx, "instance_terminal",
		slog.String("instance_id", snap.ID),
		slog.String("status", string(snap.Status)),
	)
}

// BasicMetrics collects simple counters and aggregate activity durations.
// It implements Observer and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesCreated  atomic.Int64
	signalsAccepted   atomic.Int64
	signalsRejected   atomic.Int64
	escalations       atomic.Int64
	instancesTerminal atomic.Int64

	activitiesFinished    atomic.Int64
	activitiesFailed      atomic.Int64
	totalActivityDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesCreated  int64
	SignalsAccepted   int64
	SignalsRejected   int64
	Escalations       int64
	InstancesTerminal int64

	ActivitiesFinished  int64
	ActivitiesFailed    int64
	AvgActivityDuration time.Duration
}

func (m *BasicMetrics) OnInstanceCreated(ctx context.Context, snap *InstanceSnapshot) {
	m.instancesCreated.Add(1)
}

func (m *BasicMetrics) OnSignalAccepted(ctx context.Context, snap *InstanceSnapshot, signal string) {
	m.signalsAccepted.Add(1)
}

func (m *BasicMetrics) OnSignalRejected(ctx context.Context, snap *InstanceSnapshot, signal string, err error) {
	m.signalsRejected.Add(1)
}

func (m *BasicMetrics) OnActivityFinished(ctx context.Context, instanceID, activity string, err error, d time.Duration) {
	m.activitiesFinished.Add(1)
	if err != nil {
		m.activitiesFailed.Add(1)
		return
	}
	m.totalActivityDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnEscalation(ctx context.Context, snap *InstanceSnapshot, purpose string) {
	m.escalations.Add(1)
}

func (m *BasicMetrics) OnInstanceTerminal(ctx context.Context, snap *InstanceSnapshot) {
	m.instancesTerminal.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	finished := m.activitiesFinished.Load()
	failed := m.activitiesFailed.Load()
	totalNs := m.totalActivityDuration.Load()

	var avg time.Duration
	if ok := finished - failed; ok > 0 {
		avg = time.Duration(totalNs / ok)
	}

	return BasicMetricsSnapshot{
		InstancesCreated:    m.instancesCreated.Load(),
		SignalsAccepted:     m.signalsAccepted.Load(),
		SignalsRejected:     m.signalsRejected.Load(),
		Escalations:         m.escalations.Load(),
		InstancesTerminal:   m.instancesTerminal.Load(),
		ActivitiesFinished:  finished,
		ActivitiesFailed:    failed,
		AvgActivityDuration: avg,
	}
}
