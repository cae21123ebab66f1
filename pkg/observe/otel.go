package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/perola/lifeline/pkg/api"
)

// TracingObserver records engine events as OpenTelemetry spans.
//
// Each event becomes a short span carrying the instance identity and the
// event-specific attributes. Spans are ended immediately; the events mark
// points in time, not durations, except for activity spans whose duration
// attribute reflects the full invocation including retries.
//
// Wire it up with a tracer from your provider:
//
//	tracer := otel.Tracer("lifeline")
//	obs := observe.NewTracingObserver(tracer)
type TracingObserver struct {
	tracer trace.Tracer
}

// NewTracingObserver creates an observer that emits spans on the given tracer.
func NewTracingObserver(tracer trace.Tracer) *TracingObserver {
	return &TracingObserver{tracer: tracer}
}

func (t *TracingObserver) span(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	_, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	span.End()
}

func (t *TracingObserver) OnInstanceCreated(ctx context.Context, snap *api.InstanceSnapshot) {
	t.span(ctx, "instance.created",
		attribute.String("instance.id", snap.ID),
		attribute.String("entity.type", string(snap.EntityType)),
		attribute.String("entity.id", snap.EntityID),
		attribute.String("status", string(snap.Status)),
	)
}

func (t *TracingObserver) OnSignalAccepted(ctx context.Context, snap *api.InstanceSnapshot, signal string) {
	t.span(ctx, "signal.accepted",
		attribute.String("instance.id", snap.ID),
		attribute.String("signal", signal),
		attribute.String("status", string(snap.Status)),
		attribute.Int64("version", snap.Version),
	)
}

func (t *TracingObserver) OnSignalRejected(ctx context.Context, snap *api.InstanceSnapshot, signal string, err error) {
	_, span := t.tracer.Start(ctx, "signal.rejected", trace.WithAttributes(
		attribute.String("instance.id", snap.ID),
		attribute.String("signal", signal),
		attribute.String("status", string(snap.Status)),
	))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

func (t *TracingObserver) OnActivityFinished(ctx context.Context, instanceID, activity string, err error, d time.Duration) {
	_, span := t.tracer.Start(ctx, "activity.finished", trace.WithAttributes(
		attribute.String("instance.id", instanceID),
		attribute.String("activity", activity),
		attribute.Int64("duration_ms", d.Milliseconds()),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *TracingObserver) OnEscalation(ctx context.Context, snap *api.InstanceSnapshot, purpose string) {
	t.span(ctx, "escalation.fired",
		attribute.String("instance.id", snap.ID),
		attribute.String("purpose", purpose),
		attribute.String("status", string(snap.Status)),
	)
}

func (t *TracingObserver) OnInstanceTerminal(ctx context.Context, snap *api.InstanceSnapshot) {
	t.span(ctx, "instance.terminal",
		attribute.String("instance.id", snap.ID),
		attribute.String("status", string(snap.Status)),
	)
}
