// Package observe provides production observers for the engine: a
// Prometheus metrics collector and an OpenTelemetry tracing observer.
// Both implement api.Observer and compose with the logging observer via
// api.NewCompositeObserver.
package observe

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/perola/lifeline/pkg/api"
)

// PrometheusObserver exports engine events as Prometheus metrics.
//
// Metrics (all namespaced "lifeline"):
//
//   - instances_created_total (counter): instances entered into a lifecycle.
//     Labels: entity_type.
//   - signals_total (counter): signal deliveries by outcome.
//     Labels: entity_type, signal, outcome (accepted/rejected).
//   - activity_duration_seconds (histogram): activity invocation latency.
//     Labels: activity, status (success/error).
//   - escalations_total (counter): overdue deadlines fired.
//     Labels: entity_type, purpose.
//   - instances_terminal_total (counter): instances reaching a terminal status.
//     Labels: entity_type, status.
//   - resident_instances (gauge): instances currently resident in memory.
//
// Expose the registry over HTTP with promhttp for scraping.
type PrometheusObserver struct {
	api.NoopObserver

	instancesCreated  *prometheus.CounterVec
	signals           *prometheus.CounterVec
	activityDuration  *prometheus.HistogramVec
	escalations       *prometheus.CounterVec
	instancesTerminal *prometheus.CounterVec
	resident          prometheus.Gauge
}

// NewPrometheusObserver creates an observer registered with the given
// registry. A nil registry falls back to prometheus.DefaultRegisterer.
func NewPrometheusObserver(registry prometheus.Registerer) *PrometheusObserver {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusObserver{
		instancesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifeline",
			Name:      "instances_created_total",
			Help:      "Instances entered into a lifecycle",
		}, []string{"entity_type"}),

		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifeline",
			Name:      "signals_total",
			Help:      "Signal deliveries by outcome",
		}, []string{"entity_type", "signal", "outcome"}),

		activityDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lifeline",
			Name:      "activity_duration_seconds",
			Help:      "Activity invocation latency including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"activity", "status"}),

		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifeline",
			Name:      "escalations_total",
			Help:      "Overdue deadlines that fired an escalation",
		}, []string{"entity_type", "purpose"}),

		instancesTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifeline",
			Name:      "instances_terminal_total",
			Help:      "Instances that reached a terminal status",
		}, []string{"entity_type", "status"}),

		resident: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lifeline",
			Name:      "resident_instances",
			Help:      "Instances currently resident in memory",
		}),
	}
}

func (p *PrometheusObserver) OnInstanceCreated(ctx context.Context, snap *api.InstanceSnapshot) {
	p.instancesCreated.WithLabelValues(string(snap.EntityType)).Inc()
	p.resident.Inc()
}

func (p *PrometheusObserver) OnSignalAccepted(ctx context.Context, snap *api.InstanceSnapshot, signal string) {
	p.signals.WithLabelValues(string(snap.EntityType), signal, "accepted").Inc()
}

func (p *PrometheusObserver) OnSignalRejected(ctx context.Context, snap *api.InstanceSnapshot, signal string, err error) {
	p.signals.WithLabelValues(string(snap.EntityType), signal, "rejected").Inc()
}

func (p *PrometheusObserver) OnActivityFinished(ctx context.Context, instanceID, activity string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.activityDuration.WithLabelValues(activity, status).Observe(d.Seconds())
}

func (p *PrometheusObserver) OnEscalation(ctx context.Context, snap *api.InstanceSnapshot, purpose string) {
	p.escalations.WithLabelValues(string(snap.EntityType), purpose).Inc()
}

func (p *PrometheusObserver) OnInstanceTerminal(ctx context.Context, snap *api.InstanceSnapshot) {
	p.instancesTerminal.WithLabelValues(string(snap.EntityType), string(snap.Status)).Inc()
	p.resident.Dec()
}
