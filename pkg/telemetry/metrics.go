// Package telemetry holds the Prometheus instrumentation of the engine.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/raycarroll/edgefleet/pkg/models"
	"github.com/raycarroll/edgefleet/pkg/store"
)

const namespace = "edgefleet"

// Metrics is the engine's collector set, registered on its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	// events counts applied stream events.
	// Labels: type (envelope tag)
	events *prometheus.CounterVec

	// decodeErrors counts dropped stream messages.
	decodeErrors prometheus.Counter

	// notifications counts raised security notifications.
	// Labels: severity (high, critical)
	notifications *prometheus.CounterVec

	// transitions counts workload state machine transitions.
	// Labels: from, to
	transitions *prometheus.CounterVec

	// refreshes counts full refresh outcomes.
	// Labels: outcome (success, failure)
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram

	// connState is 0 disconnected, 1 connected, 2 error.
	connState  prometheus.Gauge
	reconnects prometheus.Counter

	// nodes and workloads track the last observed snapshot.
	// Labels: status
	nodes     *prometheus.GaugeVec
	workloads *prometheus.GaugeVec
}

// New creates the collector set with Go and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "events_total",
			Help:      "Stream events applied, by type",
		}, []string{"type"}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "decode_errors_total",
			Help:      "Stream messages dropped as malformed",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "notifications_total",
			Help:      "Security notifications raised, by severity",
		}, []string{"severity"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Workload transitions, by source and target status",
		}, []string{"from", "to"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "refreshes_total",
			Help:      "Full refreshes, by outcome",
		}, []string{"outcome"}),
		refreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "refresh_duration_seconds",
			Help:      "Full refresh latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		connState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "Stream connection state (0 disconnected, 1 connected, 2 error)",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Stream reconnect attempts",
		}),
		nodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "nodes",
			Help:      "Nodes in the last snapshot, by status",
		}, []string{"status"}),
		workloads: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "workloads",
			Help:      "Workloads in the last snapshot, by status",
		}, []string{"status"}),
	}
}

// ObserveEvent counts an applied stream event.
func (m *Metrics) ObserveEvent(eventType string) {
	m.events.WithLabelValues(eventType).Inc()
}

// ObserveDecodeError counts a dropped message.
func (m *Metrics) ObserveDecodeError() {
	m.decodeErrors.Inc()
}

// ObserveNotification counts a security notification.
func (m *Metrics) ObserveNotification(sev models.Severity) {
	m.notifications.WithLabelValues(string(sev)).Inc()
}

// ObserveTransition counts a workload transition.
func (m *Metrics) ObserveTransition(rec models.TransitionRecord) {
	m.transitions.WithLabelValues(string(rec.From), string(rec.To)).Inc()
}

// ObserveRefresh records a full refresh outcome.
func (m *Metrics) ObserveRefresh(err error, took time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.refreshes.WithLabelValues(outcome).Inc()
	m.refreshDuration.Observe(took.Seconds())
}

// SetConnState records the stream connection state.
func (m *Metrics) SetConnState(state int) {
	m.connState.Set(float64(state))
}

// ObserveReconnect counts a reconnect attempt.
func (m *Metrics) ObserveReconnect() {
	m.reconnects.Inc()
}

// ObserveSnapshot updates the fleet gauges from snap.
func (m *Metrics) ObserveSnapshot(snap store.Snapshot) {
	for _, s := range []models.NodeStatus{models.NodeOnline, models.NodeOffline, models.NodeMaintenance} {
		m.nodes.WithLabelValues(string(s)).Set(0)
	}
	for _, n := range snap.Nodes {
		m.nodes.WithLabelValues(string(n.Status)).Inc()
	}

	for _, s := range []models.WorkloadStatus{models.WorkloadPending, models.WorkloadRunning, models.WorkloadCompleted, models.WorkloadFailed} {
		m.workloads.WithLabelValues(string(s)).Set(0)
	}
	for _, w := range snap.Workloads {
		m.workloads.WithLabelValues(string(w.Status)).Inc()
	}
}
