package router

import (
	"time"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// Envelope type tags.
const (
	TypeMetricsUpdate   = "metrics_update"
	TypeNodeCreated     = "node_created"
	TypeNodeUpdated     = "node_updated"
	TypeNodeDeleted     = "node_deleted"
	TypeWorkloadCreated = "workload_created"
	TypeWorkloadUpdated = "workload_updated"
	TypeSecurityEvent   = "security_event"
)

// Event is a decoded stream message. The variants below are the complete
// set; Dispatch switches over them exhaustively.
type Event interface {
	// Type returns the envelope tag the event was decoded from.
	Type() string
	isEvent()
}

// GaugePatch carries the gauges present in a metrics_update. Absent
// readings keep the node's current value.
type GaugePatch struct {
	CPUUsage       *float64
	MemoryUsage    *float64
	NetworkLatency *float64
}

// Apply overlays the present readings on g.
func (p GaugePatch) Apply(g models.Gauges) models.Gauges {
	if p.CPUUsage != nil {
		g.CPUUsage = *p.CPUUsage
	}
	if p.MemoryUsage != nil {
		g.MemoryUsage = *p.MemoryUsage
	}
	if p.NetworkLatency != nil {
		g.NetworkLatency = *p.NetworkLatency
	}
	return g
}

// Empty reports whether no reading is present.
func (p GaugePatch) Empty() bool {
	return p.CPUUsage == nil && p.MemoryUsage == nil && p.NetworkLatency == nil
}

// MetricsUpdate is a telemetry report for one node.
type MetricsUpdate struct {
	NodeID    string
	Patch     GaugePatch
	Timestamp time.Time
}

// NodeUpserted carries a full node record from node_created or node_updated.
type NodeUpserted struct {
	Tag  string
	Node models.Node
}

// NodeDeleted removes a node.
type NodeDeleted struct {
	NodeID string
}

// WorkloadUpserted carries a full workload record from workload_created or
// workload_updated.
type WorkloadUpserted struct {
	Tag      string
	Workload models.Workload
}

// SecurityAlert carries a security event.
type SecurityAlert struct {
	Event models.SecurityEvent
}

// Unrecognized is an envelope with a type this router does not handle.
type Unrecognized struct {
	Tag string
}

func (MetricsUpdate) Type() string      { return TypeMetricsUpdate }
func (e NodeUpserted) Type() string     { return e.Tag }
func (NodeDeleted) Type() string        { return TypeNodeDeleted }
func (e WorkloadUpserted) Type() string { return e.Tag }
func (SecurityAlert) Type() string      { return TypeSecurityEvent }
func (e Unrecognized) Type() string     { return e.Tag }

func (MetricsUpdate) isEvent()    {}
func (NodeUpserted) isEvent()     {}
func (NodeDeleted) isEvent()      {}
func (WorkloadUpserted) isEvent() {}
func (SecurityAlert) isEvent()    {}
func (Unrecognized) isEvent()     {}

// Notification is raised for high and critical security events.
type Notification struct {
	ID        string          `json:"id"`
	NodeID    string          `json:"node_id"`
	NodeName  string          `json:"node_name"`
	Severity  models.Severity `json:"severity"`
	EventType string          `json:"event_type"`
	Message   string          `json:"message"`
	Time      time.Time       `json:"time"`
}
