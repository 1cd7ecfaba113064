package models

import (
	"encoding/json"
	"time"
)

// Node represents an edge compute endpoint reporting telemetry.
type Node struct {
	// Identity
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Location string       `json:"location"`
	Category NodeCategory `json:"node_type"`

	// Status
	Status         NodeStatus     `json:"status"`
	SecurityStatus SecurityStatus `json:"security_status,omitempty"`
	LastHeartbeat  time.Time      `json:"last_heartbeat"`

	// Live gauges, patched by metrics_update events
	Gauges

	// Metadata
	KubernetesVersion string    `json:"kubernetes_version,omitempty"`
	CreatedAt         time.Time `json:"created_at"`

	// WorkloadCount is derived by the store from workload assignments.
	WorkloadCount int `json:"workload_count"`
}

// UnmarshalJSON accepts naive ISO8601 timestamps as well as RFC3339.
// Timestamps absent from b keep their current value.
func (n *Node) UnmarshalJSON(b []byte) error {
	type plain Node
	in := struct {
		*plain
		LastHeartbeat wireTime `json:"last_heartbeat"`
		CreatedAt     wireTime `json:"created_at"`
	}{
		plain:         (*plain)(n),
		LastHeartbeat: wireTime(n.LastHeartbeat),
		CreatedAt:     wireTime(n.CreatedAt),
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	n.LastHeartbeat = time.Time(in.LastHeartbeat)
	n.CreatedAt = time.Time(in.CreatedAt)
	return nil
}

// Gauges holds the current resource readings of a node.
type Gauges struct {
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    float64 `json:"memory_usage"`
	NetworkLatency float64 `json:"network_latency"`
}

// Field names a single gauge.
type Field string

const (
	FieldCPU     Field = "cpu_usage"
	FieldMemory  Field = "memory_usage"
	FieldLatency Field = "network_latency"
)

// Fields lists every gauge field.
var Fields = []Field{FieldCPU, FieldMemory, FieldLatency}

// Value returns the reading for f, or 0 for an unknown field.
func (g Gauges) Value(f Field) float64 {
	switch f {
	case FieldCPU:
		return g.CPUUsage
	case FieldMemory:
		return g.MemoryUsage
	case FieldLatency:
		return g.NetworkLatency
	}
	return 0
}

// HealthScore ranks nodes from best to worst: (100-cpu)+(100-memory)-latency.
func (g Gauges) HealthScore() float64 {
	return (100 - g.CPUUsage) + (100 - g.MemoryUsage) - g.NetworkLatency
}

// LoadScore ranks nodes by pressure: cpu+memory+latency.
func (g Gauges) LoadScore() float64 {
	return g.CPUUsage + g.MemoryUsage + g.NetworkLatency
}

// NodeCategory is the hardware class of a node.
type NodeCategory string

const (
	CategoryCamera  NodeCategory = "camera"
	CategorySensor  NodeCategory = "sensor"
	CategoryGeneral NodeCategory = "general"
)

// ParseNodeCategory accepts the canonical names and the legacy
// traffic_camera/air_quality_sensor spellings.
func ParseNodeCategory(s string) (NodeCategory, error) {
	switch s {
	case "camera", "traffic_camera":
		return CategoryCamera, nil
	case "sensor", "air_quality_sensor":
		return CategorySensor, nil
	case "general":
		return CategoryGeneral, nil
	}
	return "", ErrInvalidNode("unknown node type " + quote(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *NodeCategory) UnmarshalText(b []byte) error {
	v, err := ParseNodeCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// NodeStatus represents the operating state of a node.
type NodeStatus string

const (
	NodeOnline      NodeStatus = "online"
	NodeOffline     NodeStatus = "offline"
	NodeMaintenance NodeStatus = "maintenance"
)

// ParseNodeStatus validates s against the node status set.
func ParseNodeStatus(s string) (NodeStatus, error) {
	switch NodeStatus(s) {
	case NodeOnline, NodeOffline, NodeMaintenance:
		return NodeStatus(s), nil
	}
	return "", ErrInvalidNode("unknown node status " + quote(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *NodeStatus) UnmarshalText(b []byte) error {
	v, err := ParseNodeStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// SecurityStatus summarises the security posture of a node.
type SecurityStatus string

const (
	SecuritySecure     SecurityStatus = "secure"
	SecurityWarning    SecurityStatus = "warning"
	SecurityVulnerable SecurityStatus = "vulnerable"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SecurityStatus) UnmarshalText(b []byte) error {
	switch v := SecurityStatus(b); v {
	case SecuritySecure, SecurityWarning, SecurityVulnerable:
		*s = v
		return nil
	}
	return ErrInvalidNode("unknown security status " + quote(string(b)))
}

// IsOnline returns true if the node is online.
func (n *Node) IsOnline() bool {
	return n.Status == NodeOnline
}

// ApplyDefaults fills fields the wire format allows to be omitted.
func (n *Node) ApplyDefaults(now time.Time) {
	if n.Status == "" {
		n.Status = NodeOffline
	}
	if n.Category == "" {
		n.Category = CategoryGeneral
	}
	if n.SecurityStatus == "" {
		n.SecurityStatus = SecuritySecure
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.LastHeartbeat.IsZero() {
		n.LastHeartbeat = now
	}
}

// Validate checks if the node is valid.
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrInvalidNode("node ID is required")
	}
	if _, err := ParseNodeStatus(string(n.Status)); err != nil {
		return err
	}
	if _, err := ParseNodeCategory(string(n.Category)); err != nil {
		return err
	}
	return nil
}
