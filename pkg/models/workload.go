package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Workload is a unit of deployable work assigned to exactly one node.
type Workload struct {
	// Identity
	ID          string
	Name        string
	Description string
	NodeID      string

	Category  WorkloadCategory
	Priority  Priority
	Resources Resources

	// Lifecycle
	Status            WorkloadStatus
	CreatedAt         time.Time
	DeployedAt        *time.Time
	CompletedAt       *time.Time
	ExecutionDuration *float64 // seconds, set only when completed
}

// Resources is the resource request of a workload.
type Resources struct {
	CPU      resource.Quantity // cores
	MemoryMB int64
}

// WorkloadCategory is the kind of work a workload performs.
type WorkloadCategory string

const (
	WorkloadAIAnalytics    WorkloadCategory = "ai_analytics"
	WorkloadMonitoring     WorkloadCategory = "monitoring"
	WorkloadDataProcessing WorkloadCategory = "data_processing"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *WorkloadCategory) UnmarshalText(b []byte) error {
	switch v := WorkloadCategory(b); v {
	case WorkloadAIAnalytics, WorkloadMonitoring, WorkloadDataProcessing:
		*c = v
		return nil
	}
	return ErrInvalidWorkload("unknown workload type " + quote(string(b)))
}

// Priority is the scheduling priority of a workload.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	switch v := Priority(b); v {
	case PriorityLow, PriorityMedium, PriorityHigh:
		*p = v
		return nil
	}
	return ErrInvalidWorkload("unknown priority " + quote(string(b)))
}

// WorkloadStatus is a state of the workload lifecycle.
type WorkloadStatus string

const (
	WorkloadPending   WorkloadStatus = "pending"
	WorkloadRunning   WorkloadStatus = "running"
	WorkloadCompleted WorkloadStatus = "completed"
	WorkloadFailed    WorkloadStatus = "failed"
)

// ParseWorkloadStatus validates s against the workload status set.
func ParseWorkloadStatus(s string) (WorkloadStatus, error) {
	switch WorkloadStatus(s) {
	case WorkloadPending, WorkloadRunning, WorkloadCompleted, WorkloadFailed:
		return WorkloadStatus(s), nil
	}
	return "", ErrInvalidWorkload("unknown workload status " + quote(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *WorkloadStatus) UnmarshalText(b []byte) error {
	v, err := ParseWorkloadStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// IsTerminal reports whether s is completed or failed.
func (s WorkloadStatus) IsTerminal() bool {
	return s == WorkloadCompleted || s == WorkloadFailed
}

// DeepCopy returns a copy that shares no pointers with w.
func (w *Workload) DeepCopy() Workload {
	out := *w
	out.Resources.CPU = w.Resources.CPU.DeepCopy()
	if w.DeployedAt != nil {
		t := *w.DeployedAt
		out.DeployedAt = &t
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		out.CompletedAt = &t
	}
	if w.ExecutionDuration != nil {
		d := *w.ExecutionDuration
		out.ExecutionDuration = &d
	}
	return out
}

// ApplyDefaults fills fields the wire format allows to be omitted.
func (w *Workload) ApplyDefaults(now time.Time) {
	if w.Status == "" {
		w.Status = WorkloadPending
	}
	if w.Priority == "" {
		w.Priority = PriorityMedium
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
}

// Validate checks if the workload is valid.
func (w *Workload) Validate() error {
	if w.ID == "" {
		return ErrInvalidWorkload("workload ID is required")
	}
	if w.NodeID == "" {
		return ErrInvalidWorkload("node ID is required")
	}
	if _, err := ParseWorkloadStatus(string(w.Status)); err != nil {
		return err
	}
	var c WorkloadCategory
	if err := c.UnmarshalText([]byte(w.Category)); err != nil {
		return err
	}
	var p Priority
	if err := p.UnmarshalText([]byte(w.Priority)); err != nil {
		return err
	}
	if w.Resources.CPU.Sign() <= 0 {
		return ErrInvalidWorkload("cpu request must be positive")
	}
	if w.Resources.MemoryMB <= 0 {
		return ErrInvalidWorkload("memory request must be positive")
	}
	return nil
}

type workloadJSON struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	NodeID        string           `json:"node_id"`
	Category      WorkloadCategory `json:"workload_type"`
	Status        WorkloadStatus   `json:"status,omitempty"`
	CPURequest    json.RawMessage  `json:"cpu_request"`
	MemoryRequest float64          `json:"memory_request"`
	Priority      Priority         `json:"priority,omitempty"`
	CreatedAt     wireTime         `json:"created_at"`
	DeployedAt    *wireTime        `json:"deployed_at"`
	CompletedAt   *wireTime        `json:"completed_at"`
	ExecutionTime *float64         `json:"execution_time"`
}

// MarshalJSON encodes the workload in the backend wire format.
func (w Workload) MarshalJSON() ([]byte, error) {
	cpu := w.Resources.CPU.AsApproximateFloat64()
	return json.Marshal(workloadJSON{
		ID:            w.ID,
		Name:          w.Name,
		Description:   w.Description,
		NodeID:        w.NodeID,
		Category:      w.Category,
		Status:        w.Status,
		CPURequest:    json.RawMessage(strconv.FormatFloat(cpu, 'g', -1, 64)),
		MemoryRequest: float64(w.Resources.MemoryMB),
		Priority:      w.Priority,
		CreatedAt:     wireTime(w.CreatedAt),
		DeployedAt:    wirePtr(w.DeployedAt),
		CompletedAt:   wirePtr(w.CompletedAt),
		ExecutionTime: w.ExecutionDuration,
	})
}

// UnmarshalJSON decodes the backend wire format.
func (w *Workload) UnmarshalJSON(b []byte) error {
	var in workloadJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	var cpu resource.Quantity
	if raw := strings.Trim(string(in.CPURequest), `"`); raw != "" && raw != "null" {
		q, err := resource.ParseQuantity(raw)
		if err != nil {
			return ErrInvalidWorkload(fmt.Sprintf("cpu request %q: %v", raw, err))
		}
		cpu = q
	}
	if in.MemoryRequest != math.Trunc(in.MemoryRequest) {
		return ErrInvalidWorkload(fmt.Sprintf("memory request %v is not an integer", in.MemoryRequest))
	}

	*w = Workload{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		NodeID:      in.NodeID,
		Category:    in.Category,
		Priority:    in.Priority,
		Resources: Resources{
			CPU:      cpu,
			MemoryMB: int64(in.MemoryRequest),
		},
		Status:            in.Status,
		CreatedAt:         time.Time(in.CreatedAt),
		DeployedAt:        in.DeployedAt.ptr(),
		CompletedAt:       in.CompletedAt.ptr(),
		ExecutionDuration: in.ExecutionTime,
	}
	return nil
}
