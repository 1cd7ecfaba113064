package models

import (
	"time"

	"k8s.io/apimachinery/pkg/types"
)

// PodWorkloadMapping tracks which workload backs a pod on the virtual node.
type PodWorkloadMapping struct {
	PodKey     string    // namespace/name
	Namespace  string
	Name       string
	PodUID     types.UID // Kubernetes pod UID for uniqueness
	WorkloadID string
	NodeID     string
	CreatedAt  time.Time
}

// NewPodWorkloadMapping creates a new mapping.
func NewPodWorkloadMapping(namespace, name string, uid types.UID, workloadID, nodeID string, now time.Time) *PodWorkloadMapping {
	return &PodWorkloadMapping{
		PodKey:     namespace + "/" + name,
		Namespace:  namespace,
		Name:       name,
		PodUID:     uid,
		WorkloadID: workloadID,
		NodeID:     nodeID,
		CreatedAt:  now,
	}
}
