package store

import (
	"encoding/json"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// UnknownNodeName is shown for workloads whose node no longer exists.
const UnknownNodeName = "Unknown Node"

// Snapshot is a point-in-time copy of the store. It shares no memory with
// the store and is safe to read from any goroutine.
type Snapshot struct {
	Nodes          []models.Node          `json:"nodes"`
	Workloads      []models.Workload      `json:"workloads"`
	SecurityEvents []models.SecurityEvent `json:"security_events"`

	nodeIndex map[string]int
}

// WorkloadView is a workload with its node name resolved.
type WorkloadView struct {
	models.Workload
	NodeName string `json:"node_name"`
}

// MarshalJSON adds node_name to the workload wire format.
func (v WorkloadView) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(v.Workload)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	name, _ := json.Marshal(v.NodeName)
	m["node_name"] = name
	return json.Marshal(m)
}

// Node looks up a node in the snapshot.
func (s Snapshot) Node(id string) (models.Node, bool) {
	if s.nodeIndex == nil {
		for _, n := range s.Nodes {
			if n.ID == id {
				return n, true
			}
		}
		return models.Node{}, false
	}
	i, ok := s.nodeIndex[id]
	if !ok {
		return models.Node{}, false
	}
	return s.Nodes[i], true
}

// NodeName resolves a node ID, falling back to UnknownNodeName.
func (s Snapshot) NodeName(id string) string {
	if n, ok := s.Node(id); ok {
		return n.Name
	}
	return UnknownNodeName
}

// WorkloadViews lists workloads with resolved node names.
func (s Snapshot) WorkloadViews() []WorkloadView {
	out := make([]WorkloadView, 0, len(s.Workloads))
	for _, w := range s.Workloads {
		out = append(out, WorkloadView{Workload: w, NodeName: s.NodeName(w.NodeID)})
	}
	return out
}

// OnlineNodes returns the nodes with status online.
func (s Snapshot) OnlineNodes() []models.Node {
	var out []models.Node
	for _, n := range s.Nodes {
		if n.IsOnline() {
			out = append(out, n)
		}
	}
	return out
}

// WorkloadCounts returns the number of workloads per node ID.
func (s Snapshot) WorkloadCounts() map[string]int {
	out := make(map[string]int, len(s.Nodes))
	for _, w := range s.Workloads {
		out[w.NodeID]++
	}
	return out
}
