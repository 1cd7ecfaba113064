package models

import (
	"fmt"
	"sort"
)

// PlacementTarget describes where a workload may be placed.
type PlacementTarget struct {
	NodeID   *string       // If set, place on this node only
	Category *NodeCategory // If set, restrict to nodes of this category
}

// SelectNode selects the best node from the candidate list.
// Algorithm:
// 1. Build candidate list (category filter)
// 2. Filter by Status=online
// 3. Sort by health score (descending)
// 4. Tie-break by fewest assigned workloads, then by ID
func (pt *PlacementTarget) SelectNode(nodes []Node, workloadsByNode map[string]int) (*Node, error) {
	if pt.NodeID != nil {
		for i := range nodes {
			if nodes[i].ID == *pt.NodeID {
				if !nodes[i].IsOnline() {
					return nil, fmt.Errorf("node %s is %s", *pt.NodeID, nodes[i].Status)
				}
				return &nodes[i], nil
			}
		}
		return nil, NewNotFound("node", *pt.NodeID)
	}

	var candidates []Node
	for _, n := range nodes {
		if !pt.matchesNode(&n) || !n.IsOnline() {
			continue
		}
		candidates = append(candidates, n)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no suitable node found")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := candidates[i].HealthScore(), candidates[j].HealthScore()
		if si != sj {
			return si > sj
		}
		wi, wj := workloadsByNode[candidates[i].ID], workloadsByNode[candidates[j].ID]
		if wi != wj {
			return wi < wj
		}
		return candidates[i].ID < candidates[j].ID
	})

	return &candidates[0], nil
}

// matchesNode checks if a node matches the target criteria.
func (pt *PlacementTarget) matchesNode(n *Node) bool {
	if pt.Category != nil && n.Category != *pt.Category {
		return false
	}
	return true
}
