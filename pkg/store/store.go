// Package store holds the authoritative in-memory snapshot of fleet state.
package store

import (
	"sync"
	"time"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// Store owns every node, workload and security event record. Upserts
// replace the full record matched by ID (last writer wins).
type Store struct {
	mu        sync.RWMutex
	nodes     *table[models.Node]
	workloads *table[models.Workload]
	events    *table[models.SecurityEvent]
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// Reset discards all records.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = newTable[models.Node]()
	s.workloads = newTable[models.Workload]()
	s.events = newTable[models.SecurityEvent]()
}

// UpsertNode inserts or replaces a node.
func (s *Store) UpsertNode(n models.Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n.WorkloadCount = 0
	s.nodes.put(n.ID, n)
	return nil
}

// PatchNodeGauges updates the live gauges and heartbeat of an existing node.
// It returns false when the node is unknown.
func (s *Store) PatchNodeGauges(id string, g models.Gauges, heartbeat time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes.get(id)
	if !ok {
		return false
	}
	n.Gauges = g
	n.LastHeartbeat = heartbeat
	s.nodes.put(id, n)
	return true
}

// RemoveNode deletes a node. Workloads assigned to it are kept.
func (s *Store) RemoveNode(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes.remove(id)
}

// Node looks up a node by ID.
func (s *Store) Node(id string) (models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes.get(id)
	if ok {
		n.WorkloadCount = s.countWorkloadsLocked(id)
	}
	return n, ok
}

// UpsertWorkload inserts or replaces a workload.
func (s *Store) UpsertWorkload(w models.Workload) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workloads.put(w.ID, w.DeepCopy())
	return nil
}

// RemoveWorkload deletes a workload.
func (s *Store) RemoveWorkload(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workloads.remove(id)
}

// Workload looks up a workload by ID.
func (s *Store) Workload(id string) (models.Workload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workloads.get(id)
	if !ok {
		return models.Workload{}, false
	}
	return w.DeepCopy(), true
}

// UpsertSecurityEvent inserts or replaces a security event.
func (s *Store) UpsertSecurityEvent(e models.SecurityEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.put(e.ID, e)
	return nil
}

// SecurityEvent looks up a security event by ID.
func (s *Store) SecurityEvent(id string) (models.SecurityEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.get(id)
}

// ReplaceNodes reconciles the node table against a full listing: every
// listed node is upserted and nodes missing from the listing are removed.
// Invalid records are skipped and reported; the swap itself is atomic.
func (s *Store) ReplaceNodes(nodes []models.Node) []error {
	var errs []error
	valid := make([]models.Node, 0, len(nodes))
	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		n.WorkloadCount = 0
		valid = append(valid, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	keep := make(map[string]struct{}, len(valid))
	for _, n := range valid {
		s.nodes.put(n.ID, n)
		keep[n.ID] = struct{}{}
	}
	prune(s.nodes, keep)
	return errs
}

// ReplaceWorkloads reconciles the workload table against a full listing.
func (s *Store) ReplaceWorkloads(workloads []models.Workload) []error {
	var errs []error
	valid := make([]models.Workload, 0, len(workloads))
	for _, w := range workloads {
		if err := w.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		valid = append(valid, w.DeepCopy())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	keep := make(map[string]struct{}, len(valid))
	for _, w := range valid {
		s.workloads.put(w.ID, w)
		keep[w.ID] = struct{}{}
	}
	prune(s.workloads, keep)
	return errs
}

// ReplaceSecurityEvents reconciles the security event table against a full listing.
func (s *Store) ReplaceSecurityEvents(events []models.SecurityEvent) []error {
	var errs []error
	valid := make([]models.SecurityEvent, 0, len(events))
	for _, e := range events {
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		valid = append(valid, e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	keep := make(map[string]struct{}, len(valid))
	for _, e := range valid {
		s.events.put(e.ID, e)
		keep[e.ID] = struct{}{}
	}
	prune(s.events, keep)
	return errs
}

func prune[T any](t *table[T], keep map[string]struct{}) {
	for _, id := range append([]string(nil), t.order...) {
		if _, ok := keep[id]; !ok {
			t.remove(id)
		}
	}
}

// Snapshot returns an immutable copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, s.nodes.len())
	workloads := make([]models.Workload, 0, s.workloads.len())
	s.workloads.each(func(_ string, w models.Workload) {
		counts[w.NodeID]++
		workloads = append(workloads, w.DeepCopy())
	})

	nodes := make([]models.Node, 0, s.nodes.len())
	index := make(map[string]int, s.nodes.len())
	s.nodes.each(func(id string, n models.Node) {
		n.WorkloadCount = counts[id]
		index[id] = len(nodes)
		nodes = append(nodes, n)
	})

	events := make([]models.SecurityEvent, 0, s.events.len())
	s.events.each(func(_ string, e models.SecurityEvent) {
		events = append(events, e)
	})

	return Snapshot{
		Nodes:          nodes,
		Workloads:      workloads,
		SecurityEvents: events,
		nodeIndex:      index,
	}
}

func (s *Store) countWorkloadsLocked(nodeID string) int {
	count := 0
	s.workloads.each(func(_ string, w models.Workload) {
		if w.NodeID == nodeID {
			count++
		}
	})
	return count
}
