// Package history keeps bounded per-node telemetry windows.
package history

import (
	"sync"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// DefaultCapacity is the number of samples retained per node.
const DefaultCapacity = 20

// Buffer stores the most recent samples for each node. Oldest samples are
// evicted first; order is arrival order, never timestamp order.
type Buffer struct {
	capacity int

	mu    sync.RWMutex
	rings map[string]*ring
}

type ring struct {
	samples []models.MetricSample
	head    int // index of the oldest sample once full
}

// NewBuffer creates a buffer retaining capacity samples per node.
// A capacity below 1 falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Capacity returns the per-node retention.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Append inserts a sample for nodeID, evicting the oldest when full.
func (b *Buffer) Append(nodeID string, s models.MetricSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[nodeID]
	if !ok {
		r = &ring{samples: make([]models.MetricSample, 0, b.capacity)}
		b.rings[nodeID] = r
	}
	if len(r.samples) < b.capacity {
		r.samples = append(r.samples, s)
		return
	}
	r.samples[r.head] = s
	r.head = (r.head + 1) % b.capacity
}

// History returns the samples for nodeID ordered oldest to newest. The
// returned slice is a copy.
func (b *Buffer) History(nodeID string) []models.MetricSample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rings[nodeID]
	if !ok {
		return nil
	}
	return r.ordered()
}

// Len returns the number of samples held for nodeID.
func (b *Buffer) Len(nodeID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.rings[nodeID]; ok {
		return len(r.samples)
	}
	return 0
}

// Trend classifies the recent movement of field for nodeID.
func (b *Buffer) Trend(nodeID string, field models.Field) Trend {
	return TrendOf(b.History(nodeID), field)
}

// Windows returns a copy of every node's history.
func (b *Buffer) Windows() map[string][]models.MetricSample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string][]models.MetricSample, len(b.rings))
	for id, r := range b.rings {
		out[id] = r.ordered()
	}
	return out
}

// Forget drops the history for nodeID.
func (b *Buffer) Forget(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rings, nodeID)
}

func (r *ring) ordered() []models.MetricSample {
	out := make([]models.MetricSample, 0, len(r.samples))
	out = append(out, r.samples[r.head:]...)
	out = append(out, r.samples[:r.head]...)
	return out
}
