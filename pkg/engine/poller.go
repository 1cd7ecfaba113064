package engine

import (
	"context"
	"errors"

	"github.com/raycarroll/edgefleet/pkg/backend"
	"github.com/raycarroll/edgefleet/pkg/models"
)

// Refresh lists every entity from the backend and reconciles the store
// against the listing. Nothing is mutated unless all listings succeed.
// Nodes and workloads changed locally since the listing began, or with a
// write-through push still queued, keep their local state.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.opts.Backend == nil {
		return &models.UpstreamError{Op: "refresh", Err: errors.New("no backend configured")}
	}
	start := e.clock.Now()
	err := e.refresh(ctx)
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveRefresh(err, e.clock.Since(start))
	}
	return err
}

func (e *Engine) refresh(ctx context.Context) error {
	since := e.changes.mark()
	nodes, err := e.opts.Backend.ListNodes(ctx)
	if err != nil {
		return upstream("list nodes", err)
	}
	workloads, err := e.opts.Backend.ListWorkloads(ctx)
	if err != nil {
		return upstream("list workloads", err)
	}
	events, err := e.opts.Backend.ListSecurityEvents(ctx, backend.DefaultEventLimit)
	if err != nil {
		return upstream("list security events", err)
	}

	now := e.clock.Now()
	for i := range nodes {
		nodes[i].ApplyDefaults(now)
	}
	for i := range workloads {
		workloads[i].ApplyDefaults(now)
	}
	for i := range events {
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = now
		}
	}

	return e.loop.do(ctx, func() {
		before := e.store.Snapshot()
		nodes = keepLocal(nodes, before.Nodes, func(n models.Node) string { return n.ID },
			func(id string) bool { return e.changes.held(nodeKey(id), since) })
		workloads = keepLocal(workloads, before.Workloads, func(w models.Workload) string { return w.ID },
			func(id string) bool { return e.changes.held(workloadKey(id), since) })

		var skipped []error
		skipped = append(skipped, e.store.ReplaceNodes(nodes)...)
		skipped = append(skipped, e.store.ReplaceWorkloads(workloads)...)
		skipped = append(skipped, e.store.ReplaceSecurityEvents(events)...)
		for _, err := range skipped {
			e.log.Warn("Refresh skipped record: %v", err)
		}

		for _, n := range before.Nodes {
			if _, ok := e.store.Node(n.ID); !ok {
				e.history.Forget(n.ID)
			}
		}
		for _, w := range before.Workloads {
			if _, ok := e.store.Workload(w.ID); !ok {
				e.controller.Discard(w.ID)
			}
		}
		for _, w := range workloads {
			e.controller.Observe(w)
		}
		e.changes.settle(since)
		if e.opts.Metrics != nil {
			e.opts.Metrics.ObserveSnapshot(e.store.Snapshot())
		}
		e.log.Debug("Refreshed %d nodes, %d workloads, %d security events", len(nodes), len(workloads), len(events))
	})
}

// keepLocal replaces held records of listed with their local copy, drops
// held records that no longer exist locally and adds held local records
// the listing does not have yet.
func keepLocal[T any](listed, local []T, id func(T) string, held func(string) bool) []T {
	current := make(map[string]T, len(local))
	for _, v := range local {
		current[id(v)] = v
	}
	seen := make(map[string]struct{}, len(listed))
	out := make([]T, 0, len(listed))
	for _, v := range listed {
		k := id(v)
		seen[k] = struct{}{}
		if !held(k) {
			out = append(out, v)
			continue
		}
		if cur, ok := current[k]; ok {
			out = append(out, cur)
		}
	}
	for _, v := range local {
		k := id(v)
		if _, ok := seen[k]; !ok && held(k) {
			out = append(out, v)
		}
	}
	return out
}

func upstream(op string, err error) error {
	if errors.Is(err, models.ErrUpstreamUnavailable) {
		return err
	}
	return &models.UpstreamError{Op: op, Err: err}
}

// poll refreshes immediately and then every poll interval until ctx ends.
// Failures are logged; the previous state stays authoritative.
func (e *Engine) poll(ctx context.Context) error {
	t := e.clock.NewTicker(e.opts.PollInterval)
	defer t.Stop()

	for {
		if err := e.Refresh(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn("Refresh failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
		}
	}
}
