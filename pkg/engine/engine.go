// Package engine wires the store, history buffer, lifecycle controller
// and event router onto a single thread of control.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/raycarroll/edgefleet/pkg/analytics"
	"github.com/raycarroll/edgefleet/pkg/backend"
	"github.com/raycarroll/edgefleet/pkg/history"
	"github.com/raycarroll/edgefleet/pkg/lifecycle"
	"github.com/raycarroll/edgefleet/pkg/logger"
	"github.com/raycarroll/edgefleet/pkg/models"
	"github.com/raycarroll/edgefleet/pkg/router"
	"github.com/raycarroll/edgefleet/pkg/store"
	"github.com/raycarroll/edgefleet/pkg/telemetry"
)

const (
	pushQueue   = 64
	pushTimeout = 10 * time.Second
)

// Backend is the CRUD collaborator. *backend.Client satisfies it.
type Backend interface {
	ListNodes(ctx context.Context) ([]models.Node, error)
	ListWorkloads(ctx context.Context) ([]models.Workload, error)
	ListSecurityEvents(ctx context.Context, limit int) ([]models.SecurityEvent, error)
	CreateWorkload(ctx context.Context, in backend.WorkloadCreate) (models.Workload, error)
	DeleteWorkload(ctx context.Context, id string) error
	UpdateWorkloadStatus(ctx context.Context, id string, status models.WorkloadStatus, executionTime *float64) error
	UpdateNode(ctx context.Context, id string, in backend.NodeUpdate) (models.Node, error)
}

// Options configures an Engine. Zero values take the reference defaults.
type Options struct {
	HistoryCapacity int
	PollInterval    time.Duration
	Simulation      lifecycle.SimulationConfig
	Backoff         wait.Backoff

	// WriteThrough pushes local transitions and removals to Backend in
	// the background.
	WriteThrough bool

	// Backend enables the periodic full refresh and receives workload
	// creates; Transport the event stream.
	Backend   Backend
	Transport router.Transport

	Metrics *telemetry.Metrics
	Clock   clock.WithTickerAndDelayedExecution
	Source  lifecycle.Source
}

// View is a consistent read of the store and ring buffer.
type View struct {
	Snapshot store.Snapshot
	Windows  map[string][]models.MetricSample
}

// Engine owns all fleet state for the life of the process.
type Engine struct {
	opts       Options
	clock      clock.WithTickerAndDelayedExecution
	store      *store.Store
	history    *history.Buffer
	controller *lifecycle.Controller
	router     *router.Router
	loop       *loop
	pushes     chan push
	changes    *changes
	log        *logger.PrefixLogger

	mu       sync.Mutex
	disposed bool
	cancel   context.CancelFunc
	done     chan struct{}
}

type push struct {
	key  string
	what string
	fn   func(ctx context.Context) error
}

// New creates an engine and starts its thread of control. Call Dispose
// to release it.
func New(opts Options) *Engine {
	if opts.HistoryCapacity < 1 {
		opts.HistoryCapacity = history.DefaultCapacity
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Simulation == (lifecycle.SimulationConfig{}) {
		opts.Simulation = lifecycle.DefaultSimulation()
	}
	if opts.Backoff == (wait.Backoff{}) {
		opts.Backoff = router.DefaultBackoff()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	e := &Engine{
		opts:    opts,
		clock:   opts.Clock,
		store:   store.New(),
		history: history.NewBuffer(opts.HistoryCapacity),
		loop:    newLoop(),
		pushes:  make(chan push, pushQueue),
		changes: newChanges(),
		log:     logger.WithPrefix("[engine] "),
	}

	lcOpts := []lifecycle.Option{
		lifecycle.WithClock(opts.Clock),
		lifecycle.WithSimulation(opts.Simulation),
		lifecycle.WithScheduler(lifecycle.ClockScheduler{Clock: opts.Clock, Post: e.loop.post}),
	}
	if opts.Source != nil {
		lcOpts = append(lcOpts, lifecycle.WithSource(opts.Source))
	}
	e.controller = lifecycle.New(e.store, lcOpts...)
	e.controller.OnTransition(e.onTransition)

	e.router = router.New(e.store, e.history,
		router.WithClock(opts.Clock),
		router.WithBackoff(opts.Backoff),
		router.WithExecutor(func(fn func()) {
			if err := e.loop.do(context.Background(), fn); err != nil {
				e.log.Debug("Dropped stream message: %v", err)
			}
		}),
	)
	e.router.OnDispatch(e.onDispatch)
	e.router.OnConnChange(e.connWatcher())
	return e
}

var errRunning = errors.New("engine is already running")

// Run drives the event stream, the poller and background pushes until
// ctx ends or the engine is disposed. It may be called once.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	switch {
	case e.disposed:
		e.mu.Unlock()
		return ErrDisposed
	case e.cancel != nil:
		e.mu.Unlock()
		return errRunning
	}
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	e.mu.Unlock()
	defer close(done)

	g, ctx := errgroup.WithContext(ctx)

	if e.opts.Transport != nil {
		g.Go(func() error { return e.router.Run(ctx, e.opts.Transport) })
	} else {
		e.log.Info("No event stream configured")
	}
	if e.opts.Backend != nil {
		g.Go(func() error { return e.poll(ctx) })
	}
	g.Go(func() error { return e.drain(ctx) })
	g.Go(func() error { return e.pushLoop(ctx) })

	return g.Wait()
}

// Dispose stops Run, which closes the stream subscription, cancels pending
// simulated executions and stops the thread of control. Later commands
// fail with ErrDisposed.
func (e *Engine) Dispose() {
	e.mu.Lock()
	e.disposed = true
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.controller.Close()
	e.loop.stop()
}

// CreateWorkload admits a workload in pending. With a backend configured
// the workload is created there first and takes the backend's ID, so the
// next refresh lists it.
func (e *Engine) CreateWorkload(ctx context.Context, w models.Workload) (models.Workload, error) {
	if e.opts.Backend != nil {
		if err := e.run(ctx, func() error { return e.admit(w) }); err != nil {
			return models.Workload{}, err
		}
		rec, err := e.opts.Backend.CreateWorkload(ctx, backend.WorkloadCreateFrom(w))
		if err != nil {
			return models.Workload{}, upstream("create workload", err)
		}
		if rec.ID != "" {
			w.ID = rec.ID
		}
		if !rec.CreatedAt.IsZero() {
			w.CreatedAt = rec.CreatedAt
		}
	}

	var out models.Workload
	err := e.run(ctx, func() (err error) {
		out, err = e.controller.Create(w)
		if err == nil {
			e.changes.touch(workloadKey(out.ID), false)
		}
		return err
	})
	return out, err
}

// admit runs the checks of Controller.Create without storing anything.
func (e *Engine) admit(w models.Workload) error {
	if _, ok := e.store.Node(w.NodeID); !ok {
		return models.NewNotFound("node", w.NodeID)
	}
	w = w.DeepCopy()
	w.Status = models.WorkloadPending
	w.ApplyDefaults(e.clock.Now())
	return w.Validate()
}

// RemoveWorkload deletes a workload, discarding any pending resolution.
// It reports whether the workload existed.
func (e *Engine) RemoveWorkload(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := e.run(ctx, func() error {
		e.controller.Discard(id)
		removed = e.store.RemoveWorkload(id)
		if !removed {
			return nil
		}
		key := workloadKey(id)
		pushed := e.opts.WriteThrough && e.opts.Backend != nil
		e.changes.touch(key, pushed)
		if pushed {
			e.enqueue(key, "workload "+id+" removal", func(ctx context.Context) error {
				return e.opts.Backend.DeleteWorkload(ctx, id)
			})
		}
		return nil
	})
	return removed, err
}

// Start starts a pending workload.
func (e *Engine) Start(ctx context.Context, id string) error {
	return e.run(ctx, func() error { return e.controller.Start(id) })
}

// Cancel fails a pending workload.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	return e.run(ctx, func() error { return e.controller.Cancel(id) })
}

// ForceComplete completes a running workload.
func (e *Engine) ForceComplete(ctx context.Context, id string) error {
	return e.run(ctx, func() error { return e.controller.ForceComplete(id) })
}

// Stop fails a running workload.
func (e *Engine) Stop(ctx context.Context, id string) error {
	return e.run(ctx, func() error { return e.controller.Stop(id) })
}

// Restart returns a terminal workload to pending.
func (e *Engine) Restart(ctx context.Context, id string) error {
	return e.run(ctx, func() error { return e.controller.Restart(id) })
}

// SetNodeStatus changes a node's status and refreshes its heartbeat.
func (e *Engine) SetNodeStatus(ctx context.Context, id string, status models.NodeStatus) error {
	if _, err := models.ParseNodeStatus(string(status)); err != nil {
		return err
	}
	return e.run(ctx, func() error {
		n, ok := e.store.Node(id)
		if !ok {
			return models.NewNotFound("node", id)
		}
		n.Status = status
		n.LastHeartbeat = e.clock.Now()
		if err := e.store.UpsertNode(n); err != nil {
			return err
		}
		e.log.Info("Node %s is now %s", id, status)
		key := nodeKey(id)
		pushed := e.opts.WriteThrough && e.opts.Backend != nil
		e.changes.touch(key, pushed)
		if pushed {
			e.enqueue(key, "node "+id+" status", func(ctx context.Context) error {
				_, err := e.opts.Backend.UpdateNode(ctx, id, backend.NodeUpdate{Status: &status})
				return err
			})
		}
		return nil
	})
}

// View returns the store snapshot and ring buffer windows as of the same
// instant.
func (e *Engine) View(ctx context.Context) (View, error) {
	var v View
	err := e.loop.do(ctx, func() {
		v = View{Snapshot: e.store.Snapshot(), Windows: e.history.Windows()}
	})
	return v, err
}

// Snapshot returns the current store snapshot.
func (e *Engine) Snapshot() store.Snapshot {
	return e.store.Snapshot()
}

// Workload looks up a workload.
func (e *Engine) Workload(id string) (models.Workload, bool) {
	return e.store.Workload(id)
}

// Analytics derives the fleet report from a consistent view.
func (e *Engine) Analytics(ctx context.Context) (analytics.Report, error) {
	v, err := e.View(ctx)
	if err != nil {
		return analytics.Report{}, err
	}
	return analytics.Compute(v.Snapshot, v.Windows), nil
}

// History returns the retained samples of a node, oldest first.
func (e *Engine) History(nodeID string) []models.MetricSample {
	return e.history.History(nodeID)
}

// Conn returns the event stream status.
func (e *Engine) Conn() router.ConnStatus {
	return e.router.Conn()
}

// Notifications returns the most recent security notifications.
func (e *Engine) Notifications() []router.Notification {
	return e.router.RecentNotifications()
}

// Audit returns the retained workload transitions.
func (e *Engine) Audit() []models.TransitionRecord {
	return e.controller.Audit()
}

// Ingest applies one raw stream message as if it arrived on the stream.
func (e *Engine) Ingest(ctx context.Context, raw []byte) error {
	return e.loop.do(ctx, func() { e.router.OnMessage(raw) })
}

func (e *Engine) run(ctx context.Context, fn func() error) error {
	var err error
	if lerr := e.loop.do(ctx, func() { err = fn() }); lerr != nil {
		return lerr
	}
	return err
}

// onDispatch runs on the loop after every applied stream event.
func (e *Engine) onDispatch(ev router.Event) {
	if wu, ok := ev.(router.WorkloadUpserted); ok {
		e.controller.Observe(wu.Workload)
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveEvent(ev.Type())
	}
}

// onTransition runs under the controller lock.
func (e *Engine) onTransition(rec models.TransitionRecord, w models.Workload) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveTransition(rec)
	}
	key := workloadKey(w.ID)
	pushed := e.opts.WriteThrough && e.opts.Backend != nil
	e.changes.touch(key, pushed)
	if !pushed {
		return
	}
	e.enqueue(key, "workload "+w.ID+" status", func(ctx context.Context) error {
		return e.opts.Backend.UpdateWorkloadStatus(ctx, w.ID, w.Status, w.ExecutionDuration)
	})
}

func (e *Engine) connWatcher() func(router.ConnStatus) {
	attempts := 0
	return func(s router.ConnStatus) {
		if e.opts.Metrics == nil {
			return
		}
		e.opts.Metrics.SetConnState(int(s.State))
		for ; attempts < s.Attempts; attempts++ {
			e.opts.Metrics.ObserveReconnect()
		}
	}
}

// enqueue queues a write-through push for key, which must already be
// touched as pushed.
func (e *Engine) enqueue(key, what string, fn func(ctx context.Context) error) {
	select {
	case e.pushes <- push{key: key, what: what, fn: fn}:
	default:
		e.changes.done(key)
		e.log.Warn("Write-through queue full, dropping %s", what)
	}
}

// pushLoop delivers write-through updates, best effort.
func (e *Engine) pushLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-e.pushes:
			pctx, cancel := context.WithTimeout(ctx, pushTimeout)
			err := p.fn(pctx)
			cancel()
			e.changes.done(p.key)
			if err != nil && !errors.Is(err, context.Canceled) {
				e.log.Warn("Write-through of %s failed: %v", p.what, err)
			}
		}
	}
}

// drain consumes router reports so they are counted.
func (e *Engine) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.router.Errors():
			if e.opts.Metrics != nil {
				e.opts.Metrics.ObserveDecodeError()
			}
		case n := <-e.router.Notifications():
			if e.opts.Metrics != nil {
				e.opts.Metrics.ObserveNotification(n.Severity)
			}
		}
	}
}
