package lifecycle

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/raycarroll/edgefleet/pkg/logger"
	"github.com/raycarroll/edgefleet/pkg/models"
)

// AuditCapacity bounds the transition audit log.
const AuditCapacity = 256

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("lifecycle controller closed")

// Store is the slice of the entity store the controller mutates through.
type Store interface {
	Node(id string) (models.Node, bool)
	Workload(id string) (models.Workload, bool)
	UpsertWorkload(w models.Workload) error
}

// Listener observes committed transitions. Listeners run while the
// controller lock is held and must not call back into the controller.
type Listener func(rec models.TransitionRecord, w models.Workload)

// Controller drives the workload state machine and the simulated
// execution of running workloads.
type Controller struct {
	store Store
	sched Scheduler
	clock clock.PassiveClock
	rng   Source
	sim   SimulationConfig
	log   *logger.PrefixLogger

	mu        sync.Mutex
	pending   map[string]*execution
	seq       uint64
	audit     []models.TransitionRecord
	listeners []Listener
	closed    bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithScheduler sets the scheduler used for simulated resolutions.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

// WithClock sets the clock used for lifecycle timestamps.
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithSource sets the randomness used for delays, outcomes and durations.
func WithSource(r Source) Option {
	return func(c *Controller) { c.rng = r }
}

// WithSimulation sets the simulation tuning.
func WithSimulation(sim SimulationConfig) Option {
	return func(c *Controller) { c.sim = sim }
}

// New creates a controller over store.
func New(store Store, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		clock:   clock.RealClock{},
		sim:     DefaultSimulation(),
		log:     logger.WithPrefix("[lifecycle] "),
		pending: make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sched == nil {
		c.sched = ClockScheduler{Clock: clock.RealClock{}}
	}
	if c.rng == nil {
		c.rng = &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}
	return c
}

// OnTransition registers l for every committed transition.
func (c *Controller) OnTransition(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Create admits a new workload in pending. The target node must exist.
func (c *Controller) Create(w models.Workload) (models.Workload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return models.Workload{}, ErrClosed
	}
	if _, ok := c.store.Node(w.NodeID); !ok {
		return models.Workload{}, models.NewNotFound("node", w.NodeID)
	}
	w = w.DeepCopy()
	w.Status = models.WorkloadPending
	w.DeployedAt = nil
	w.CompletedAt = nil
	w.ExecutionDuration = nil
	w.ApplyDefaults(c.clock.Now())
	if err := w.Validate(); err != nil {
		return models.Workload{}, err
	}
	if err := c.store.UpsertWorkload(w); err != nil {
		return models.Workload{}, err
	}
	c.log.Info("Created workload %s on node %s", w.ID, w.NodeID)
	return w, nil
}

// Start moves a pending workload to running and schedules its resolution.
func (c *Controller) Start(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	now := c.clock.Now()
	if _, err := c.applyLocked(id, models.CommandStart, func(w *models.Workload) {
		w.DeployedAt = &now
		w.CompletedAt = nil
		w.ExecutionDuration = nil
	}); err != nil {
		return err
	}

	c.cancelLocked(id)
	c.seq++
	token := c.seq
	d := c.sim.delay(c.rng)
	c.pending[id] = &execution{
		token:     token,
		startedAt: now,
		resolveAt: now.Add(d),
		task:      c.sched.Schedule(d, func() { c.resolve(id, token) }),
	}
	c.log.Debug("Workload %s resolves in %s", id, d)
	return nil
}

// Cancel fails a workload that has not started.
func (c *Controller) Cancel(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	_, err := c.applyLocked(id, models.CommandCancel, nil)
	return err
}

// ForceComplete completes a running workload ahead of its simulated
// resolution.
func (c *Controller) ForceComplete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.completeLocked(id, models.CommandForceComplete)
}

// Stop fails a running workload and discards its pending resolution.
func (c *Controller) Stop(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, err := c.applyLocked(id, models.CommandStop, nil); err != nil {
		return err
	}
	c.cancelLocked(id)
	return nil
}

// Restart returns a terminal workload to pending and clears its run data.
func (c *Controller) Restart(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	_, err := c.applyLocked(id, models.CommandRestart, func(w *models.Workload) {
		w.DeployedAt = nil
		w.CompletedAt = nil
		w.ExecutionDuration = nil
	})
	return err
}

// Observe reconciles timers with a workload written by someone else.
// A pending resolution is dropped once the workload leaves running.
func (c *Controller) Observe(w models.Workload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w.Status != models.WorkloadRunning {
		c.cancelLocked(w.ID)
	}
}

// Discard drops any pending resolution for id.
func (c *Controller) Discard(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(id)
}

// Pending reports whether a simulated resolution is scheduled for id and
// when it is due.
func (c *Controller) Pending(id string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending[id]
	if !ok {
		return time.Time{}, false
	}
	return e.resolveAt, true
}

// Audit returns the retained transitions, oldest first.
func (c *Controller) Audit() []models.TransitionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.TransitionRecord, len(c.audit))
	copy(out, c.audit)
	return out
}

// Close cancels every pending resolution. Later commands fail with
// ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range c.pending {
		c.cancelLocked(id)
	}
	c.closed = true
}

// resolve settles a simulated run. Stale tokens and workloads that have
// since left running are ignored.
func (c *Controller) resolve(id string, token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[id]
	if !ok || e.token != token || c.closed {
		return
	}
	delete(c.pending, id)

	var err error
	if c.sim.succeeds(c.rng) {
		err = c.completeLocked(id, models.CommandSucceed)
	} else {
		_, err = c.applyLocked(id, models.CommandFail, nil)
	}
	if err != nil {
		c.log.Debug("Dropped resolution for workload %s: %v", id, err)
	}
}

func (c *Controller) completeLocked(id string, cmd models.Command) error {
	now := c.clock.Now()
	if _, err := c.applyLocked(id, cmd, func(w *models.Workload) {
		secs := c.sim.executionSeconds(c.rng)
		w.CompletedAt = &now
		w.ExecutionDuration = &secs
	}); err != nil {
		return err
	}
	c.cancelLocked(id)
	return nil
}

// applyLocked validates cmd against the state machine, mutates the stored
// workload and records the transition.
func (c *Controller) applyLocked(id string, cmd models.Command, mutate func(*models.Workload)) (models.Workload, error) {
	w, ok := c.store.Workload(id)
	if !ok {
		return models.Workload{}, models.NewNotFound("workload", id)
	}
	to, ok := Next(w.Status, cmd)
	if !ok {
		return models.Workload{}, &models.TransitionError{WorkloadID: id, From: w.Status, Command: cmd}
	}

	from := w.Status
	w.Status = to
	if mutate != nil {
		mutate(&w)
	}
	if err := c.store.UpsertWorkload(w); err != nil {
		return models.Workload{}, err
	}

	rec := models.TransitionRecord{
		Timestamp:         c.clock.Now(),
		WorkloadID:        id,
		Command:           cmd,
		From:              from,
		To:                to,
		ExecutionDuration: w.ExecutionDuration,
	}
	c.record(rec)
	for _, l := range c.listeners {
		l(rec, w.DeepCopy())
	}
	c.log.Info("Workload %s: %s -> %s (%s)", id, from, to, cmd)
	return w, nil
}

func (c *Controller) record(rec models.TransitionRecord) {
	if len(c.audit) == AuditCapacity {
		copy(c.audit, c.audit[1:])
		c.audit = c.audit[:AuditCapacity-1]
	}
	c.audit = append(c.audit, rec)
}

func (c *Controller) cancelLocked(id string) {
	if e, ok := c.pending[id]; ok {
		e.cancel()
		delete(c.pending, id)
	}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
