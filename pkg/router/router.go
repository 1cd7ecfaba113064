package router

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/raycarroll/edgefleet/pkg/logger"
	"github.com/raycarroll/edgefleet/pkg/models"
)

const (
	// RecentNotifications is how many notifications the router retains.
	RecentNotifications = 5

	errorBuffer        = 64
	notificationBuffer = 16
)

// Store is the slice of the entity store the router mutates.
type Store interface {
	Node(id string) (models.Node, bool)
	UpsertNode(n models.Node) error
	PatchNodeGauges(id string, g models.Gauges, heartbeat time.Time) bool
	RemoveNode(id string) bool
	UpsertWorkload(w models.Workload) error
	UpsertSecurityEvent(e models.SecurityEvent) error
}

// History is the slice of the metric ring buffer the router feeds.
type History interface {
	Append(nodeID string, s models.MetricSample)
	Forget(nodeID string)
}

// Executor runs fn on the owner's thread of control and returns once fn
// has completed.
type Executor func(fn func())

// Router decodes stream messages and applies them to the store and
// history buffer, one at a time.
type Router struct {
	store   Store
	history History
	clock   clock.Clock
	exec    Executor
	backoff wait.Backoff
	log     *logger.PrefixLogger

	errs  chan error
	notes chan Notification

	mu        sync.Mutex
	recent    []Notification
	observers []func(Event)
	watchers  []func(ConnStatus)
	conn      ConnStatus
}

// Option configures a Router.
type Option func(*Router)

// WithClock sets the clock used for arrival times and backoff sleeps.
func WithClock(clk clock.Clock) Option {
	return func(r *Router) { r.clock = clk }
}

// WithExecutor sets where dispatch runs. The default runs inline on the
// goroutine reading the transport.
func WithExecutor(exec Executor) Option {
	return func(r *Router) { r.exec = exec }
}

// WithBackoff sets the reconnect policy.
func WithBackoff(b wait.Backoff) Option {
	return func(r *Router) { r.backoff = b }
}

// DefaultBackoff is the reconnect policy used when none is configured.
func DefaultBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: time.Second,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    1 << 30,
		Cap:      30 * time.Second,
	}
}

// New creates a router over store and history.
func New(store Store, history History, opts ...Option) *Router {
	r := &Router{
		store:   store,
		history: history,
		clock:   clock.RealClock{},
		exec:    func(fn func()) { fn() },
		backoff: DefaultBackoff(),
		log:     logger.WithPrefix("[router] "),
		errs:    make(chan error, errorBuffer),
		notes:   make(chan Notification, notificationBuffer),
		conn:    ConnStatus{State: Disconnected},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.conn.Since = r.clock.Now()
	return r
}

// Errors reports decode and dispatch failures. Reports are dropped when
// nobody drains the channel.
func (r *Router) Errors() <-chan error {
	return r.errs
}

// Notifications publishes high-priority security notifications. Sends
// never block.
func (r *Router) Notifications() <-chan Notification {
	return r.notes
}

// RecentNotifications returns the retained notifications, newest last.
func (r *Router) RecentNotifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.recent))
	copy(out, r.recent)
	return out
}

// OnDispatch registers fn to run after every successfully applied event,
// on the dispatching thread.
func (r *Router) OnDispatch(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// OnMessage decodes raw and dispatches it. Malformed payloads are
// reported on Errors and dropped.
func (r *Router) OnMessage(raw []byte) {
	ev, err := Decode(raw, r.clock.Now())
	if err != nil {
		r.report(err)
		return
	}
	if err := r.Dispatch(ev); err != nil {
		r.report(err)
	}
}

// Dispatch applies ev.
func (r *Router) Dispatch(ev Event) error {
	switch e := ev.(type) {
	case MetricsUpdate:
		r.applyMetrics(e)
	case NodeUpserted:
		if err := r.store.UpsertNode(e.Node); err != nil {
			return &models.DecodeError{Type: e.Tag, Err: err}
		}
	case NodeDeleted:
		r.store.RemoveNode(e.NodeID)
		r.history.Forget(e.NodeID)
	case WorkloadUpserted:
		if err := r.store.UpsertWorkload(e.Workload); err != nil {
			return &models.DecodeError{Type: e.Tag, Err: err}
		}
	case SecurityAlert:
		if err := r.store.UpsertSecurityEvent(e.Event); err != nil {
			return &models.DecodeError{Type: TypeSecurityEvent, Err: err}
		}
		if e.Event.Severity.IsHighPriority() {
			r.notify(e.Event)
		}
	case Unrecognized:
		r.log.Debug("Ignoring event type %q", e.Tag)
		return nil
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}

	r.mu.Lock()
	observers := r.observers
	r.mu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
	return nil
}

// applyMetrics records the sample and patches the node when it is known.
// Samples for unknown nodes are kept so history is ready when the node
// appears.
func (r *Router) applyMetrics(e MetricsUpdate) {
	var current models.Gauges
	node, known := r.store.Node(e.NodeID)
	if known {
		current = node.Gauges
	}
	g := e.Patch.Apply(current)

	r.history.Append(e.NodeID, models.MetricSample{NodeID: e.NodeID, Timestamp: e.Timestamp, Gauges: g})
	if known {
		r.store.PatchNodeGauges(e.NodeID, g, e.Timestamp)
	}
}

func (r *Router) notify(ev models.SecurityEvent) {
	name := ev.NodeID
	if n, ok := r.store.Node(ev.NodeID); ok && n.Name != "" {
		name = n.Name
	}
	note := Notification{
		ID:        ev.ID,
		NodeID:    ev.NodeID,
		NodeName:  name,
		Severity:  ev.Severity,
		EventType: string(ev.EventType),
		Message:   fmt.Sprintf("%s security event on %s: %s", ev.Severity, name, ev.Description),
		Time:      ev.Timestamp,
	}
	r.log.Warn("Security event %s on node %s (%s)", ev.EventType, ev.NodeID, ev.Severity)

	r.mu.Lock()
	r.recent = append(r.recent, note)
	if len(r.recent) > RecentNotifications {
		r.recent = r.recent[len(r.recent)-RecentNotifications:]
	}
	r.mu.Unlock()

	select {
	case r.notes <- note:
	default:
	}
}

func (r *Router) report(err error) {
	r.log.Warn("Dropped message: %v", err)
	select {
	case r.errs <- err:
	default:
	}
}
