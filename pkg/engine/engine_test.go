package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/raycarroll/edgefleet/pkg/backend"
	"github.com/raycarroll/edgefleet/pkg/lifecycle"
	"github.com/raycarroll/edgefleet/pkg/models"
	"github.com/raycarroll/edgefleet/pkg/router"
	"github.com/raycarroll/edgefleet/pkg/telemetry"
)

type statusPush struct {
	id     string
	status models.WorkloadStatus
}

type fakeBackend struct {
	mu        sync.Mutex
	nodes     []models.Node
	workloads []models.Workload
	events    []models.SecurityEvent
	err       error
	createErr error
	pushes    []statusPush
	nodePush  []models.NodeStatus
	creates   []backend.WorkloadCreate
	deletes   []string

	// listed runs after ListWorkloads has taken its copy.
	listed func()
}

func (f *fakeBackend) ListNodes(context.Context) ([]models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Node(nil), f.nodes...), nil
}

func (f *fakeBackend) ListWorkloads(context.Context) ([]models.Workload, error) {
	f.mu.Lock()
	ws := append([]models.Workload(nil), f.workloads...)
	hook := f.listed
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ws, nil
}

func (f *fakeBackend) CreateWorkload(_ context.Context, in backend.WorkloadCreate) (models.Workload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return models.Workload{}, f.createErr
	}
	f.creates = append(f.creates, in)
	w := models.Workload{
		ID:       fmt.Sprintf("b%d", len(f.creates)),
		Name:     in.Name,
		NodeID:   in.NodeID,
		Category: in.Category,
		Status:   models.WorkloadPending,
		Resources: models.Resources{
			CPU:      *resource.NewMilliQuantity(int64(in.CPURequest*1000), resource.DecimalSI),
			MemoryMB: int64(in.MemoryRequest),
		},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.workloads = append(f.workloads, w)
	return w, nil
}

func (f *fakeBackend) DeleteWorkload(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	for i, w := range f.workloads {
		if w.ID == id {
			f.workloads = append(f.workloads[:i], f.workloads[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) ListSecurityEvents(_ context.Context, limit int) ([]models.SecurityEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SecurityEvent(nil), f.events...), nil
}

func (f *fakeBackend) UpdateWorkloadStatus(_ context.Context, id string, status models.WorkloadStatus, _ *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, statusPush{id: id, status: status})
	for i := range f.workloads {
		if f.workloads[i].ID == id {
			f.workloads[i].Status = status
		}
	}
	return nil
}

func (f *fakeBackend) UpdateNode(_ context.Context, id string, in backend.NodeUpdate) (models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodePush = append(f.nodePush, *in.Status)
	return models.Node{ID: id}, nil
}

func (f *fakeBackend) statusPushes() []statusPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusPush(nil), f.pushes...)
}

// counter sums every series of a counter family.
func counter(m *telemetry.Metrics, name string) float64 {
	mfs, err := m.Registry.Gather()
	if err != nil {
		return -1
	}
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			sum += metric.GetCounter().GetValue()
		}
	}
	return sum
}

func testNode(id string) models.Node {
	return models.Node{ID: id, Name: "node " + id, Category: models.CategoryCamera, Status: models.NodeOnline}
}

func testWorkload(id, nodeID string) models.Workload {
	return models.Workload{
		ID:       id,
		Name:     "job " + id,
		NodeID:   nodeID,
		Category: models.WorkloadDataProcessing,
		Resources: models.Resources{
			CPU:      resource.MustParse("250m"),
			MemoryMB: 128,
		},
	}
}

func fastSimulation() lifecycle.SimulationConfig {
	return lifecycle.SimulationConfig{
		DelayMin:           time.Millisecond,
		DelayMax:           2 * time.Millisecond,
		SuccessProbability: 1,
		DurationMin:        30 * time.Second,
		DurationMax:        150 * time.Second,
	}
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e := New(opts)
	t.Cleanup(e.Dispose)
	return e
}

func TestMetricsUpdateIsAtomic(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	require.NoError(t, e.Ingest(ctx, []byte(`{"type":"node_created","data":{"id":"abc","name":"Cam","node_type":"camera","status":"online"}}`)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			v, err := e.View(ctx)
			if !assert.NoError(t, err) {
				return
			}
			n, _ := v.Snapshot.Node("abc")
			samples := v.Windows["abc"]
			// the sample and the patch land together
			if len(samples) == 0 {
				assert.Zero(t, n.CPUUsage)
			} else {
				assert.Equal(t, 42.5, n.CPUUsage)
			}
		}
	}()
	require.NoError(t, e.Ingest(ctx, []byte(`{"type":"metrics_update","node_id":"abc","cpu_usage":42.5}`)))
	wg.Wait()

	assert.Len(t, e.History("abc"), 1)
	n, ok := e.Snapshot().Node("abc")
	require.True(t, ok)
	assert.Equal(t, 42.5, n.CPUUsage)
}

func TestWorkloadLifecycle(t *testing.T) {
	m := telemetry.New()
	e := newEngine(t, Options{Simulation: fastSimulation(), Metrics: m})
	ctx := context.Background()
	require.NoError(t, e.Ingest(ctx, []byte(`{"type":"node_created","data":{"id":"n1","node_type":"sensor","status":"online"}}`)))

	_, err := e.CreateWorkload(ctx, testWorkload("w1", "n1"))
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, "w1"))
	assert.ErrorIs(t, e.Start(ctx, "w1"), models.ErrInvalidTransition)

	require.Eventually(t, func() bool {
		w, _ := e.Workload("w1")
		return w.Status == models.WorkloadCompleted
	}, 2*time.Second, 5*time.Millisecond)

	w, _ := e.Workload("w1")
	require.NotNil(t, w.ExecutionDuration)
	assert.GreaterOrEqual(t, *w.ExecutionDuration, 30.0)
	assert.Len(t, e.Audit(), 2)
	assert.Equal(t, 2.0, counter(m, "edgefleet_lifecycle_transitions_total"))

	require.NoError(t, e.Restart(ctx, "w1"))
	require.NoError(t, e.Cancel(ctx, "w1"))
	assert.ErrorIs(t, e.Stop(ctx, "missing"), models.ErrNotFound)

	removed, err := e.RemoveWorkload(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, removed)
	_, ok := e.Workload("w1")
	assert.False(t, ok)
}

func TestDisposeCancelsTimers(t *testing.T) {
	e := New(Options{Simulation: lifecycle.SimulationConfig{
		DelayMin: 50 * time.Millisecond, DelayMax: 50 * time.Millisecond,
		SuccessProbability: 1, DurationMin: time.Second, DurationMax: time.Second,
	}})
	ctx := context.Background()
	require.NoError(t, e.Ingest(ctx, []byte(`{"type":"node_created","data":{"id":"n1","node_type":"general","status":"online"}}`)))
	_, err := e.CreateWorkload(ctx, testWorkload("w1", "n1"))
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, "w1"))

	e.Dispose()
	time.Sleep(100 * time.Millisecond)

	w, ok := e.Workload("w1")
	require.True(t, ok)
	assert.Equal(t, models.WorkloadRunning, w.Status)
	assert.ErrorIs(t, e.Start(ctx, "w1"), ErrDisposed)
	_, err = e.View(ctx)
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestRefresh(t *testing.T) {
	fb := &fakeBackend{
		nodes:     []models.Node{testNode("n1"), testNode("n2")},
		workloads: []models.Workload{testWorkload("w1", "n1")},
		events: []models.SecurityEvent{{
			ID: "s1", NodeID: "n1", EventType: models.EventRBACViolation, Severity: models.SeverityLow,
		}},
	}
	m := telemetry.New()
	e := newEngine(t, Options{Backend: fb, Metrics: m})
	ctx := context.Background()

	require.NoError(t, e.Ingest(ctx, []byte(`{"type":"metrics_update","node_id":"n2","cpu_usage":5}`)))
	require.NoError(t, e.Refresh(ctx))

	snap := e.Snapshot()
	assert.Len(t, snap.Nodes, 2)
	require.Len(t, snap.Workloads, 1)
	assert.Equal(t, models.WorkloadPending, snap.Workloads[0].Status)
	assert.Len(t, snap.SecurityEvents, 1)
	assert.False(t, snap.SecurityEvents[0].Timestamp.IsZero())

	// n2 disappears upstream
	fb.mu.Lock()
	fb.nodes = fb.nodes[:1]
	fb.mu.Unlock()
	require.NoError(t, e.Refresh(ctx))
	_, ok := e.Snapshot().Node("n2")
	assert.False(t, ok)
	assert.Empty(t, e.History("n2"))

	before := e.Snapshot()
	fb.mu.Lock()
	fb.err = errors.New("connection refused")
	fb.mu.Unlock()
	err := e.Refresh(ctx)
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Equal(t, before, e.Snapshot())

	assert.Equal(t, 3.0, counter(m, "edgefleet_poller_refreshes_total"))
}

func TestRefreshWithoutBackend(t *testing.T) {
	e := newEngine(t, Options{})
	assert.ErrorIs(t, e.Refresh(context.Background()), models.ErrUpstreamUnavailable)
}

func TestSetNodeStatus(t *testing.T) {
	fb := &fakeBackend{}
	e := newEngine(t, Options{Backend: fb, WriteThrough: true, PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Ingest(ctx, []byte(`{"type":"node_created","data":{"id":"n1","node_type":"general","status":"online","last_heartbeat":"2020-01-01T00:00:00Z"}}`)))

	assert.ErrorIs(t, e.SetNodeStatus(ctx, "ghost", models.NodeOffline), models.ErrNotFound)
	assert.Error(t, e.SetNodeStatus(ctx, "n1", models.NodeStatus("asleep")))

	require.NoError(t, e.SetNodeStatus(ctx, "n1", models.NodeMaintenance))
	n, _ := e.Snapshot().Node("n1")
	assert.Equal(t, models.NodeMaintenance, n.Status)
	assert.True(t, n.LastHeartbeat.After(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))

	go func() { _ = e.pushLoop(ctx) }()
	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return len(fb.nodePush) == 1 && fb.nodePush[0] == models.NodeMaintenance
	}, time.Second, 5*time.Millisecond)
}

// chanTransport serves a single subscription fed from a channel.
type chanTransport struct {
	msgs   chan []byte
	closed atomic.Bool
}

func (c *chanTransport) Subscribe(ctx context.Context) (router.Subscription, error) {
	return c, nil
}

func (c *chanTransport) Next(ctx context.Context) ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *chanTransport) Close() error {
	c.closed.Store(true)
	return nil
}

func TestRun(t *testing.T) {
	fb := &fakeBackend{nodes: []models.Node{testNode("n1")}}
	tr := &chanTransport{msgs: make(chan []byte, 4)}
	m := telemetry.New()
	e := newEngine(t, Options{
		Backend:      fb,
		Transport:    tr,
		Metrics:      m,
		WriteThrough: true,
		PollInterval: time.Hour,
		Simulation:   fastSimulation(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := e.Snapshot().Node("n1")
		return ok && e.Conn().State == router.Connected
	}, 2*time.Second, 5*time.Millisecond)

	tr.msgs <- []byte(`{"type":"security_event","data":{"id":"s1","node_id":"n1","event_type":"rbac_violation","severity":"high","description":"x"}}`)
	tr.msgs <- []byte(`garbage`)

	created, err := e.CreateWorkload(ctx, testWorkload("w1", "n1"))
	require.NoError(t, err)
	assert.Equal(t, "b1", created.ID)
	require.NoError(t, e.Start(ctx, created.ID))

	require.Eventually(t, func() bool {
		p := fb.statusPushes()
		return len(p) == 2 && p[1].status == models.WorkloadCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, statusPush{id: "b1", status: models.WorkloadRunning}, fb.statusPushes()[0])

	require.Eventually(t, func() bool {
		return counter(m, "edgefleet_router_decode_errors_total") == 1 &&
			len(e.Notifications()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func holdingSimulation() lifecycle.SimulationConfig {
	return lifecycle.SimulationConfig{
		DelayMin:           time.Hour,
		DelayMax:           time.Hour,
		SuccessProbability: 1,
		DurationMin:        time.Second,
		DurationMax:        time.Second,
	}
}

func TestCreatedWorkloadSurvivesRefresh(t *testing.T) {
	fb := &fakeBackend{nodes: []models.Node{testNode("n1")}}
	e := newEngine(t, Options{Backend: fb, WriteThrough: true, Simulation: holdingSimulation()})
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))

	created, err := e.CreateWorkload(ctx, testWorkload("w1", "n1"))
	require.NoError(t, err)
	assert.Equal(t, "b1", created.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), created.CreatedAt)
	require.Len(t, fb.creates, 1)
	assert.Equal(t, backend.WorkloadCreateFrom(testWorkload("w1", "n1")), fb.creates[0])

	require.NoError(t, e.Start(ctx, created.ID))
	require.NoError(t, e.Refresh(ctx))

	w, ok := e.Workload(created.ID)
	require.True(t, ok)
	assert.Equal(t, models.WorkloadRunning, w.Status)
	_, pending := e.controller.Pending(created.ID)
	assert.True(t, pending)
	assert.Len(t, e.Snapshot().Workloads, 1)
}

func TestCreateWorkloadBackendRejects(t *testing.T) {
	fb := &fakeBackend{nodes: []models.Node{testNode("n1")}}
	e := newEngine(t, Options{Backend: fb})
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))

	_, err := e.CreateWorkload(ctx, testWorkload("w1", "ghost"))
	assert.ErrorIs(t, err, models.ErrNotFound)
	bad := testWorkload("w1", "n1")
	bad.Resources.MemoryMB = 0
	_, err = e.CreateWorkload(ctx, bad)
	var invalid models.ErrInvalidWorkload
	assert.ErrorAs(t, err, &invalid)
	assert.Empty(t, fb.creates)

	fb.mu.Lock()
	fb.createErr = errors.New("connection refused")
	fb.mu.Unlock()
	_, err = e.CreateWorkload(ctx, testWorkload("w1", "n1"))
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Empty(t, e.Snapshot().Workloads)
}

func TestRefreshKeepsUnpushedTransitions(t *testing.T) {
	fb := &fakeBackend{
		nodes:     []models.Node{testNode("n1")},
		workloads: []models.Workload{testWorkload("w1", "n1")},
	}
	e := newEngine(t, Options{Backend: fb, WriteThrough: true, Simulation: holdingSimulation()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Refresh(ctx))

	require.NoError(t, e.Start(ctx, "w1"))
	require.NoError(t, e.Refresh(ctx))
	w, _ := e.Workload("w1")
	assert.Equal(t, models.WorkloadRunning, w.Status)
	_, pending := e.controller.Pending("w1")
	assert.True(t, pending)

	go func() { _ = e.pushLoop(ctx) }()
	require.Eventually(t, func() bool {
		return len(fb.statusPushes()) == 1 && !e.changes.held(workloadKey("w1"), e.changes.mark())
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Refresh(ctx))
	w, _ = e.Workload("w1")
	assert.Equal(t, models.WorkloadRunning, w.Status)
	_, pending = e.controller.Pending("w1")
	assert.True(t, pending)
}

func TestRefreshWithoutWriteThroughFollowsBackend(t *testing.T) {
	fb := &fakeBackend{
		nodes:     []models.Node{testNode("n1")},
		workloads: []models.Workload{testWorkload("w1", "n1")},
	}
	e := newEngine(t, Options{Backend: fb, Simulation: holdingSimulation()})
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))

	require.NoError(t, e.Start(ctx, "w1"))
	require.NoError(t, e.Refresh(ctx))
	w, _ := e.Workload("w1")
	assert.Equal(t, models.WorkloadPending, w.Status)
	_, pending := e.controller.Pending("w1")
	assert.False(t, pending)
	assert.Empty(t, fb.statusPushes())
}

func TestRefreshListedBeforeLocalCreate(t *testing.T) {
	fb := &fakeBackend{nodes: []models.Node{testNode("n1")}}
	e := newEngine(t, Options{Backend: fb})
	ctx := context.Background()
	require.NoError(t, e.Refresh(ctx))

	var created models.Workload
	fb.listed = func() {
		fb.listed = nil
		var err error
		created, err = e.CreateWorkload(ctx, testWorkload("w1", "n1"))
		require.NoError(t, err)
	}
	require.NoError(t, e.Refresh(ctx))

	_, ok := e.Workload(created.ID)
	assert.True(t, ok)
}

func TestRemoveWorkloadWritesThrough(t *testing.T) {
	fb := &fakeBackend{nodes: []models.Node{testNode("n1")}}
	e := newEngine(t, Options{Backend: fb, WriteThrough: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Refresh(ctx))

	created, err := e.CreateWorkload(ctx, testWorkload("w1", "n1"))
	require.NoError(t, err)
	removed, err := e.RemoveWorkload(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	// still listed upstream until the delete is delivered
	require.NoError(t, e.Refresh(ctx))
	_, ok := e.Workload(created.ID)
	assert.False(t, ok)

	go func() { _ = e.pushLoop(ctx) }()
	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return len(fb.deletes) == 1 && fb.deletes[0] == created.ID && len(fb.workloads) == 0
	}, time.Second, 5*time.Millisecond)

	removed, err = e.RemoveWorkload(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDisposeClosesSubscription(t *testing.T) {
	tr := &chanTransport{msgs: make(chan []byte)}
	e := New(Options{Transport: tr})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	require.Eventually(t, func() bool {
		return e.Conn().State == router.Connected
	}, 2*time.Second, 5*time.Millisecond)

	e.Dispose()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Dispose")
	}
	assert.True(t, tr.closed.Load())
	assert.Equal(t, router.Disconnected, e.Conn().State)
	assert.ErrorIs(t, e.Run(context.Background()), ErrDisposed)
	e.Dispose()
}
