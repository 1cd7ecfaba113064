package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/virtual-kubelet/virtual-kubelet/errdefs"
	"github.com/virtual-kubelet/virtual-kubelet/node"
	"github.com/virtual-kubelet/virtual-kubelet/node/nodeutil"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/utils/clock"

	"github.com/raycarroll/edgefleet/pkg/logger"
	"github.com/raycarroll/edgefleet/pkg/models"
	"github.com/raycarroll/edgefleet/pkg/router"
	"github.com/raycarroll/edgefleet/pkg/store"
)

// Pod metadata keys understood by the bridge.
const (
	AnnotationNodeID       = "edgefleet.io/node-id"
	AnnotationNodeSelector = "edgefleet.io/node-selector"
	LabelPriority          = "edgefleet.io/priority"
	LabelCategory          = "edgefleet.io/category"
)

// Requests used when a pod declares none.
var (
	DefaultCPURequest      = resource.MustParse("500m")
	DefaultMemoryRequestMB = int64(256)
)

var (
	_ nodeutil.Provider = (*Provider)(nil)
	_ node.NodeProvider = (*Provider)(nil)
)

// Fleet is the engine surface the bridge drives. *engine.Engine satisfies it.
type Fleet interface {
	Snapshot() store.Snapshot
	Workload(id string) (models.Workload, bool)
	CreateWorkload(ctx context.Context, w models.Workload) (models.Workload, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	RemoveWorkload(ctx context.Context, id string) (bool, error)
	Conn() router.ConnStatus
}

// Provider implements the Virtual Kubelet provider interface on top of the
// fleet: every pod scheduled to the virtual node becomes one workload.
type Provider struct {
	cfg   Config
	fleet Fleet
	clock clock.WithTicker
	log   *logger.PrefixLogger
	start time.Time

	// Pod tracking
	pods map[string]*podEntry // podKey -> entry
	mu   sync.RWMutex
}

type podEntry struct {
	mapping *models.PodWorkloadMapping
	pod     *corev1.Pod
}

// Config holds provider configuration.
type Config struct {
	NodeName string
	Version  string

	// Capacity contributed by each online fleet node.
	NodeCPU    resource.Quantity
	NodeMemory resource.Quantity
	NodePods   int64

	// StatusInterval is how often node status changes are checked for.
	StatusInterval time.Duration

	Clock clock.WithTicker
}

// NewProvider creates a new Virtual Kubelet provider.
func NewProvider(cfg Config, fleet Fleet) (*Provider, error) {
	if cfg.NodeName == "" {
		return nil, fmt.Errorf("node name is required")
	}
	if fleet == nil {
		return nil, fmt.Errorf("fleet is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.NodeCPU.IsZero() {
		cfg.NodeCPU = resource.MustParse("4")
	}
	if cfg.NodeMemory.IsZero() {
		cfg.NodeMemory = resource.MustParse("8Gi")
	}
	if cfg.NodePods == 0 {
		cfg.NodePods = 100
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &Provider{
		cfg:   cfg,
		fleet: fleet,
		clock: cfg.Clock,
		log:   logger.WithPrefix("[provider] "),
		start: cfg.Clock.Now(),
		pods:  make(map[string]*podEntry),
	}, nil
}

func podKey(namespace, name string) string {
	return namespace + "/" + name
}

// PodLifecycleHandler interface implementation

// CreatePod places the pod on a fleet node and starts a workload for it.
func (p *Provider) CreatePod(ctx context.Context, pod *corev1.Pod) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := podKey(pod.Namespace, pod.Name)
	if e, ok := p.pods[key]; ok {
		if e.mapping.PodUID == pod.UID {
			return nil
		}
		return errdefs.InvalidInputf("pod %s is already bound to workload %s", key, e.mapping.WorkloadID)
	}

	target, err := p.place(pod)
	if err != nil {
		return err
	}

	w, err := workloadFromPod(pod, target.ID)
	if err != nil {
		return err
	}

	created, err := p.fleet.CreateWorkload(ctx, w)
	if err != nil {
		return fmt.Errorf("creating workload for pod %s: %w", key, err)
	}
	if err := p.fleet.Start(ctx, created.ID); err != nil {
		if _, rerr := p.fleet.RemoveWorkload(ctx, created.ID); rerr != nil {
			p.log.Warn("Failed to remove workload %s after start error: %v", created.ID, rerr)
		}
		return fmt.Errorf("starting workload for pod %s: %w", key, err)
	}

	p.pods[key] = &podEntry{
		mapping: models.NewPodWorkloadMapping(pod.Namespace, pod.Name, pod.UID, created.ID, target.ID, p.clock.Now()),
		pod:     pod.DeepCopy(),
	}
	p.log.Info("Pod %s placed on node %s as workload %s", key, target.ID, created.ID)
	return nil
}

// UpdatePod records the new pod object. Workloads are immutable once
// created, so spec changes do not reach the fleet.
func (p *Provider) UpdatePod(ctx context.Context, pod *corev1.Pod) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := podKey(pod.Namespace, pod.Name)
	e := p.pods[key]
	if e == nil {
		return errdefs.NotFoundf("pod %s not found", key)
	}
	e.pod = pod.DeepCopy()
	return nil
}

// DeletePod stops and removes the pod's workload.
func (p *Provider) DeletePod(ctx context.Context, pod *corev1.Pod) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := podKey(pod.Namespace, pod.Name)
	e := p.pods[key]
	if e == nil {
		// Already deleted (idempotent)
		return nil
	}

	id := e.mapping.WorkloadID
	if w, ok := p.fleet.Workload(id); ok && w.Status == models.WorkloadRunning {
		if err := p.fleet.Stop(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("stopping workload %s: %w", id, err)
		}
	}
	if _, err := p.fleet.RemoveWorkload(ctx, id); err != nil {
		return fmt.Errorf("removing workload %s: %w", id, err)
	}

	delete(p.pods, key)
	p.log.Info("Pod %s deleted, workload %s removed", key, id)
	return nil
}

// GetPod retrieves a pod with its status derived from the workload.
func (p *Provider) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key := podKey(namespace, name)
	e := p.pods[key]
	if e == nil {
		return nil, errdefs.NotFoundf("pod %s not found", key)
	}
	return p.podWithStatus(e), nil
}

// GetPods retrieves all pods managed by this provider.
func (p *Provider) GetPods(ctx context.Context) ([]*corev1.Pod, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.pods))
	for k := range p.pods {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pods := make([]*corev1.Pod, 0, len(keys))
	for _, k := range keys {
		pods = append(pods, p.podWithStatus(p.pods[k]))
	}
	return pods, nil
}

// GetPodStatus retrieves just the status of a pod.
func (p *Provider) GetPodStatus(ctx context.Context, namespace, name string) (*corev1.PodStatus, error) {
	pod, err := p.GetPod(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	return &pod.Status, nil
}

// WorkloadFor returns the workload ID backing a pod.
func (p *Provider) WorkloadFor(namespace, name string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e := p.pods[podKey(namespace, name)]
	if e == nil {
		return "", false
	}
	return e.mapping.WorkloadID, true
}

func (p *Provider) podWithStatus(e *podEntry) *corev1.Pod {
	pod := e.pod.DeepCopy()
	w, ok := p.fleet.Workload(e.mapping.WorkloadID)
	if !ok {
		pod.Status = corev1.PodStatus{
			Phase:   corev1.PodFailed,
			Reason:  "WorkloadLost",
			Message: fmt.Sprintf("workload %s no longer exists", e.mapping.WorkloadID),
		}
		return pod
	}
	pod.Status = podStatus(pod, w, e.mapping.NodeID)
	return pod
}

// place picks the fleet node for a pod from its annotations.
func (p *Provider) place(pod *corev1.Pod) (*models.Node, error) {
	snap := p.fleet.Snapshot()

	var target models.PlacementTarget
	if id := pod.Annotations[AnnotationNodeID]; id != "" {
		target.NodeID = &id
	}

	nodes := snap.Nodes
	if raw := pod.Annotations[AnnotationNodeSelector]; raw != "" {
		sel, err := labels.Parse(raw)
		if err != nil {
			return nil, errdefs.InvalidInputf("parsing %s: %v", AnnotationNodeSelector, err)
		}
		nodes = filterNodes(nodes, sel)
	}

	n, err := target.SelectNode(nodes, snap.WorkloadCounts())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, errdefs.AsNotFound(err)
		}
		return nil, errdefs.AsInvalidInput(fmt.Errorf("placing pod %s: %w", podKey(pod.Namespace, pod.Name), err))
	}
	return n, nil
}

// nodeLabels exposes node attributes to placement selectors.
func nodeLabels(n models.Node) labels.Set {
	return labels.Set{
		"id":       n.ID,
		"type":     string(n.Category),
		"location": n.Location,
		"status":   string(n.Status),
		"security": string(n.SecurityStatus),
	}
}

func filterNodes(nodes []models.Node, sel labels.Selector) []models.Node {
	var out []models.Node
	for _, n := range nodes {
		if sel.Matches(nodeLabels(n)) {
			out = append(out, n)
		}
	}
	return out
}

// workloadFromPod derives a pending workload from the pod spec.
func workloadFromPod(pod *corev1.Pod, nodeID string) (models.Workload, error) {
	w := models.Workload{
		ID:          uuid.NewString(),
		Name:        pod.Name,
		Description: "pod " + podKey(pod.Namespace, pod.Name),
		NodeID:      nodeID,
		Category:    models.WorkloadDataProcessing,
		Priority:    models.PriorityMedium,
	}

	if v, ok := pod.Labels[LabelCategory]; ok {
		if err := w.Category.UnmarshalText([]byte(v)); err != nil {
			return models.Workload{}, errdefs.AsInvalidInput(err)
		}
	}
	if v, ok := pod.Labels[LabelPriority]; ok {
		if err := w.Priority.UnmarshalText([]byte(v)); err != nil {
			return models.Workload{}, errdefs.AsInvalidInput(err)
		}
	}

	var cpu, mem resource.Quantity
	for _, c := range pod.Spec.Containers {
		cpu.Add(request(c, corev1.ResourceCPU))
		mem.Add(request(c, corev1.ResourceMemory))
	}
	if cpu.Sign() <= 0 {
		cpu = DefaultCPURequest.DeepCopy()
	}
	w.Resources.CPU = cpu
	w.Resources.MemoryMB = DefaultMemoryRequestMB
	if mem.Sign() > 0 {
		const mib = 1 << 20
		w.Resources.MemoryMB = (mem.Value() + mib - 1) / mib
	}
	return w, nil
}

// request returns the container request for name, falling back to its limit.
func request(c corev1.Container, name corev1.ResourceName) resource.Quantity {
	if q, ok := c.Resources.Requests[name]; ok {
		return q
	}
	if q, ok := c.Resources.Limits[name]; ok {
		return q
	}
	return resource.Quantity{}
}
