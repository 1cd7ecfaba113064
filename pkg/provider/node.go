package provider

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/raycarroll/edgefleet/pkg/models"
	"github.com/raycarroll/edgefleet/pkg/router"
)

// NodeProvider interface implementation

// Ping fails while the event stream reports an error.
func (p *Provider) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c := p.fleet.Conn(); c.State == router.Error {
		return fmt.Errorf("event stream: %s", c.LastError)
	}
	return nil
}

// NotifyNodeStatus registers a node status callback. The callback fires
// whenever readiness or capacity changes, until ctx ends.
func (p *Provider) NotifyNodeStatus(ctx context.Context, callback func(*corev1.Node)) error {
	n, err := p.GetNode(ctx)
	if err != nil {
		return err
	}
	callback(n)

	go func() {
		t := p.clock.NewTicker(p.cfg.StatusInterval)
		defer t.Stop()
		last := n
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C():
			}
			next, err := p.GetNode(ctx)
			if err != nil {
				p.log.Warn("Failed to build node status: %v", err)
				continue
			}
			if nodeStatusChanged(last, next) {
				callback(next)
				last = next
			}
		}
	}()
	return nil
}

func nodeStatusChanged(a, b *corev1.Node) bool {
	if readyStatus(a) != readyStatus(b) {
		return true
	}
	return !equality.Semantic.DeepEqual(a.Status.Capacity, b.Status.Capacity) ||
		!equality.Semantic.DeepEqual(a.Status.Allocatable, b.Status.Allocatable)
}

func readyStatus(n *corev1.Node) corev1.ConditionStatus {
	for _, c := range n.Status.Conditions {
		if c.Type == corev1.NodeReady {
			return c.Status
		}
	}
	return corev1.ConditionUnknown
}

// GetNode returns the virtual node representing the online fleet.
func (p *Provider) GetNode(ctx context.Context) (*corev1.Node, error) {
	capacity, allocatable := p.capacity(p.fleet.Snapshot().OnlineNodes())
	now := metav1.NewTime(p.clock.Now())

	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name: p.cfg.NodeName,
			Labels: map[string]string{
				"type":                   "virtual-kubelet",
				"kubernetes.io/role":     "agent",
				"kubernetes.io/hostname": p.cfg.NodeName,
				"node.kubernetes.io/vk":  "edgefleet",
			},
		},
		Status: corev1.NodeStatus{
			Phase:       corev1.NodeRunning,
			Conditions:  []corev1.NodeCondition{p.readyCondition(now)},
			Capacity:    capacity,
			Allocatable: allocatable,
			NodeInfo: corev1.NodeSystemInfo{
				KubeletVersion:  "edgefleet-" + p.cfg.Version,
				Architecture:    "amd64",
				OperatingSystem: "Linux",
			},
		},
	}
	return node, nil
}

func (p *Provider) readyCondition(now metav1.Time) corev1.NodeCondition {
	c := p.fleet.Conn()
	cond := corev1.NodeCondition{
		Type:               corev1.NodeReady,
		LastHeartbeatTime:  now,
		LastTransitionTime: metav1.NewTime(c.Since),
	}
	switch c.State {
	case router.Connected:
		cond.Status = corev1.ConditionTrue
		cond.Reason = "StreamConnected"
		cond.Message = "fleet event stream is connected"
	case router.Error:
		cond.Status = corev1.ConditionFalse
		cond.Reason = "StreamError"
		cond.Message = c.LastError
	default:
		cond.Status = corev1.ConditionFalse
		cond.Reason = "StreamDisconnected"
		cond.Message = "fleet event stream is disconnected"
	}
	return cond
}

// capacity sums the per-node capacity of nodes. Allocatable scales each
// node's share by its free cpu and memory.
func (p *Provider) capacity(nodes []models.Node) (corev1.ResourceList, corev1.ResourceList) {
	n := int64(len(nodes))
	cpuMilli := p.cfg.NodeCPU.MilliValue()
	memBytes := p.cfg.NodeMemory.Value()

	var freeCPU, freeMem int64
	for _, node := range nodes {
		freeCPU += scale(cpuMilli, node.CPUUsage)
		freeMem += scale(memBytes, node.MemoryUsage)
	}

	capacity := corev1.ResourceList{
		corev1.ResourceCPU:    *resource.NewMilliQuantity(cpuMilli*n, resource.DecimalSI),
		corev1.ResourceMemory: *resource.NewQuantity(memBytes*n, resource.BinarySI),
		corev1.ResourcePods:   *resource.NewQuantity(p.cfg.NodePods*n, resource.DecimalSI),
	}
	allocatable := corev1.ResourceList{
		corev1.ResourceCPU:    *resource.NewMilliQuantity(freeCPU, resource.DecimalSI),
		corev1.ResourceMemory: *resource.NewQuantity(freeMem, resource.BinarySI),
		corev1.ResourcePods:   *resource.NewQuantity(p.cfg.NodePods*n, resource.DecimalSI),
	}
	return capacity, allocatable
}

// scale returns the unused part of total at usage percent.
func scale(total int64, usage float64) int64 {
	switch {
	case usage <= 0:
		return total
	case usage >= 100:
		return 0
	}
	return int64(float64(total) * (100 - usage) / 100)
}
