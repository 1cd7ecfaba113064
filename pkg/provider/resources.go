package provider

import (
	"context"
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/virtual-kubelet/virtual-kubelet/errdefs"
	"github.com/virtual-kubelet/virtual-kubelet/node/api"
	"github.com/virtual-kubelet/virtual-kubelet/node/api/statsv1alpha1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// Families reported by GetMetricsResource.
const (
	MetricNodeCPU     = "edgefleet_node_cpu_usage_percent"
	MetricNodeMemory  = "edgefleet_node_memory_usage_percent"
	MetricNodeLatency = "edgefleet_node_network_latency_ms"
)

// GetMetricsResource reports the current gauges of every fleet node.
func (p *Provider) GetMetricsResource(ctx context.Context) ([]*dto.MetricFamily, error) {
	nodes := p.fleet.Snapshot().Nodes

	families := []struct {
		name, help string
		field      models.Field
	}{
		{MetricNodeCPU, "CPU usage of a fleet node in percent.", models.FieldCPU},
		{MetricNodeMemory, "Memory usage of a fleet node in percent.", models.FieldMemory},
		{MetricNodeLatency, "Network latency of a fleet node in milliseconds.", models.FieldLatency},
	}

	out := make([]*dto.MetricFamily, 0, len(families))
	for _, f := range families {
		mf := &dto.MetricFamily{
			Name: ptr(f.name),
			Help: ptr(f.help),
			Type: ptr(dto.MetricType_GAUGE),
		}
		for _, n := range nodes {
			mf.Metric = append(mf.Metric, &dto.Metric{
				Label: []*dto.LabelPair{
					{Name: ptr("node_id"), Value: ptr(n.ID)},
					{Name: ptr("node_name"), Value: ptr(n.Name)},
					{Name: ptr("status"), Value: ptr(string(n.Status))},
				},
				Gauge: &dto.Gauge{Value: ptr(n.Gauges.Value(f.field))},
			})
		}
		out = append(out, mf)
	}
	return out, nil
}

// GetStatsSummary reports fleet usage as node stats, and the pods bound
// to workloads.
func (p *Provider) GetStatsSummary(ctx context.Context) (*statsv1alpha1.Summary, error) {
	now := metav1.NewTime(p.clock.Now())
	online := p.fleet.Snapshot().OnlineNodes()

	capacity, allocatable := p.capacity(online)
	cpuTotal, cpuFree := capacity.Cpu().MilliValue(), allocatable.Cpu().MilliValue()
	memTotal, memFree := capacity.Memory().Value(), allocatable.Memory().Value()
	usageNano := uint64(cpuTotal-cpuFree) * 1e6
	workingSet := uint64(memTotal - memFree)

	summary := &statsv1alpha1.Summary{
		Node: statsv1alpha1.NodeStats{
			NodeName:  p.cfg.NodeName,
			StartTime: metav1.NewTime(p.start),
			CPU:       &statsv1alpha1.CPUStats{Time: now, UsageNanoCores: &usageNano},
			Memory:    &statsv1alpha1.MemoryStats{Time: now, WorkingSetBytes: &workingSet},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.pods {
		summary.Pods = append(summary.Pods, statsv1alpha1.PodStats{
			PodRef: statsv1alpha1.PodReference{
				Name:      e.mapping.Name,
				Namespace: e.mapping.Namespace,
				UID:       string(e.mapping.PodUID),
			},
			StartTime: metav1.NewTime(e.mapping.CreatedAt),
		})
	}
	return summary, nil
}

// Workloads are simulated, so there are no containers to reach.

func (p *Provider) GetContainerLogs(ctx context.Context, namespace, podName, containerName string, opts api.ContainerLogOpts) (io.ReadCloser, error) {
	return nil, errdefs.NotFoundf("container logs are not available for %s/%s", namespace, podName)
}

func (p *Provider) RunInContainer(ctx context.Context, namespace, podName, containerName string, cmd []string, attach api.AttachIO) error {
	return errdefs.NotFoundf("exec is not available for %s/%s", namespace, podName)
}

func (p *Provider) AttachToContainer(ctx context.Context, namespace, podName, containerName string, attach api.AttachIO) error {
	return errdefs.NotFoundf("attach is not available for %s/%s", namespace, podName)
}

func (p *Provider) PortForward(ctx context.Context, namespace, pod string, port int32, stream io.ReadWriteCloser) error {
	return errdefs.NotFoundf("port forwarding is not available for %s/%s", namespace, pod)
}

func ptr[T any](v T) *T { return &v }
