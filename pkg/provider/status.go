package provider

import (
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// PodPhase maps a workload status onto the pod phase reported to Kubernetes.
func PodPhase(s models.WorkloadStatus) corev1.PodPhase {
	switch s {
	case models.WorkloadPending:
		return corev1.PodPending
	case models.WorkloadRunning:
		return corev1.PodRunning
	case models.WorkloadCompleted:
		return corev1.PodSucceeded
	case models.WorkloadFailed:
		return corev1.PodFailed
	}
	return corev1.PodUnknown
}

func podStatus(pod *corev1.Pod, w models.Workload, nodeID string) corev1.PodStatus {
	status := corev1.PodStatus{
		Phase:     PodPhase(w.Status),
		StartTime: timePtr(w.CreatedAt),
		Conditions: []corev1.PodCondition{
			{Type: corev1.PodScheduled, Status: corev1.ConditionTrue},
			{Type: corev1.PodInitialized, Status: corev1.ConditionTrue},
			{Type: corev1.PodReady, Status: conditionStatus(w.Status == models.WorkloadRunning)},
		},
	}
	if w.Status == models.WorkloadFailed {
		status.Reason = "WorkloadFailed"
		status.Message = "workload " + w.ID + " failed on node " + nodeID
	}

	for _, c := range pod.Spec.Containers {
		status.ContainerStatuses = append(status.ContainerStatuses, containerStatus(c, w))
	}
	return status
}

func containerStatus(c corev1.Container, w models.Workload) corev1.ContainerStatus {
	cs := corev1.ContainerStatus{
		Name:  c.Name,
		Image: c.Image,
		Ready: w.Status == models.WorkloadRunning,
	}

	switch w.Status {
	case models.WorkloadPending:
		cs.State.Waiting = &corev1.ContainerStateWaiting{Reason: "Pending"}
	case models.WorkloadRunning:
		started := true
		cs.Started = &started
		cs.State.Running = &corev1.ContainerStateRunning{StartedAt: metaTime(w.DeployedAt)}
	case models.WorkloadCompleted:
		cs.State.Terminated = &corev1.ContainerStateTerminated{
			ExitCode:   0,
			Reason:     "Completed",
			StartedAt:  metaTime(w.DeployedAt),
			FinishedAt: metaTime(w.CompletedAt),
		}
	case models.WorkloadFailed:
		cs.State.Terminated = &corev1.ContainerStateTerminated{
			ExitCode:  1,
			Reason:    "Error",
			StartedAt: metaTime(w.DeployedAt),
		}
	}
	return cs
}

func conditionStatus(ok bool) corev1.ConditionStatus {
	if ok {
		return corev1.ConditionTrue
	}
	return corev1.ConditionFalse
}

func metaTime(t *time.Time) metav1.Time {
	if t == nil {
		return metav1.Time{}
	}
	return metav1.NewTime(*t)
}

func timePtr(t time.Time) *metav1.Time {
	mt := metav1.NewTime(t)
	return &mt
}
