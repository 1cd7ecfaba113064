package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// WorkloadCreate is the payload for submitting a workload.
type WorkloadCreate struct {
	Name          string                  `json:"name"`
	Description   string                  `json:"description"`
	NodeID        string                  `json:"node_id"`
	Category      models.WorkloadCategory `json:"workload_type"`
	CPURequest    float64                 `json:"cpu_request"`
	MemoryRequest float64                 `json:"memory_request"`
	Priority      models.Priority         `json:"priority,omitempty"`
}

// WorkloadCreateFrom builds a create payload from a workload.
func WorkloadCreateFrom(w models.Workload) WorkloadCreate {
	return WorkloadCreate{
		Name:          w.Name,
		Description:   w.Description,
		NodeID:        w.NodeID,
		Category:      w.Category,
		CPURequest:    w.Resources.CPU.AsApproximateFloat64(),
		MemoryRequest: float64(w.Resources.MemoryMB),
		Priority:      w.Priority,
	}
}

// ListWorkloads returns every workload.
func (c *Client) ListWorkloads(ctx context.Context) ([]models.Workload, error) {
	var ws []models.Workload
	if err := c.do(ctx, "list workloads", http.MethodGet, "/workloads", nil, nil, &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// ListNodeWorkloads returns the workloads assigned to a node.
func (c *Client) ListNodeWorkloads(ctx context.Context, nodeID string) ([]models.Workload, error) {
	var ws []models.Workload
	if err := c.do(ctx, "list node workloads", http.MethodGet, "/workloads/node/"+url.PathEscape(nodeID), nil, nil, &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// CreateWorkload submits a workload.
func (c *Client) CreateWorkload(ctx context.Context, in WorkloadCreate) (models.Workload, error) {
	var w models.Workload
	err := c.do(ctx, "create workload", http.MethodPost, "/workloads", nil, in, &w)
	return w, err
}

// UpdateWorkloadStatus records a status change. executionTime is sent
// only when set.
func (c *Client) UpdateWorkloadStatus(ctx context.Context, id string, status models.WorkloadStatus, executionTime *float64) error {
	q := url.Values{"status": {string(status)}}
	if executionTime != nil {
		q.Set("execution_time", strconv.FormatFloat(*executionTime, 'f', -1, 64))
	}
	err := c.do(ctx, "update workload status", http.MethodPut, "/workloads/"+url.PathEscape(id)+"/status", q, nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return models.NewNotFound("workload", id)
	}
	return err
}

// DeleteWorkload removes a workload (idempotent).
func (c *Client) DeleteWorkload(ctx context.Context, id string) error {
	err := c.do(ctx, "delete workload", http.MethodDelete, "/workloads/"+url.PathEscape(id), nil, nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}
