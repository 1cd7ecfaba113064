package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// NodeCreate is the payload for registering a node.
type NodeCreate struct {
	Name     string              `json:"name"`
	Location string              `json:"location"`
	Category models.NodeCategory `json:"node_type"`
}

// NodeUpdate is a partial node update. Nil fields are left unchanged.
type NodeUpdate struct {
	Name           *string            `json:"name,omitempty"`
	Location       *string            `json:"location,omitempty"`
	Status         *models.NodeStatus `json:"status,omitempty"`
	CPUUsage       *float64           `json:"cpu_usage,omitempty"`
	MemoryUsage    *float64           `json:"memory_usage,omitempty"`
	NetworkLatency *float64           `json:"network_latency,omitempty"`
}

// ListNodes returns every registered node.
func (c *Client) ListNodes(ctx context.Context) ([]models.Node, error) {
	var nodes []models.Node
	if err := c.do(ctx, "list nodes", http.MethodGet, "/edge-nodes", nil, nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetNode fetches one node. A missing node is models.ErrNotFound.
func (c *Client) GetNode(ctx context.Context, id string) (models.Node, error) {
	var n models.Node
	err := c.do(ctx, "get node", http.MethodGet, "/edge-nodes/"+url.PathEscape(id), nil, nil, &n)
	if isStatus(err, http.StatusNotFound) {
		return models.Node{}, models.NewNotFound("node", id)
	}
	return n, err
}

// CreateNode registers a node.
func (c *Client) CreateNode(ctx context.Context, in NodeCreate) (models.Node, error) {
	var n models.Node
	err := c.do(ctx, "create node", http.MethodPost, "/edge-nodes", nil, in, &n)
	return n, err
}

// UpdateNode applies a partial update.
func (c *Client) UpdateNode(ctx context.Context, id string, in NodeUpdate) (models.Node, error) {
	var n models.Node
	err := c.do(ctx, "update node", http.MethodPut, "/edge-nodes/"+url.PathEscape(id), nil, in, &n)
	if isStatus(err, http.StatusNotFound) {
		return models.Node{}, models.NewNotFound("node", id)
	}
	return n, err
}

// DeleteNode removes a node (idempotent).
func (c *Client) DeleteNode(ctx context.Context, id string) error {
	err := c.do(ctx, "delete node", http.MethodDelete, "/edge-nodes/"+url.PathEscape(id), nil, nil, nil)
	// Idempotent: 404 is OK
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}
