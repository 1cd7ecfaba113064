package backend

import (
	"context"
	"net/http"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// DemoResult is returned by SetupSmartCity.
type DemoResult struct {
	Message string        `json:"message"`
	Nodes   []models.Node `json:"nodes"`
}

// SetupSmartCity asks the backend to seed its smart city demo fleet.
func (c *Client) SetupSmartCity(ctx context.Context) (DemoResult, error) {
	var out DemoResult
	err := c.do(ctx, "setup demo", http.MethodPost, "/demo/setup-smart-city", nil, nil, &out)
	return out, err
}
