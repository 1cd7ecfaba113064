package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// DefaultEventLimit is the page size used by the poller.
const DefaultEventLimit = 100

// ListSecurityEvents returns the newest events, up to limit.
func (c *Client) ListSecurityEvents(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	var evs []models.SecurityEvent
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, "list security events", http.MethodGet, "/security-events", q, nil, &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

// CreateSecurityEvent records an event.
func (c *Client) CreateSecurityEvent(ctx context.Context, e models.SecurityEvent) (models.SecurityEvent, error) {
	var out models.SecurityEvent
	err := c.do(ctx, "create security event", http.MethodPost, "/security-events", nil, e, &out)
	return out, err
}
