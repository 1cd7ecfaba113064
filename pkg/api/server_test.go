package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/raycarroll/edgefleet/pkg/engine"
	"github.com/raycarroll/edgefleet/pkg/lifecycle"
	"github.com/raycarroll/edgefleet/pkg/models"
	"github.com/raycarroll/edgefleet/pkg/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	m := telemetry.New()
	e := engine.New(engine.Options{Metrics: m})
	t.Cleanup(e.Dispose)

	ctx := context.Background()
	require.NoError(t, e.Ingest(ctx, []byte(`{"type":"node_created","data":{"id":"n1","name":"Harbour Cam","node_type":"camera","status":"online","cpu_usage":20}}`)))
	require.NoError(t, e.Ingest(ctx, []byte(`{"type":"metrics_update","node_id":"n1","cpu_usage":30}`)))
	_, err := e.CreateWorkload(ctx, models.Workload{
		ID:        "w1",
		Name:      "detect",
		NodeID:    "n1",
		Category:  models.WorkloadAIAnalytics,
		Resources: models.Resources{CPU: resource.MustParse("1"), MemoryMB: 512},
	})
	require.NoError(t, err)

	return New(e, m.Registry), e
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	decode(t, w, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "disconnected", resp["connection"])
}

func TestSnapshot(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Nodes []struct {
			ID       string  `json:"id"`
			CPU      float64 `json:"cpu_usage"`
			Workload int     `json:"workload_count"`
		} `json:"nodes"`
		Workloads []struct {
			ID       string `json:"id"`
			NodeName string `json:"node_name"`
			Status   string `json:"status"`
		} `json:"workloads"`
		SecurityEvents []json.RawMessage `json:"security_events"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Nodes, 1)
	assert.Equal(t, 30.0, resp.Nodes[0].CPU)
	assert.Equal(t, 1, resp.Nodes[0].Workload)
	require.Len(t, resp.Workloads, 1)
	assert.Equal(t, "Harbour Cam", resp.Workloads[0].NodeName)
	assert.Equal(t, "pending", resp.Workloads[0].Status)
	assert.NotNil(t, resp.SecurityEvents)
}

func TestWorkloadsFilter(t *testing.T) {
	s, _ := newTestServer(t)

	var all []map[string]any
	decode(t, do(t, s, http.MethodGet, "/api/v1/workloads?status=pending", ""), &all)
	assert.Len(t, all, 1)

	var none []map[string]any
	decode(t, do(t, s, http.MethodGet, "/api/v1/workloads?status=running", ""), &none)
	assert.Empty(t, none)

	w := do(t, s, http.MethodGet, "/api/v1/workloads?status=sleeping", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalytics(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/analytics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Aggregates struct {
			TotalNodes     int `json:"total_nodes"`
			TotalWorkloads int `json:"total_workloads"`
		} `json:"aggregates"`
		Recommendations []json.RawMessage `json:"recommendations"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Aggregates.TotalNodes)
	assert.Equal(t, 1, resp.Aggregates.TotalWorkloads)
	assert.NotNil(t, resp.Recommendations)
}

func TestHistory(t *testing.T) {
	s, _ := newTestServer(t)

	var samples []map[string]any
	decode(t, do(t, s, http.MethodGet, "/api/v1/nodes/n1/history", ""), &samples)
	require.Len(t, samples, 1)
	assert.Equal(t, 30.0, samples[0]["cpu_usage"])

	w := do(t, s, http.MethodGet, "/api/v1/nodes/ghost/history", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestWorkloadCommands(t *testing.T) {
	s, e := newTestServer(t)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/workloads/w1/start", http.StatusOK},
		{"/api/v1/workloads/w1/start", http.StatusConflict},
		{"/api/v1/workloads/w1/stop", http.StatusOK},
		{"/api/v1/workloads/w1/complete", http.StatusConflict},
		{"/api/v1/workloads/w1/restart", http.StatusOK},
		{"/api/v1/workloads/w1/cancel", http.StatusOK},
		{"/api/v1/workloads/ghost/start", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := do(t, s, http.MethodPost, tt.path, "")
		assert.Equal(t, tt.want, w.Code, "%s: %s", tt.path, w.Body.String())
	}

	got, ok := e.Workload("w1")
	require.True(t, ok)
	assert.Equal(t, models.WorkloadFailed, got.Status)

	var audit []map[string]any
	decode(t, do(t, s, http.MethodGet, "/api/v1/audit", ""), &audit)
	assert.Len(t, audit, 4)
}

func TestSetNodeStatus(t *testing.T) {
	s, e := newTestServer(t)

	w := do(t, s, http.MethodPut, "/api/v1/nodes/n1/status", `{"status":"maintenance"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	n, ok := e.Snapshot().Node("n1")
	require.True(t, ok)
	assert.Equal(t, models.NodeMaintenance, n.Status)

	w = do(t, s, http.MethodPut, "/api/v1/nodes/n1/status", `{"status":"asleep"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPut, "/api/v1/nodes/n1/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPut, "/api/v1/nodes/ghost/status", `{"status":"online"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshWithoutBackend(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestConnectionAndNotifications(t *testing.T) {
	s, e := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		raw := fmt.Sprintf(`{"type":"security_event","data":{"id":"s%d","node_id":"n1","event_type":"rbac_violation","severity":"critical","description":"denied"}}`, i)
		require.NoError(t, e.Ingest(ctx, []byte(raw)))
	}

	var conn map[string]any
	decode(t, do(t, s, http.MethodGet, "/api/v1/connection", ""), &conn)
	assert.Equal(t, "disconnected", conn["state"])

	var notes []map[string]any
	decode(t, do(t, s, http.MethodGet, "/api/v1/notifications", ""), &notes)
	require.Len(t, notes, 5)
	assert.Equal(t, "s6", notes[4]["id"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "edgefleet_router_events_total")
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewNotFound("node", "x"), http.StatusNotFound},
		{&models.TransitionError{WorkloadID: "w", From: models.WorkloadFailed, Command: models.CommandStart}, http.StatusConflict},
		{&models.UpstreamError{Op: "list nodes", Err: errors.New("refused")}, http.StatusBadGateway},
		{models.ErrInvalidNode("bad"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", models.ErrInvalidWorkload("bad")), http.StatusBadRequest},
		{engine.ErrDisposed, http.StatusServiceUnavailable},
		{lifecycle.ErrClosed, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.err), tt.err.Error())
	}
}
