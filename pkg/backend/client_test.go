package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raycarroll/edgefleet/pkg/models"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIURL: srv.URL + "/api/", AuthToken: "tok", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)

	c, err := NewClient(Config{APIURL: "http://localhost:8001/api"})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, c.httpClient.Timeout)
	assert.Empty(t, c.authToken)
}

func TestPing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analytics", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{}`)
	}))
	assert.NoError(t, c.Ping(context.Background()))
}

func TestListNodes(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/edge-nodes", r.URL.Path)
		_, _ = io.WriteString(w, `[{"id":"n1","name":"Cam","location":"Main St","node_type":"traffic_camera",
			"status":"online","cpu_usage":12.5,"memory_usage":40,"network_latency":8,
			"last_heartbeat":"2024-05-01T12:00:00+00:00","created_at":"2024-05-01T11:00:00+00:00"}]`)
	}))

	nodes, err := c.ListNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, models.CategoryCamera, nodes[0].Category)
	assert.Equal(t, 12.5, nodes[0].CPUUsage)
}

func TestUpstreamFailures(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	}))

	_, err := c.ListWorkloads(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "database down", se.Body)

	unreachable, err := NewClient(Config{APIURL: "http://127.0.0.1:1", Timeout: time.Second})
	require.NoError(t, err)
	_, err = unreachable.ListNodes(context.Background())
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}

func TestMalformedResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"n1","status":"exploded"}]`)
	}))
	_, err := c.ListNodes(context.Background())
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}

func TestGetNodeNotFound(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())

	_, err := c.GetNode(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, c.DeleteNode(context.Background(), "missing"))
}

func TestUpdateNode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/edge-nodes/n1", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]interface{}{"status": "maintenance"}, body)
		_, _ = io.WriteString(w, `{"id":"n1","node_type":"general","status":"maintenance"}`)
	}))

	status := models.NodeMaintenance
	n, err := c.UpdateNode(context.Background(), "n1", NodeUpdate{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, models.NodeMaintenance, n.Status)
}

func TestUpdateWorkloadStatus(t *testing.T) {
	var got []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/workloads/w1/status", r.URL.Path)
		got = append(got, r.URL.RawQuery)
		_, _ = io.WriteString(w, `{"message":"Workload status updated successfully"}`)
	}))

	secs := 42.5
	require.NoError(t, c.UpdateWorkloadStatus(context.Background(), "w1", models.WorkloadCompleted, &secs))
	require.NoError(t, c.UpdateWorkloadStatus(context.Background(), "w1", models.WorkloadRunning, nil))
	assert.Equal(t, []string{"execution_time=42.5&status=completed", "status=running"}, got)
}

func TestCreateWorkload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in WorkloadCreate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, 0.25, in.CPURequest)
		_, _ = io.WriteString(w, `{"id":"w9","name":"detect","node_id":"n1","workload_type":"ai_analytics",
			"status":"pending","cpu_request":0.25,"memory_request":256}`)
	}))

	w, err := c.CreateWorkload(context.Background(), WorkloadCreate{
		Name: "detect", NodeID: "n1", Category: models.WorkloadAIAnalytics, CPURequest: 0.25, MemoryRequest: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, "w9", w.ID)
	assert.Equal(t, int64(256), w.Resources.MemoryMB)
}

func TestDeleteWorkload(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/workloads/gone" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"message":"Workload deleted successfully"}`)
	}))

	require.NoError(t, c.DeleteWorkload(context.Background(), "w1"))
	require.NoError(t, c.DeleteWorkload(context.Background(), "gone"))
	assert.Equal(t, []string{"/api/workloads/w1", "/api/workloads/gone"}, paths)
}

func TestListSecurityEvents(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `[{"id":"s1","node_id":"n1","event_type":"rbac_violation","severity":"high",
			"description":"denied","timestamp":"2024-05-01T12:00:00+00:00","resolved":false}]`)
	}))

	evs, err := c.ListSecurityEvents(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, models.SeverityHigh, evs[0].Severity)
}

func TestSetupSmartCity(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/demo/setup-smart-city", r.URL.Path)
		_, _ = io.WriteString(w, `{"message":"Created 1 demo edge nodes","nodes":[{"id":"n1","node_type":"air_quality_sensor","status":"online"}]}`)
	}))

	res, err := c.SetupSmartCity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Created 1 demo edge nodes", res.Message)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, models.CategorySensor, res.Nodes[0].Category)
}
