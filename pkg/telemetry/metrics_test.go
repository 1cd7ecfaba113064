package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/raycarroll/edgefleet/pkg/models"
	"github.com/raycarroll/edgefleet/pkg/store"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveEvent("metrics_update")
	m.ObserveEvent("metrics_update")
	m.ObserveEvent("node_deleted")
	m.ObserveDecodeError()
	m.ObserveNotification(models.SeverityCritical)
	m.ObserveTransition(models.TransitionRecord{From: models.WorkloadPending, To: models.WorkloadRunning})
	m.ObserveReconnect()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("metrics_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("node_deleted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("pending", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
}

func TestRefresh(t *testing.T) {
	m := New()
	m.ObserveRefresh(nil, 120*time.Millisecond)
	m.ObserveRefresh(errors.New("boom"), time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.refreshDuration))
}

func TestConnState(t *testing.T) {
	m := New()
	m.SetConnState(2)
	expected := `
# HELP edgefleet_stream_connection_state Stream connection state (0 disconnected, 1 connected, 2 error)
# TYPE edgefleet_stream_connection_state gauge
edgefleet_stream_connection_state 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "edgefleet_stream_connection_state"))
}

func TestObserveSnapshot(t *testing.T) {
	st := store.New()
	require.NoError(t, st.UpsertNode(models.Node{ID: "a", Status: models.NodeOnline, Category: models.CategoryGeneral}))
	require.NoError(t, st.UpsertNode(models.Node{ID: "b", Status: models.NodeOnline, Category: models.CategoryGeneral}))
	require.NoError(t, st.UpsertWorkload(models.Workload{
		ID: "w1", NodeID: "a", Category: models.WorkloadMonitoring, Priority: models.PriorityLow,
		Status: models.WorkloadRunning, Resources: models.Resources{CPU: resource.MustParse("1"), MemoryMB: 1},
	}))

	m := New()
	m.ObserveSnapshot(st.Snapshot())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.nodes.WithLabelValues("online")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.nodes.WithLabelValues("offline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workloads.WithLabelValues("running")))

	st.RemoveNode("b")
	m.ObserveSnapshot(st.Snapshot())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodes.WithLabelValues("online")))
}
