package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raycarroll/edgefleet/pkg/models"
)

type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	NodeID    string          `json:"node_id"`
	Timestamp string          `json:"timestamp"`

	// metrics_update may carry its readings at the top level
	gauges
}

type gauges struct {
	CPUUsage       *float64 `json:"cpu_usage"`
	MemoryUsage    *float64 `json:"memory_usage"`
	NetworkLatency *float64 `json:"network_latency"`
}

func (g gauges) patch() GaugePatch {
	return GaugePatch{CPUUsage: g.CPUUsage, MemoryUsage: g.MemoryUsage, NetworkLatency: g.NetworkLatency}
}

// Decode parses one stream message. now stamps records and samples that
// arrive without a timestamp. Failures are *models.DecodeError.
func Decode(raw []byte, now time.Time) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &models.DecodeError{Err: err}
	}
	if env.Type == "" {
		return nil, &models.DecodeError{Err: errors.New("missing type")}
	}

	ev, err := decodeBody(&env, now)
	if err != nil {
		return nil, &models.DecodeError{Type: env.Type, Err: err}
	}
	return ev, nil
}

func decodeBody(env *envelope, now time.Time) (Event, error) {
	switch env.Type {
	case TypeMetricsUpdate:
		return decodeMetrics(env, now)

	case TypeNodeCreated, TypeNodeUpdated:
		var n models.Node
		if err := unmarshalData(env, &n); err != nil {
			return nil, err
		}
		n.ApplyDefaults(now)
		if err := n.Validate(); err != nil {
			return nil, err
		}
		return NodeUpserted{Tag: env.Type, Node: n}, nil

	case TypeNodeDeleted:
		id := env.NodeID
		if id == "" && hasData(env) {
			var ref struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(env.Data, &ref); err != nil {
				return nil, err
			}
			id = ref.ID
		}
		if id == "" {
			return nil, errors.New("missing node id")
		}
		return NodeDeleted{NodeID: id}, nil

	case TypeWorkloadCreated, TypeWorkloadUpdated:
		var w models.Workload
		if err := unmarshalData(env, &w); err != nil {
			return nil, err
		}
		w.ApplyDefaults(now)
		if err := w.Validate(); err != nil {
			return nil, err
		}
		return WorkloadUpserted{Tag: env.Type, Workload: w}, nil

	case TypeSecurityEvent:
		var e models.SecurityEvent
		if err := unmarshalData(env, &e); err != nil {
			return nil, err
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		return SecurityAlert{Event: e}, nil
	}
	return Unrecognized{Tag: env.Type}, nil
}

func decodeMetrics(env *envelope, now time.Time) (Event, error) {
	m := MetricsUpdate{NodeID: env.NodeID, Timestamp: now}
	if ts, ok := models.ParseTimestamp(env.Timestamp); ok {
		m.Timestamp = ts
	}

	if hasData(env) {
		var body struct {
			NodeID string `json:"node_id"`
			gauges
		}
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, err
		}
		if m.NodeID == "" {
			m.NodeID = body.NodeID
		}
		m.Patch = body.patch()
	}
	if m.Patch.Empty() {
		m.Patch = env.patch()
	}

	if m.NodeID == "" {
		return nil, errors.New("missing node id")
	}
	if m.Patch.Empty() {
		return nil, errors.New("no readings")
	}
	return m, nil
}

func hasData(env *envelope) bool {
	return len(env.Data) > 0 && string(env.Data) != "null"
}

func unmarshalData(env *envelope, v interface{}) error {
	if !hasData(env) {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("data: %w", err)
	}
	return nil
}
