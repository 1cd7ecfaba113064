package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MetricSample is a single telemetry reading for a node.
type MetricSample struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
	Gauges
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses RFC3339 and naive ISO8601 timestamps. Naive values
// are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// wireTime is an entity timestamp on the wire. It decodes through
// ParseTimestamp; null and "" leave it zero.
type wireTime time.Time

func (t wireTime) MarshalJSON() ([]byte, error) {
	return time.Time(t).MarshalJSON()
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*t = wireTime{}
		return nil
	}
	v, ok := ParseTimestamp(s)
	if !ok {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	*t = wireTime(v)
	return nil
}

func wirePtr(t *time.Time) *wireTime {
	if t == nil {
		return nil
	}
	v := wireTime(*t)
	return &v
}

func (t *wireTime) ptr() *time.Time {
	if t == nil {
		return nil
	}
	v := time.Time(*t)
	return &v
}
