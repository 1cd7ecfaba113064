package models

import (
	"encoding/json"
	"time"
)

// SecurityEvent is an alert raised against a node.
type SecurityEvent struct {
	ID          string            `json:"id"`
	NodeID      string            `json:"node_id"`
	EventType   SecurityEventType `json:"event_type"`
	Severity    Severity          `json:"severity"`
	Description string            `json:"description"`
	Timestamp   time.Time         `json:"timestamp"`
	Resolved    bool              `json:"resolved"`
}

// UnmarshalJSON accepts a naive ISO8601 timestamp as well as RFC3339.
func (e *SecurityEvent) UnmarshalJSON(b []byte) error {
	type plain SecurityEvent
	in := struct {
		*plain
		Timestamp wireTime `json:"timestamp"`
	}{plain: (*plain)(e), Timestamp: wireTime(e.Timestamp)}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	e.Timestamp = time.Time(in.Timestamp)
	return nil
}

// SecurityEventType enumerates the alert kinds.
type SecurityEventType string

const (
	EventMTLSHandshakeFailure      SecurityEventType = "mtls_handshake_failure"
	EventRBACViolation             SecurityEventType = "rbac_violation"
	EventContainerIsolationBreach  SecurityEventType = "container_isolation_breach"
	EventSuspiciousNetworkActivity SecurityEventType = "suspicious_network_activity"
	EventSecurityScanCompleted     SecurityEventType = "security_scan_completed"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SecurityEventType) UnmarshalText(b []byte) error {
	switch v := SecurityEventType(b); v {
	case EventMTLSHandshakeFailure, EventRBACViolation, EventContainerIsolationBreach,
		EventSuspiciousNetworkActivity, EventSecurityScanCompleted:
		*t = v
		return nil
	}
	return ErrInvalidSecurityEvent("unknown event type " + quote(string(b)))
}

// Severity grades a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	switch v := Severity(b); v {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		*s = v
		return nil
	}
	return ErrInvalidSecurityEvent("unknown severity " + quote(string(b)))
}

// IsHighPriority reports whether the severity warrants a notification.
func (s Severity) IsHighPriority() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Validate checks if the security event is valid.
func (e *SecurityEvent) Validate() error {
	if e.ID == "" {
		return ErrInvalidSecurityEvent("event ID is required")
	}
	if e.EventType == "" {
		return ErrInvalidSecurityEvent("event type is required")
	}
	if e.Severity == "" {
		return ErrInvalidSecurityEvent("severity is required")
	}
	return nil
}
