package models

import (
	"errors"
	"fmt"
	"strconv"
)

// Error kinds. Match with errors.Is; the typed errors below unwrap to them.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrDecode                = errors.New("malformed event")
	ErrTransportDisconnected = errors.New("transport disconnected")
	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
)

// NotFoundError is returned when a command references an unknown entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// TransitionError is returned when a command violates the workload state machine.
type TransitionError struct {
	WorkloadID string
	From       WorkloadStatus
	Command    Command
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("workload %q: cannot %s from %s", e.WorkloadID, e.Command, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DecodeError is returned for malformed event payloads.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decoding event: %v", e.Err)
	}
	return fmt.Sprintf("decoding %s event: %v", e.Type, e.Err)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

// UpstreamError is returned when a collaborator request fails.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

func (e *UpstreamError) Unwrap() error { return e.Err }

// ErrInvalidNode is returned when a node is invalid.
type ErrInvalidNode string

func (e ErrInvalidNode) Error() string {
	return "invalid node: " + string(e)
}

// ErrInvalidWorkload is returned when a workload is invalid.
type ErrInvalidWorkload string

func (e ErrInvalidWorkload) Error() string {
	return "invalid workload: " + string(e)
}

// ErrInvalidSecurityEvent is returned when a security event is invalid.
type ErrInvalidSecurityEvent string

func (e ErrInvalidSecurityEvent) Error() string {
	return "invalid security event: " + string(e)
}

func quote(s string) string {
	return strconv.Quote(s)
}
