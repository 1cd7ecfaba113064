package models

import (
	"time"
)

// Command is an operation on the workload state machine.
type Command string

const (
	CommandStart         Command = "start"
	CommandSucceed       Command = "succeed"
	CommandCancel        Command = "cancel"
	CommandForceComplete Command = "force-complete"
	CommandFail          Command = "fail"
	CommandStop          Command = "stop"
	CommandRestart       Command = "restart"
)

// TransitionRecord is an audit entry for one workload status change.
type TransitionRecord struct {
	Timestamp         time.Time      `json:"timestamp"`
	WorkloadID        string         `json:"workload_id"`
	Command           Command        `json:"command"`
	From              WorkloadStatus `json:"from"`
	To                WorkloadStatus `json:"to"`
	ExecutionDuration *float64       `json:"execution_time,omitempty"`
}
