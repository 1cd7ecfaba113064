package lifecycle

import "github.com/raycarroll/edgefleet/pkg/models"

// transitions is the workload state machine. Restart is the only edge out
// of a terminal state.
var transitions = map[models.WorkloadStatus]map[models.Command]models.WorkloadStatus{
	models.WorkloadPending: {
		models.CommandStart:  models.WorkloadRunning,
		models.CommandCancel: models.WorkloadFailed,
	},
	models.WorkloadRunning: {
		models.CommandSucceed:       models.WorkloadCompleted,
		models.CommandForceComplete: models.WorkloadCompleted,
		models.CommandFail:          models.WorkloadFailed,
		models.CommandStop:          models.WorkloadFailed,
	},
	models.WorkloadCompleted: {
		models.CommandRestart: models.WorkloadPending,
	},
	models.WorkloadFailed: {
		models.CommandRestart: models.WorkloadPending,
	},
}

// Next returns the status reached by applying cmd in from.
func Next(from models.WorkloadStatus, cmd models.Command) (models.WorkloadStatus, bool) {
	to, ok := transitions[from][cmd]
	return to, ok
}
