package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionDriftScan compares stored role permissions against
	// the compiled defaults and catalog.
	TaskPermissionDriftScan = "permissions:drift_scan"
	// TaskSessionSweep removes expired session rows.
	TaskSessionSweep = "sessions:sweep"
)

// DriftScanPayload configures a drift scan run.
type DriftScanPayload struct {
	// ReportOnly is informational; the scan never mutates records.
	ReportOnly bool `json:"report_only"`
}

// NewPermissionDriftScanTask constructs the drift scan task.
func NewPermissionDriftScanTask() (*asynq.Task, error) {
	data, err := json.Marshal(DriftScanPayload{ReportOnly: true})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionDriftScan, data), nil
}

// SessionSweepPayload configures a session sweep run.
type SessionSweepPayload struct {
	// GraceMinutes keeps rows this long past expiry.
	GraceMinutes int `json:"grace_minutes"`
}

// NewSessionSweepTask constructs the session sweep task.
func NewSessionSweepTask(graceMinutes int) (*asynq.Task, error) {
	data, err := json.Marshal(SessionSweepPayload{GraceMinutes: graceMinutes})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data), nil
}
