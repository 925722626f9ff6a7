package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/fleetdesk/fleetdesk/internal/authz"
)

// DriftGauge receives the number of drifted roles after each scan.
type DriftGauge interface {
	SetDriftRoles(n int)
}

// PermissionDriftJob runs the periodic drift scan.
type PermissionDriftJob struct {
	store  *authz.PermissionStore
	logger *slog.Logger
	gauge  DriftGauge
}

// NewPermissionDriftJob constructs the job.
func NewPermissionDriftJob(store *authz.PermissionStore, logger *slog.Logger, gauge DriftGauge) *PermissionDriftJob {
	return &PermissionDriftJob{store: store, logger: logger, gauge: gauge}
}

// Handle processes TaskPermissionDriftScan tasks. Drift is reported,
// never corrected: stored overrides are legitimate admin decisions and
// unknown ids are preserved for forward compatibility.
func (j *PermissionDriftJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload DriftScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	drifts, err := j.store.DetectDrift(ctx)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("permission drift scan", slog.Any("error", err))
		}
		return err
	}
	if j.gauge != nil {
		j.gauge.SetDriftRoles(len(drifts))
	}
	for _, d := range drifts {
		if j.logger != nil {
			j.logger.Info("permission drift",
				slog.String("role", string(d.Role)),
				slog.Int("added", len(d.Added)),
				slog.Int("removed", len(d.Removed)),
				slog.Int("unknown", len(d.Unknown)),
			)
		}
	}
	return nil
}
