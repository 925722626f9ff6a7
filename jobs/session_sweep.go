package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fleetdesk/fleetdesk/internal/auth"
)

// SessionSweepJob removes expired session rows from postgres. The
// Redis copies expire on their own TTL.
type SessionSweepJob struct {
	repo   auth.Repository
	logger *slog.Logger
}

// NewSessionSweepJob constructs the job.
func NewSessionSweepJob(repo auth.Repository, logger *slog.Logger) *SessionSweepJob {
	return &SessionSweepJob{repo: repo, logger: logger}
}

// Handle processes TaskSessionSweep tasks.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	cutoff := time.Now().Add(-time.Duration(payload.GraceMinutes) * time.Minute)
	removed, err := j.repo.DeleteExpiredSessions(ctx, cutoff)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("session sweep", slog.Any("error", err))
		}
		return err
	}
	if j.logger != nil && removed > 0 {
		j.logger.Info("session sweep", slog.Int64("removed", removed))
	}
	return nil
}
