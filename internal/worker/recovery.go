package worker

import (
	"context"
	"time"

	"erpsync/internal/models"

	"github.com/rs/zerolog"
)

// StuckJobStore is the persistence surface recovery needs.
type StuckJobStore interface {
	GetStuckJobs(ctx context.Context, maxAge time.Duration) ([]models.SyncJob, error)
	MarkJobPending(ctx context.Context, id, remark string) error
}

// RecoverStuckJobs republishes jobs left in processing by a crashed worker.
// Replaying is safe: the upsert only applies strictly newer records, so data
// already written by the dead run is a no-op the second time.
func RecoverStuckJobs(ctx context.Context, store StuckJobStore, q Consumer, maxAge time.Duration, logger *zerolog.Logger) int {
	jobs, err := store.GetStuckJobs(ctx, maxAge)
	if err != nil {
		logger.Error().Err(err).Msg("stuck job scan failed")
		return 0
	}

	recovered := 0
	for i := range jobs {
		job := &jobs[i]
		if err := q.Republish(ctx, job); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("republish failed")
			continue
		}
		if err := store.MarkJobPending(ctx, job.ID, "requeued after worker crash"); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("mark pending failed")
		}
		recovered++
		logger.Warn().Str("job_id", job.ID).Str("module", job.Module).Msg("stuck job requeued")
	}
	return recovered
}
