package worker

import (
	"context"
	"testing"
	"time"

	"erpsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverStuckJobs(t *testing.T) {
	db := newTestDB(t)
	q := &fakeQueue{}
	logger := zerolog.Nop()
	ctx := context.Background()

	stuck := enqueueTestJob(t, db, models.JobTypeIncremental, 1)
	require.NoError(t, db.MarkJobProcessing(ctx, stuck.JobID))
	_, err := db.ExecContext(ctx, `UPDATE sync_jobs SET started_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-2*time.Hour), stuck.JobID)
	require.NoError(t, err)

	// Недавно начатая задача трогаться не должна
	active := enqueueTestJob(t, db, models.JobTypeIncremental, 0)
	require.NoError(t, db.MarkJobProcessing(ctx, active.JobID))

	recovered := RecoverStuckJobs(ctx, db, q, time.Hour, &logger)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, []string{stuck.JobID}, q.republished)

	job, err := db.GetSyncJob(ctx, stuck.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	require.NotNil(t, job.LastError)
	assert.Equal(t, "requeued after worker crash", *job.LastError)

	job, err = db.GetSyncJob(ctx, active.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, job.Status)
}

func TestRecoverStuckJobs_NothingStuck(t *testing.T) {
	db := newTestDB(t)
	q := &fakeQueue{}
	logger := zerolog.Nop()

	recovered := RecoverStuckJobs(context.Background(), db, q, time.Hour, &logger)
	assert.Equal(t, 0, recovered)
	assert.Empty(t, q.republished)
}
