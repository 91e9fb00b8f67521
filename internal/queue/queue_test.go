package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"erpsync/internal/database"
	"erpsync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T, delays []time.Duration) (*Queue, *database.DB, *miniredis.Miniredis) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(client, db, delays, &logger), db, s
}

func TestQueue_PublishAndConsume(t *testing.T) {
	q, db, _ := setupTestQueue(t, nil)
	ctx := context.Background()

	jobID, err := q.Publish(ctx, models.ModuleCustomer, models.JobTypeIncremental, models.SyncParams{PageSize: 50})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	// Задача продублирована в sync_jobs
	job, err := db.GetSyncJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, models.ModuleCustomer, job.Module)

	msg, ok, err := q.Consume(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, models.JobTypeIncremental, msg.Type)
	assert.Equal(t, 0, msg.Attempts)
	assert.Equal(t, 50, msg.Params.PageSize)
}

func TestQueue_PublishUnsupportedModule(t *testing.T) {
	q, _, _ := setupTestQueue(t, nil)

	_, err := q.Publish(context.Background(), "invoice", models.JobTypeIncremental, models.SyncParams{})
	assert.ErrorIs(t, err, ErrUnsupportedModule)
}

func TestQueue_ModuleIsolation(t *testing.T) {
	q, _, _ := setupTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Publish(ctx, models.ModuleVendor, models.JobTypeFull, models.SyncParams{})
	require.NoError(t, err)

	// Очередь customer пуста — сообщение vendor туда не попадает
	_, ok, err := q.Consume(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	assert.False(t, ok)

	msg, ok, err := q.Consume(ctx, models.ModuleVendor)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ModuleVendor, msg.Module)
}

func TestQueue_RetryRedelivery(t *testing.T) {
	delays := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	q, _, _ := setupTestQueue(t, delays)
	ctx := context.Background()

	msg := models.JobMessage{
		JobID:     "job-1",
		Module:    models.ModuleCustomer,
		Type:      models.JobTypeIncremental,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, q.PublishToRetry(ctx, models.ModuleCustomer, msg, 1))

	// До истечения задержки главный список пуст
	_, ok, err := q.Consume(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(50 * time.Millisecond)

	redelivered, ok, err := q.Consume(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-1", redelivered.JobID)
	assert.Equal(t, 1, redelivered.Attempts)
	assert.NotNil(t, redelivered.RetriedAt)
}

func TestQueue_RetryAttemptBounds(t *testing.T) {
	q, _, _ := setupTestQueue(t, nil)
	ctx := context.Background()
	msg := models.JobMessage{JobID: "job-1", Module: models.ModuleCustomer}

	assert.ErrorIs(t, q.PublishToRetry(ctx, models.ModuleCustomer, msg, 0), ErrBadRetryAttempt)
	assert.ErrorIs(t, q.PublishToRetry(ctx, models.ModuleCustomer, msg, 4), ErrBadRetryAttempt)
	assert.NoError(t, q.PublishToRetry(ctx, models.ModuleCustomer, msg, 3))
}

func TestQueue_DeadLetters(t *testing.T) {
	q, _, _ := setupTestQueue(t, nil)
	ctx := context.Background()

	msg := models.JobMessage{
		JobID:    "job-1",
		Module:   models.ModuleCustomer,
		Type:     models.JobTypeIncremental,
		Attempts: 3,
	}
	require.NoError(t, q.PublishToDLX(ctx, models.ModuleCustomer, msg, errors.New("netsuite returned 500")))

	length, err := q.DLXLength(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	letters, err := q.DeadLetters(ctx, models.ModuleCustomer, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "job-1", letters[0].JobID)
	assert.Equal(t, "netsuite returned 500", letters[0].LastError)
	assert.NotNil(t, letters[0].FailedAt)

	// Мёртвое письмо не возвращается в основную очередь
	_, ok, err := q.Consume(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_Republish(t *testing.T) {
	q, db, _ := setupTestQueue(t, nil)
	ctx := context.Background()

	jobID, err := q.Publish(ctx, models.ModuleCustomer, models.JobTypeFull, models.SyncParams{})
	require.NoError(t, err)

	// Съедаем доставку, как будто воркер упал после BRPOP
	_, ok, err := q.Consume(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	require.True(t, ok)

	job, err := db.GetSyncJob(ctx, jobID)
	require.NoError(t, err)
	require.NoError(t, q.Republish(ctx, job))

	msg, ok, err := q.Consume(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jobID, msg.JobID)
}

func TestQueue_NoBroker(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	q := New(nil, db, nil, &logger)
	ctx := context.Background()

	_, err = q.Publish(ctx, models.ModuleCustomer, models.JobTypeIncremental, models.SyncParams{})
	assert.ErrorIs(t, err, ErrNoBroker)

	_, _, err = q.Consume(ctx, models.ModuleCustomer)
	assert.ErrorIs(t, err, ErrNoBroker)
}
