package database

import (
	"context"
	"testing"

	"erpsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTracker_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetTracker(context.Background(), models.ModuleCustomer)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertTracker_CreateThenUpdate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	err := db.UpsertTracker(ctx, &models.SyncTracker{
		Module: models.ModuleCustomer,
		Status: models.TrackerSyncing,
		Remark: "first run",
	})
	require.NoError(t, err)

	tracker, err := db.GetTracker(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	assert.Equal(t, models.TrackerSyncing, tracker.Status)
	assert.Equal(t, "first run", tracker.Remark)
	assert.Nil(t, tracker.LastSyncAt)
	assert.Nil(t, tracker.LastSyncedBatchMax)

	lastSync := ts("2026-01-10T12:00:00Z")
	batchMax := ts("2026-01-10T11:58:30Z")
	err = db.UpsertTracker(ctx, &models.SyncTracker{
		Module:             models.ModuleCustomer,
		LastSyncAt:         lastSync,
		LastSyncedBatchMax: batchMax,
		Status:             models.TrackerSuccess,
		Remark:             "processed 120 records",
	})
	require.NoError(t, err)

	tracker, err = db.GetTracker(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	assert.Equal(t, models.TrackerSuccess, tracker.Status)
	require.NotNil(t, tracker.LastSyncAt)
	assert.True(t, tracker.LastSyncAt.Equal(*lastSync))
	require.NotNil(t, tracker.LastSyncedBatchMax)
	assert.True(t, tracker.LastSyncedBatchMax.Equal(*batchMax))
}

func TestUpsertTracker_PerModuleRows(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.UpsertTracker(ctx, &models.SyncTracker{Module: models.ModuleCustomer, Status: models.TrackerSuccess}))
	require.NoError(t, db.UpsertTracker(ctx, &models.SyncTracker{Module: models.ModuleVendor, Status: models.TrackerFailed, Remark: "timeout"}))

	c, err := db.GetTracker(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	v, err := db.GetTracker(ctx, models.ModuleVendor)
	require.NoError(t, err)

	assert.Equal(t, models.TrackerSuccess, c.Status)
	assert.Equal(t, models.TrackerFailed, v.Status)
	assert.Equal(t, "timeout", v.Remark)
}
