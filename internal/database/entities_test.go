package database

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"erpsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	return db
}

func ts(value string) *time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	u := t.UTC()
	return &u
}

func TestUpsert_InsertNewRecord(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	record := &models.Entity{
		RemoteID:         "CUST-1",
		DisplayName:      "Acme Corp",
		Email:            "billing@acme.test",
		Phone:            "+1-555-0100",
		RawPayload:       json.RawMessage(`{"id":"CUST-1","companyname":"Acme Corp"}`),
		RemoteModifiedAt: ts("2026-01-10T12:00:00Z"),
	}

	stored, err := db.Upsert(ctx, models.ModuleCustomer, record)
	require.NoError(t, err)
	assert.NotZero(t, stored.LocalID)
	assert.Equal(t, "Acme Corp", stored.DisplayName)
	require.NotNil(t, stored.RemoteModifiedAt)
	assert.True(t, stored.RemoteModifiedAt.Equal(*ts("2026-01-10T12:00:00Z")))

	found, err := db.FindByRemoteID(ctx, models.ModuleCustomer, "CUST-1")
	require.NoError(t, err)
	assert.Equal(t, stored.LocalID, found.LocalID)
	assert.JSONEq(t, `{"id":"CUST-1","companyname":"Acme Corp"}`, string(found.RawPayload))
}

func TestUpsert_NewerRecordWins(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	_, err := db.Upsert(ctx, models.ModuleCustomer, &models.Entity{
		RemoteID:         "CUST-1",
		DisplayName:      "Old Name",
		RemoteModifiedAt: ts("2026-01-10T12:00:00Z"),
	})
	require.NoError(t, err)

	stored, err := db.Upsert(ctx, models.ModuleCustomer, &models.Entity{
		RemoteID:         "CUST-1",
		DisplayName:      "New Name",
		RemoteModifiedAt: ts("2026-01-11T12:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, "New Name", stored.DisplayName)
	assert.True(t, stored.RemoteModifiedAt.Equal(*ts("2026-01-11T12:00:00Z")))
}

func TestUpsert_EqualTimestampIsNoop(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	first, err := db.Upsert(ctx, models.ModuleCustomer, &models.Entity{
		RemoteID:         "CUST-1",
		DisplayName:      "Original",
		RemoteModifiedAt: ts("2026-01-10T12:00:00Z"),
	})
	require.NoError(t, err)

	// Тот же remote_modified_at — запись не трогаем
	stored, err := db.Upsert(ctx, models.ModuleCustomer, &models.Entity{
		RemoteID:         "CUST-1",
		DisplayName:      "Replay Duplicate",
		RemoteModifiedAt: ts("2026-01-10T12:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Original", stored.DisplayName)
	assert.WithinDuration(t, first.UpdatedAt, stored.UpdatedAt, time.Second)
}

func TestUpsert_OlderTimestampIsNoop(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	_, err := db.Upsert(ctx, models.ModuleCustomer, &models.Entity{
		RemoteID:         "CUST-1",
		DisplayName:      "Current",
		RemoteModifiedAt: ts("2026-01-10T12:00:00Z"),
	})
	require.NoError(t, err)

	stored, err := db.Upsert(ctx, models.ModuleCustomer, &models.Entity{
		RemoteID:         "CUST-1",
		DisplayName:      "Stale Replay",
		RemoteModifiedAt: ts("2026-01-09T12:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Current", stored.DisplayName)
}

func TestUpsert_MissingTimestampDefaultsToNow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	before := time.Now().UTC().Add(-time.Second)
	stored, err := db.Upsert(ctx, models.ModuleVendor, &models.Entity{
		RemoteID:    "VEND-1",
		DisplayName: "No Timestamp Vendor",
	})
	require.NoError(t, err)
	require.NotNil(t, stored.RemoteModifiedAt)
	assert.True(t, stored.RemoteModifiedAt.After(before))
}

func TestUpsert_RequiresRemoteID(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.Upsert(context.Background(), models.ModuleCustomer, &models.Entity{DisplayName: "No ID"})
	assert.Error(t, err)
}

func TestUpsert_UnsupportedModule(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.Upsert(context.Background(), "invoice", &models.Entity{RemoteID: "INV-1"})
	assert.ErrorIs(t, err, ErrUnsupportedModule)
}

func TestBatchUpsert_AllOrNothing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	records := []models.Entity{
		{RemoteID: "CUST-1", DisplayName: "First", RemoteModifiedAt: ts("2026-01-10T10:00:00Z")},
		{RemoteID: "", DisplayName: "Broken"},
		{RemoteID: "CUST-3", DisplayName: "Third", RemoteModifiedAt: ts("2026-01-10T10:02:00Z")},
	}

	_, err := db.BatchUpsert(ctx, models.ModuleCustomer, records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1")

	// Первая запись тоже должна быть откачена
	count, err := db.CountEntities(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestBatchUpsert_MixedNewAndReplayed(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	_, err := db.Upsert(ctx, models.ModuleCustomer, &models.Entity{
		RemoteID:         "CUST-1",
		DisplayName:      "Existing",
		RemoteModifiedAt: ts("2026-01-10T10:00:00Z"),
	})
	require.NoError(t, err)

	stored, err := db.BatchUpsert(ctx, models.ModuleCustomer, []models.Entity{
		{RemoteID: "CUST-1", DisplayName: "Replayed", RemoteModifiedAt: ts("2026-01-10T10:00:00Z")},
		{RemoteID: "CUST-2", DisplayName: "Fresh", RemoteModifiedAt: ts("2026-01-10T10:01:00Z")},
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Existing", stored[0].DisplayName)
	assert.Equal(t, "Fresh", stored[1].DisplayName)

	count, err := db.CountEntities(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBatchUpsert_EmptyPage(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	stored, err := db.BatchUpsert(context.Background(), models.ModuleCustomer, nil)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestFindMaxModified(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	max, err := db.FindMaxModified(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	assert.Nil(t, max)

	for _, e := range []models.Entity{
		{RemoteID: "CUST-1", RemoteModifiedAt: ts("2026-01-10T10:00:00Z")},
		{RemoteID: "CUST-2", RemoteModifiedAt: ts("2026-01-12T10:00:00Z")},
		{RemoteID: "CUST-3", RemoteModifiedAt: ts("2026-01-11T10:00:00Z")},
	} {
		_, err := db.Upsert(ctx, models.ModuleCustomer, &e)
		require.NoError(t, err)
	}

	max, err = db.FindMaxModified(ctx, models.ModuleCustomer)
	require.NoError(t, err)
	require.NotNil(t, max)
	assert.True(t, max.Equal(*ts("2026-01-12T10:00:00Z")))

	// Второй модуль не видит чужих записей
	max, err = db.FindMaxModified(ctx, models.ModuleVendor)
	require.NoError(t, err)
	assert.Nil(t, max)
}

func TestFindByRemoteID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.FindByRemoteID(context.Background(), models.ModuleCustomer, "CUST-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindPaged(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := db.Upsert(ctx, models.ModuleCustomer, &models.Entity{
			RemoteID:         "CUST-" + string(rune('A'+i)),
			DisplayName:      "Customer " + string(rune('A'+i)),
			RemoteModifiedAt: ts("2026-01-10T10:00:00Z"),
		})
		require.NoError(t, err)
	}

	page, err := db.FindPaged(ctx, models.ModuleCustomer, models.EntityFilter{}, 0, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 5, page.Pagination.TotalCount)
	assert.Equal(t, 3, page.Pagination.PageCount)

	last, err := db.FindPaged(ctx, models.ModuleCustomer, models.EntityFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Len(t, last.Items, 1)
}

func TestFindPaged_Filters(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	for _, e := range []models.Entity{
		{RemoteID: "CUST-1", RemoteModifiedAt: ts("2026-01-01T00:00:00Z")},
		{RemoteID: "CUST-2", RemoteModifiedAt: ts("2026-02-01T00:00:00Z")},
	} {
		_, err := db.Upsert(ctx, models.ModuleCustomer, &e)
		require.NoError(t, err)
	}

	page, err := db.FindPaged(ctx, models.ModuleCustomer, models.EntityFilter{RemoteID: "CUST-2"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "CUST-2", page.Items[0].RemoteID)

	page, err = db.FindPaged(ctx, models.ModuleCustomer, models.EntityFilter{ModifiedSince: ts("2026-01-15T00:00:00Z")}, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "CUST-2", page.Items[0].RemoteID)
}

func TestModuleIsolation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	_, err := db.Upsert(ctx, models.ModuleCustomer, &models.Entity{RemoteID: "SHARED-1", DisplayName: "Customer"})
	require.NoError(t, err)
	_, err = db.Upsert(ctx, models.ModuleVendor, &models.Entity{RemoteID: "SHARED-1", DisplayName: "Vendor"})
	require.NoError(t, err)

	c, err := db.FindByRemoteID(ctx, models.ModuleCustomer, "SHARED-1")
	require.NoError(t, err)
	v, err := db.FindByRemoteID(ctx, models.ModuleVendor, "SHARED-1")
	require.NoError(t, err)

	assert.Equal(t, "Customer", c.DisplayName)
	assert.Equal(t, "Vendor", v.DisplayName)
}
