package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"erpsync/internal/database"
	"erpsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func setupTestExporter(t *testing.T) (*Exporter, *database.DB) {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewExporter(db, db, filepath.Join(t.TempDir(), "exports")), db
}

func TestExportEntities(t *testing.T) {
	exporter, db := setupTestExporter(t)
	ctx := context.Background()

	// Сеем в обратном порядке: выгрузка обязана сортировать по remote_id,
	// а не по updated_at из FindPaged.
	modified := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	for _, id := range []string{"CUST-2", "CUST-1"} {
		_, err := db.Upsert(ctx, models.ModuleCustomer, &models.Entity{
			RemoteID:         id,
			DisplayName:      "Company " + id,
			Email:            id + "@example.com",
			RemoteModifiedAt: &modified,
		})
		require.NoError(t, err)
	}

	path, err := exporter.ExportEntities(ctx, models.ModuleCustomer)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(models.ModuleCustomer)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Remote ID", rows[0][0])
	assert.Equal(t, "CUST-1", rows[1][0])
	assert.Equal(t, "CUST-2", rows[2][0])
	assert.Equal(t, "Company CUST-2", rows[2][1])
	assert.Equal(t, "2026-01-10T09:30:00Z", rows[1][4])
}

func TestExportEntities_Empty(t *testing.T) {
	exporter, _ := setupTestExporter(t)

	path, err := exporter.ExportEntities(context.Background(), models.ModuleVendor)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(models.ModuleVendor)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestExportFailedJobs(t *testing.T) {
	exporter, db := setupTestExporter(t)
	ctx := context.Background()

	jobID := uuid.NewString()
	require.NoError(t, db.CreateFailedJob(ctx, &models.FailedJob{
		JobID:    jobID,
		Module:   models.ModuleCustomer,
		Attempts: 3,
		Payload:  `{}`,
		Error:    "netsuite down",
	}))

	path, err := exporter.ExportFailedJobs(ctx, "")
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Failed Jobs")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, jobID, rows[1][0])
	assert.Equal(t, "3", rows[1][2])
	assert.Equal(t, "netsuite down", rows[1][3])
}
