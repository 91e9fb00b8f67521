package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"erpsync/internal/models"
)

// GetTracker возвращает строку трекера модуля или ErrNotFound.
func (db *DB) GetTracker(ctx context.Context, module string) (*models.SyncTracker, error) {
	query := `SELECT id, module, last_sync_at, last_synced_batch_max, status, remark, created_at, updated_at
              FROM sync_trackers WHERE module = ?`

	var tracker models.SyncTracker
	var lastSync, batchMax sql.NullTime
	err := db.db.QueryRowContext(ctx, query, module).Scan(
		&tracker.ID,
		&tracker.Module,
		&lastSync,
		&batchMax,
		&tracker.Status,
		&tracker.Remark,
		&tracker.CreatedAt,
		&tracker.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tracker: %w", err)
	}

	if lastSync.Valid {
		t := lastSync.Time.UTC()
		tracker.LastSyncAt = &t
	}
	if batchMax.Valid {
		t := batchMax.Time.UTC()
		tracker.LastSyncedBatchMax = &t
	}
	return &tracker, nil
}

// UpsertTracker создает строку трекера при первом обращении и обновляет её
// дальше. Строки трекеров никогда не удаляются.
func (db *DB) UpsertTracker(ctx context.Context, tracker *models.SyncTracker) error {
	now := time.Now().UTC()
	query := `INSERT INTO sync_trackers (module, last_sync_at, last_synced_batch_max, status, remark, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(module) DO UPDATE SET
                  last_sync_at = excluded.last_sync_at,
                  last_synced_batch_max = excluded.last_synced_batch_max,
                  status = excluded.status,
                  remark = excluded.remark,
                  updated_at = excluded.updated_at`

	_, err := db.db.ExecContext(ctx, query,
		tracker.Module,
		utcOrNil(tracker.LastSyncAt),
		utcOrNil(tracker.LastSyncedBatchMax),
		tracker.Status,
		tracker.Remark,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tracker: %w", err)
	}
	return nil
}

func utcOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
