package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"erpsync/internal/models"
)

func (db *DB) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	query := `INSERT INTO sync_jobs (id, module, type, params, status, attempts, last_error, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	_, err := db.db.ExecContext(ctx, query,
		job.ID,
		job.Module,
		job.Type,
		job.Params,
		job.Status,
		job.Attempts,
		job.LastError,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	job.CreatedAt = now
	return nil
}

func (db *DB) GetSyncJob(ctx context.Context, id string) (*models.SyncJob, error) {
	query := `SELECT id, module, type, params, status, attempts, last_error, created_at, started_at, completed_at
              FROM sync_jobs WHERE id = ?`

	var job models.SyncJob
	var started, completed sql.NullTime
	err := db.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.Module,
		&job.Type,
		&job.Params,
		&job.Status,
		&job.Attempts,
		&job.LastError,
		&job.CreatedAt,
		&started,
		&completed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}

	if started.Valid {
		t := started.Time.UTC()
		job.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time.UTC()
		job.CompletedAt = &t
	}
	return &job, nil
}

func (db *DB) MarkJobProcessing(ctx context.Context, id string) error {
	query := `UPDATE sync_jobs SET status = ?, started_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, models.JobProcessing, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	return nil
}

func (db *DB) MarkJobSuccess(ctx context.Context, id string) error {
	query := `UPDATE sync_jobs SET status = ?, completed_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, models.JobSuccess, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job success: %w", err)
	}
	return nil
}

func (db *DB) MarkJobFailed(ctx context.Context, id, errMsg string) error {
	query := `UPDATE sync_jobs SET status = ?, last_error = ?, completed_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, models.JobFailed, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// MarkJobPending возвращает задачу в pending с пометкой о повторе.
func (db *DB) MarkJobPending(ctx context.Context, id, remark string) error {
	query := `UPDATE sync_jobs SET status = ?, last_error = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, models.JobPending, remark, id)
	if err != nil {
		return fmt.Errorf("failed to mark job pending: %w", err)
	}
	return nil
}

// IncrementJobAttempts is a single atomic update so concurrent workers never
// lose a failure count to read-modify-write races.
func (db *DB) IncrementJobAttempts(ctx context.Context, id, errMsg string) error {
	query := `UPDATE sync_jobs SET attempts = attempts + 1, last_error = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to increment job attempts: %w", err)
	}
	return nil
}

// GetStuckJobs возвращает задачи, зависшие в processing дольше maxAge —
// следы упавшего воркера.
func (db *DB) GetStuckJobs(ctx context.Context, maxAge time.Duration) ([]models.SyncJob, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	query := `SELECT id, module, type, params, status, attempts, last_error, created_at, started_at, completed_at
              FROM sync_jobs
              WHERE status = ? AND started_at IS NOT NULL AND started_at <= ?
              ORDER BY started_at ASC`

	rows, err := db.db.QueryContext(ctx, query, models.JobProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.SyncJob
	for rows.Next() {
		var job models.SyncJob
		var started, completed sql.NullTime
		err := rows.Scan(
			&job.ID, &job.Module, &job.Type, &job.Params, &job.Status,
			&job.Attempts, &job.LastError, &job.CreatedAt, &started, &completed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		if started.Valid {
			t := started.Time.UTC()
			job.StartedAt = &t
		}
		if completed.Valid {
			t := completed.Time.UTC()
			job.CompletedAt = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Failed jobs

func (db *DB) CreateFailedJob(ctx context.Context, job *models.FailedJob) error {
	query := `INSERT INTO failed_jobs (job_id, module, payload, error, stack, attempts, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.db.ExecContext(ctx, query,
		job.JobID,
		job.Module,
		job.Payload,
		job.Error,
		job.Stack,
		job.Attempts,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create failed job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now
	return nil
}

func (db *DB) GetFailedJobByJobID(ctx context.Context, jobID string) (*models.FailedJob, error) {
	query := `SELECT id, job_id, module, payload, error, stack, attempts, created_at, retried_at, resolved
              FROM failed_jobs WHERE job_id = ? ORDER BY created_at DESC LIMIT 1`

	var job models.FailedJob
	var retried sql.NullTime
	err := db.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID,
		&job.JobID,
		&job.Module,
		&job.Payload,
		&job.Error,
		&job.Stack,
		&job.Attempts,
		&job.CreatedAt,
		&retried,
		&job.Resolved,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get failed job: %w", err)
	}

	if retried.Valid {
		t := retried.Time.UTC()
		job.RetriedAt = &t
	}
	return &job, nil
}

func (db *DB) ListFailedJobs(ctx context.Context, module string, page, limit int) ([]models.FailedJob, int, error) {
	if page < 0 {
		page = 0
	}
	if limit <= 0 {
		limit = 20
	}

	where := ""
	args := []interface{}{}
	if module != "" {
		where = "WHERE module = ?"
		args = append(args, module)
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM failed_jobs %s`, where)
	if err := db.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count failed jobs: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, job_id, module, payload, error, stack, attempts, created_at, retried_at, resolved
              FROM failed_jobs %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, where)
	rows, err := db.db.QueryContext(ctx, query, append(args, limit, page*limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.FailedJob{}
	for rows.Next() {
		var job models.FailedJob
		var retried sql.NullTime
		err := rows.Scan(
			&job.ID, &job.JobID, &job.Module, &job.Payload, &job.Error,
			&job.Stack, &job.Attempts, &job.CreatedAt, &retried, &job.Resolved,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan failed job: %w", err)
		}
		if retried.Valid {
			t := retried.Time.UTC()
			job.RetriedAt = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (db *DB) MarkFailedJobRetried(ctx context.Context, id int64) error {
	query := `UPDATE failed_jobs SET retried_at = ?, resolved = 1 WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark failed job retried: %w", err)
	}
	return nil
}
