package domain

import (
	"context"
	"time"

	"erpsync/internal/models"
)

// EntityRepository is the local store for synced ERP records.
type EntityRepository interface {
	FindMaxModified(ctx context.Context, module string) (*time.Time, error)
	Upsert(ctx context.Context, module string, record *models.Entity) (*models.Entity, error)
	BatchUpsert(ctx context.Context, module string, records []models.Entity) ([]models.Entity, error)
	FindByRemoteID(ctx context.Context, module, remoteID string) (*models.Entity, error)
	FindPaged(ctx context.Context, module string, filter models.EntityFilter, page, pageSize int) (*models.EntityPage, error)
	CountEntities(ctx context.Context, module string) (int, error)
}

// JobRepository persists sync jobs, trackers and failed jobs.
type JobRepository interface {
	CreateSyncJob(ctx context.Context, job *models.SyncJob) error
	GetSyncJob(ctx context.Context, id string) (*models.SyncJob, error)
	MarkJobProcessing(ctx context.Context, id string) error
	MarkJobSuccess(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id, errMsg string) error
	MarkJobPending(ctx context.Context, id, remark string) error
	IncrementJobAttempts(ctx context.Context, id, errMsg string) error

	GetTracker(ctx context.Context, module string) (*models.SyncTracker, error)
	UpsertTracker(ctx context.Context, tracker *models.SyncTracker) error

	CreateFailedJob(ctx context.Context, job *models.FailedJob) error
	GetFailedJobByJobID(ctx context.Context, jobID string) (*models.FailedJob, error)
	ListFailedJobs(ctx context.Context, module string, page, limit int) ([]models.FailedJob, int, error)
	MarkFailedJobRetried(ctx context.Context, id int64) error
}

// Cache is the optional fast path in front of the entity read path. All
// methods degrade to misses / no-ops when the backing store is unavailable.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	DeleteByPattern(ctx context.Context, pattern string)
}

// Fetcher is the single capability the core needs from the ERP: one page of
// entities modified since a timestamp.
type Fetcher interface {
	FetchPage(ctx context.Context, module string, params models.SyncParams) (*models.FetchResult, error)
}

// Publisher is the enqueue side of the job pipeline.
type Publisher interface {
	Publish(ctx context.Context, module, jobType string, params models.SyncParams) (string, error)
	PublishToRetry(ctx context.Context, module string, msg models.JobMessage, attempt int) error
	PublishToDLX(ctx context.Context, module string, msg models.JobMessage, cause error) error
}

// EventPublisher emits sync lifecycle events for subscribers
// (metrics, notifications).
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier alerts operators about dead-lettered jobs.
type Notifier interface {
	NotifyDeadLetter(module, jobID, errMsg string, attempts int) error
}
