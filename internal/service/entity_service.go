package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"erpsync/internal/cache"
	"erpsync/internal/database"
	"erpsync/internal/domain"
	"erpsync/internal/events"
	"erpsync/internal/metrics"
	"erpsync/internal/models"
	syncengine "erpsync/internal/sync"

	"github.com/rs/zerolog"
)

var (
	// ErrUnsupportedModule is returned for unknown entity kinds.
	ErrUnsupportedModule = errors.New("unsupported module")

	// ErrFailedJobNotFound is returned when retrying a job with no
	// failed-job record.
	ErrFailedJobNotFound = errors.New("failed job not found")
)

// EntityService is the caller-facing surface: cache-aside reads with
// on-demand sync triggers, manual sync, and job/tracker introspection.
// A failed trigger never fails a read; the store's data is returned as is.
type EntityService struct {
	entities  domain.EntityRepository
	jobs      domain.JobRepository
	cache     domain.Cache
	queue     domain.Publisher
	bus       domain.EventPublisher
	staleness time.Duration
	cacheTTL  time.Duration
	pageSize  int
	logger    *zerolog.Logger
}

type Options struct {
	Staleness time.Duration
	CacheTTL  time.Duration
	PageSize  int
}

func NewEntityService(
	entities domain.EntityRepository,
	jobs domain.JobRepository,
	c domain.Cache,
	q domain.Publisher,
	bus domain.EventPublisher,
	opts Options,
	logger *zerolog.Logger,
) *EntityService {
	if opts.Staleness <= 0 {
		opts.Staleness = models.DefaultStalenessHours * time.Hour
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = models.DefaultCacheTTL * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = models.DefaultPageSize
	}

	return &EntityService{
		entities:  entities,
		jobs:      jobs,
		cache:     c,
		queue:     q,
		bus:       bus,
		staleness: opts.Staleness,
		cacheTTL:  opts.CacheTTL,
		pageSize:  opts.PageSize,
		logger:    logger,
	}
}

// EntityListResult is the list read-path response.
type EntityListResult struct {
	Items         []models.Entity   `json:"items"`
	Pagination    models.Pagination `json:"pagination"`
	SyncTriggered bool              `json:"sync_triggered"`
	JobID         string            `json:"job_id,omitempty"`
}

// EntityResult is the single-entity read-path response.
type EntityResult struct {
	Data          *models.Entity `json:"data"`
	SyncTriggered bool           `json:"sync_triggered"`
	JobID         string         `json:"job_id,omitempty"`
}

// TriggerResult is the manual-sync response.
type TriggerResult struct {
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// GetEntityList serves the paged read path: cache first, then the store. A
// cache hit answers without touching the store; a miss may also trigger a
// background sync when the module looks stale.
func (s *EntityService) GetEntityList(ctx context.Context, module string, filter models.EntityFilter, page, pageSize int) (*EntityListResult, error) {
	if !models.IsSupportedModule(module) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModule, module)
	}
	if pageSize <= 0 {
		pageSize = s.pageSize
	}

	key := cache.ListKey(module, filter, page, pageSize)
	if data, ok := s.cache.Get(ctx, key); ok {
		metrics.IncCacheLookup("hit")
		var cached EntityListResult
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
		s.logger.Warn().Str("key", key).Msg("cache entry undecodable, falling through")
	}
	metrics.IncCacheLookup("miss")

	pageResult, err := s.entities.FindPaged(ctx, module, filter, page, pageSize)
	if err != nil {
		return nil, err
	}

	result := &EntityListResult{
		Items:      pageResult.Items,
		Pagination: pageResult.Pagination,
	}

	// Кэшируем только страницу: sync_triggered/job_id — состояние одного
	// запроса, из кэша их отдавать нельзя.
	if data, err := json.Marshal(result); err == nil {
		s.cache.Set(ctx, key, data, s.cacheTTL)
	}

	// Триггер синка — best effort, ошибки не фатальны для чтения
	jobID, triggered := s.maybeTriggerSync(ctx, module, false)
	result.SyncTriggered = triggered
	result.JobID = jobID

	return result, nil
}

// GetEntityByRemoteID serves the single-entity path. A missing or stale row
// triggers a background sync scoped to that remote id; the caller still gets
// whatever the store holds right now.
func (s *EntityService) GetEntityByRemoteID(ctx context.Context, module, remoteID string) (*EntityResult, error) {
	if !models.IsSupportedModule(module) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModule, module)
	}

	key := cache.EntityKey(module, remoteID)
	if data, ok := s.cache.Get(ctx, key); ok {
		metrics.IncCacheLookup("hit")
		var entity models.Entity
		if err := json.Unmarshal(data, &entity); err == nil {
			return &EntityResult{Data: &entity}, nil
		}
	}
	metrics.IncCacheLookup("miss")

	entity, err := s.entities.FindByRemoteID(ctx, module, remoteID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	result := &EntityResult{Data: entity}

	if entity == nil || s.isStale(entity) {
		jobID, triggered := s.triggerEntitySync(ctx, module, remoteID)
		result.SyncTriggered = triggered
		result.JobID = jobID
	} else {
		if data, err := json.Marshal(entity); err == nil {
			s.cache.Set(ctx, key, data, s.cacheTTL)
		}
	}

	return result, nil
}

// TriggerManualSync enqueues a sync regardless of the read path. With force
// unset an incremental request still consults the decision engine, so a
// fresh module reports "skipped" instead of burning an ERP fetch.
func (s *EntityService) TriggerManualSync(ctx context.Context, module string, since *time.Time, jobType string, force bool) (*TriggerResult, error) {
	if !models.IsSupportedModule(module) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModule, module)
	}
	if jobType == "" {
		jobType = models.JobTypeIncremental
	}
	if jobType != models.JobTypeIncremental && jobType != models.JobTypeFull {
		return nil, fmt.Errorf("unsupported job type: %s", jobType)
	}

	decision, err := s.decide(ctx, module, force || jobType == models.JobTypeFull)
	if err != nil {
		return nil, err
	}
	if !decision.ShouldSync {
		return &TriggerResult{Status: "skipped", Reason: decision.Reason}, nil
	}

	params := models.SyncParams{PageSize: s.pageSize}
	switch {
	case jobType == models.JobTypeFull:
		// полный прогон — без нижней границы
	case since != nil:
		params.Since = since
	default:
		params.Since = decision.Since
	}

	jobID, err := s.queue.Publish(ctx, module, jobType, params)
	if err != nil {
		return nil, err
	}

	_ = s.bus.PublishJSON(events.EventSyncTriggered, events.SyncEventPayload{
		Module: module,
		JobID:  jobID,
		Reason: decision.Reason,
	})
	return &TriggerResult{JobID: jobID, Status: "queued", Reason: decision.Reason}, nil
}

// GetJobStatus returns the job row, or nil when unknown.
func (s *EntityService) GetJobStatus(ctx context.Context, jobID string) (*models.SyncJob, error) {
	job, err := s.jobs.GetSyncJob(ctx, jobID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return job, err
}

// GetSyncStatus returns the module's tracker row, or nil before first sync.
func (s *EntityService) GetSyncStatus(ctx context.Context, module string) (*models.SyncTracker, error) {
	if !models.IsSupportedModule(module) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModule, module)
	}
	tracker, err := s.jobs.GetTracker(ctx, module)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return tracker, err
}

// ListFailedJobs pages through dead-lettered job records.
func (s *EntityService) ListFailedJobs(ctx context.Context, module string, page, limit int) ([]models.FailedJob, int, error) {
	if module != "" && !models.IsSupportedModule(module) {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedModule, module)
	}
	return s.jobs.ListFailedJobs(ctx, module, page, limit)
}

// RetryFailedJob republishes a dead-lettered job's payload as a fresh job
// with a new id, and marks the failed-job record retried.
func (s *EntityService) RetryFailedJob(ctx context.Context, jobID string) (string, error) {
	failed, err := s.jobs.GetFailedJobByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", ErrFailedJobNotFound
		}
		return "", err
	}

	var msg models.JobMessage
	if err := json.Unmarshal([]byte(failed.Payload), &msg); err != nil {
		return "", fmt.Errorf("decode failed job payload: %w", err)
	}

	newJobID, err := s.queue.Publish(ctx, failed.Module, msg.Type, msg.Params)
	if err != nil {
		return "", err
	}

	if err := s.jobs.MarkFailedJobRetried(ctx, failed.ID); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("mark failed job retried failed")
	}

	s.logger.Info().Str("old_job_id", jobID).Str("new_job_id", newJobID).Msg("failed job retried")
	return newJobID, nil
}

func (s *EntityService) isStale(entity *models.Entity) bool {
	if entity.RemoteModifiedAt == nil {
		return true
	}
	return time.Since(entity.UpdatedAt) > s.staleness
}

// decide gathers the decision inputs. The read path never probes the remote:
// it trusts the tracker plus the staleness window, keeping ERP call volume
// proportional to staleness rather than read traffic.
func (s *EntityService) decide(ctx context.Context, module string, force bool) (*syncengine.Decision, error) {
	dbMax, err := s.entities.FindMaxModified(ctx, module)
	if err != nil {
		return nil, err
	}

	tracker, err := s.jobs.GetTracker(ctx, module)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	decision := syncengine.Decide(syncengine.Inputs{
		DBMax:     dbMax,
		Tracker:   tracker,
		Force:     force,
		Staleness: s.staleness,
		Now:       time.Now(),
	})
	return &decision, nil
}

func (s *EntityService) maybeTriggerSync(ctx context.Context, module string, force bool) (string, bool) {
	decision, err := s.decide(ctx, module, force)
	if err != nil {
		s.logger.Warn().Err(err).Str("module", module).Msg("sync decision failed, serving local data")
		return "", false
	}
	if !decision.ShouldSync {
		return "", false
	}

	jobID, err := s.queue.Publish(ctx, module, models.JobTypeIncremental, models.SyncParams{
		Since:    decision.Since,
		PageSize: s.pageSize,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("module", module).Msg("sync trigger failed, serving local data")
		return "", false
	}

	s.logger.Info().Str("module", module).Str("job_id", jobID).Str("reason", decision.Reason).Msg("background sync triggered")
	_ = s.bus.PublishJSON(events.EventSyncTriggered, events.SyncEventPayload{
		Module: module,
		JobID:  jobID,
		Reason: decision.Reason,
	})
	return jobID, true
}

func (s *EntityService) triggerEntitySync(ctx context.Context, module, remoteID string) (string, bool) {
	jobID, err := s.queue.Publish(ctx, module, models.JobTypeIncremental, models.SyncParams{
		RemoteID: remoteID,
		PageSize: s.pageSize,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("module", module).Str("remote_id", remoteID).Msg("entity sync trigger failed")
		return "", false
	}
	return jobID, true
}
