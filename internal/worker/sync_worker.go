package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"erpsync/internal/cache"
	"erpsync/internal/domain"
	"erpsync/internal/events"
	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/models"
	"erpsync/internal/queue"

	"github.com/rs/zerolog"
)

// Consumer is the queue surface the worker needs.
type Consumer interface {
	Consume(ctx context.Context, module string) (*models.JobMessage, bool, error)
	PublishToRetry(ctx context.Context, module string, msg models.JobMessage, attempt int) error
	PublishToDLX(ctx context.Context, module string, msg models.JobMessage, cause error) error
	Republish(ctx context.Context, job *models.SyncJob) error
}

// SyncWorker consumes sync jobs for one module and drives the paged
// fetch-compare-upsert loop against the entity store. One message is in
// flight at a time, so two sync runs never race on the same tracker row.
type SyncWorker struct {
	module      string
	entities    domain.EntityRepository
	jobs        domain.JobRepository
	fetcher     domain.Fetcher
	queue       Consumer
	cache       domain.Cache
	bus         domain.EventPublisher
	maxAttempts int
	pageSize    int
	logger      zerolog.Logger
}

// Options tunes worker behavior; zero values get sane defaults.
type Options struct {
	MaxAttempts int
	PageSize    int
}

func NewSyncWorker(
	module string,
	entities domain.EntityRepository,
	jobs domain.JobRepository,
	fetcher domain.Fetcher,
	q Consumer,
	c domain.Cache,
	bus domain.EventPublisher,
	opts Options,
	logger *zerolog.Logger,
) *SyncWorker {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = models.MaxJobAttempts
	}
	if opts.PageSize <= 0 {
		opts.PageSize = models.DefaultPageSize
	}

	return &SyncWorker{
		module:      module,
		entities:    entities,
		jobs:        jobs,
		fetcher:     fetcher,
		queue:       q,
		cache:       c,
		bus:         bus,
		maxAttempts: opts.MaxAttempts,
		pageSize:    opts.PageSize,
		logger:      logging.ForModule(logger, module).With().Str("component", "sync_worker").Logger(),
	}
}

// Start runs the consume loop until ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("sync worker started")
	defer w.logger.Info().Msg("sync worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ok, err := w.queue.Consume(ctx, w.module)
		if err != nil {
			w.logger.Error().Err(err).Msg("consume failed")
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		w.ProcessMessage(ctx, msg)
	}
}

// ProcessMessage runs one job to completion, success or failure. It never
// swallows an error: every failure ends in a retry publish or a dead letter.
func (w *SyncWorker) ProcessMessage(ctx context.Context, msg *models.JobMessage) {
	logger := w.logger.With().Str("job_id", msg.JobID).Int("attempts", msg.Attempts).Logger()

	if err := w.jobs.MarkJobProcessing(ctx, msg.JobID); err != nil {
		logger.Error().Err(err).Msg("mark processing failed")
	}

	if err := w.validateMessage(msg); err != nil {
		// Условие не изменится от повтора — сразу в dead-letter
		logger.Error().Err(err).Msg("unsupported job, dead-lettering")
		w.deadLetter(ctx, msg, err)
		return
	}

	processed, err := w.runSync(ctx, msg)
	if err != nil {
		w.retryOrFail(ctx, msg, err)
		return
	}

	if err := w.jobs.MarkJobSuccess(ctx, msg.JobID); err != nil {
		logger.Error().Err(err).Msg("mark success failed")
	}
	metrics.IncJobProcessed(w.module, "success")
	_ = w.bus.PublishJSON(events.EventSyncCompleted, events.SyncEventPayload{
		Module:  w.module,
		JobID:   msg.JobID,
		Records: processed,
	})
	logger.Info().Int("records", processed).Msg("job completed")
}

func (w *SyncWorker) validateMessage(msg *models.JobMessage) error {
	if msg.Module != w.module || !models.IsSupportedModule(msg.Module) {
		return fmt.Errorf("%w: %s", queue.ErrUnsupportedModule, msg.Module)
	}
	switch msg.Type {
	case models.JobTypeIncremental, models.JobTypeFull:
		return nil
	default:
		return fmt.Errorf("unsupported job type: %s", msg.Type)
	}
}

// runSync drives the page loop. The tracker watermark is advanced only after
// the whole loop finishes: a failure on page 3 of 5 leaves the watermark
// where the run found it, so the failed range is re-fetched next time.
func (w *SyncWorker) runSync(ctx context.Context, msg *models.JobMessage) (int, error) {
	w.setTracker(ctx, models.TrackerSyncing, "", nil, nil)
	_ = w.bus.PublishJSON(events.EventSyncStarted, events.SyncEventPayload{
		Module: w.module,
		JobID:  msg.JobID,
	})

	params := msg.Params
	if params.PageSize <= 0 {
		params.PageSize = w.pageSize
	}
	if msg.Type == models.JobTypeFull {
		params.Since = nil
	}

	var runningMax *time.Time
	processed := 0

	for {
		result, err := w.fetcher.FetchPage(ctx, w.module, params)
		if err != nil {
			err = fmt.Errorf("fetch page %d: %w", params.Page, err)
			w.failTracker(ctx, err)
			return processed, err
		}

		if len(result.Items) == 0 {
			break
		}

		stored, err := w.entities.BatchUpsert(ctx, w.module, result.Items)
		if err != nil {
			err = fmt.Errorf("persist page %d: %w", params.Page, err)
			w.failTracker(ctx, err)
			return processed, err
		}
		processed += len(stored)

		for i := range result.Items {
			if t := result.Items[i].RemoteModifiedAt; t != nil {
				if runningMax == nil || t.After(*runningMax) {
					utc := t.UTC()
					runningMax = &utc
				}
			}
		}

		w.invalidateCache(ctx, stored)

		if !result.HasMore {
			break
		}
		params.Page++
	}

	now := time.Now().UTC()
	remark := fmt.Sprintf("processed %d records", processed)
	w.setTracker(ctx, models.TrackerSuccess, remark, &now, runningMax)
	return processed, nil
}

func (w *SyncWorker) invalidateCache(ctx context.Context, stored []models.Entity) {
	keys := make([]string, 0, len(stored))
	for i := range stored {
		keys = append(keys, cache.EntityKey(w.module, stored[i].RemoteID))
	}
	w.cache.Delete(ctx, keys...)
	w.cache.DeleteByPattern(ctx, cache.ListPattern(w.module))
}

func (w *SyncWorker) retryOrFail(ctx context.Context, msg *models.JobMessage, cause error) {
	logger := w.logger.With().Str("job_id", msg.JobID).Logger()

	if err := w.jobs.IncrementJobAttempts(ctx, msg.JobID, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("increment attempts failed")
	}
	metrics.IncJobProcessed(w.module, "error")

	attempt := msg.Attempts + 1
	if attempt < w.maxAttempts {
		if err := w.queue.PublishToRetry(ctx, w.module, *msg, attempt); err != nil {
			logger.Error().Err(err).Msg("retry publish failed, dead-lettering instead")
			w.deadLetter(ctx, msg, errors.Join(cause, err))
			return
		}
		remark := fmt.Sprintf("retry %d/%d scheduled: %s", attempt, w.maxAttempts, cause.Error())
		if err := w.jobs.MarkJobPending(ctx, msg.JobID, remark); err != nil {
			logger.Error().Err(err).Msg("mark pending failed")
		}
		return
	}

	w.deadLetter(ctx, msg, cause)
}

func (w *SyncWorker) deadLetter(ctx context.Context, msg *models.JobMessage, cause error) {
	logger := w.logger.With().Str("job_id", msg.JobID).Logger()
	attempts := msg.Attempts + 1

	if err := w.queue.PublishToDLX(ctx, w.module, *msg, cause); err != nil {
		logger.Error().Err(err).Msg("dead-letter publish failed")
	}

	payload, _ := json.Marshal(msg)
	failed := models.FailedJob{
		JobID:    msg.JobID,
		Module:   w.module,
		Payload:  string(payload),
		Error:    cause.Error(),
		Stack:    string(debug.Stack()),
		Attempts: attempts,
	}
	if err := w.jobs.CreateFailedJob(ctx, &failed); err != nil {
		logger.Error().Err(err).Msg("persist failed job failed")
	}

	if err := w.jobs.MarkJobFailed(ctx, msg.JobID, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("mark failed failed")
	}

	metrics.IncJobDeadLettered(w.module)
	_ = w.bus.PublishJSON(events.EventJobDeadLettered, events.SyncEventPayload{
		Module:   w.module,
		JobID:    msg.JobID,
		Attempts: attempts,
		Error:    cause.Error(),
	})
}

func (w *SyncWorker) setTracker(ctx context.Context, status, remark string, lastSync, batchMax *time.Time) {
	tracker, err := w.jobs.GetTracker(ctx, w.module)
	if err != nil {
		tracker = &models.SyncTracker{Module: w.module}
	}

	tracker.Status = status
	tracker.Remark = remark
	if lastSync != nil {
		tracker.LastSyncAt = lastSync
	}
	if batchMax != nil {
		tracker.LastSyncedBatchMax = batchMax
	}

	if err := w.jobs.UpsertTracker(ctx, tracker); err != nil {
		w.logger.Error().Err(err).Str("status", status).Msg("tracker update failed")
	}
}

func (w *SyncWorker) failTracker(ctx context.Context, cause error) {
	now := time.Now().UTC()
	w.setTracker(ctx, models.TrackerFailed, cause.Error(), &now, nil)
	_ = w.bus.PublishJSON(events.EventSyncFailed, events.SyncEventPayload{
		Module: w.module,
		Error:  cause.Error(),
	})
}
