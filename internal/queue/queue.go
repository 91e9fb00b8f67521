package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"erpsync/internal/domain"
	"erpsync/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrNoBroker is returned when publish is attempted without redis.
	ErrNoBroker = errors.New("queue broker is not available")

	// ErrUnsupportedModule is returned for modules without a queue.
	ErrUnsupportedModule = errors.New("unsupported module")

	// ErrBadRetryAttempt is returned for attempt numbers outside the
	// configured retry queues.
	ErrBadRetryAttempt = errors.New("retry attempt out of range")
)

// DefaultRetryDelays are the per-attempt redelivery delays. Each retry queue
// holds messages for its delay, then they flow back onto the main queue.
var DefaultRetryDelays = []time.Duration{time.Second, 10 * time.Second, time.Minute}

// Queue is the per-module job pipeline on Redis: one durable main list, one
// delayed set per retry attempt and one dead-letter list. Every published
// message is mirrored into the sync_jobs table for audit and crash recovery.
type Queue struct {
	redis  *redis.Client
	jobs   domain.JobRepository
	delays []time.Duration
	logger *zerolog.Logger
}

func New(client *redis.Client, jobs domain.JobRepository, delays []time.Duration, logger *zerolog.Logger) *Queue {
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	return &Queue{
		redis:  client,
		jobs:   jobs,
		delays: delays,
		logger: logger,
	}
}

// MainKey is the main queue list for a module.
func MainKey(module string) string {
	return "sync:queue:" + module
}

// RetryKey is the delayed set for one retry attempt of a module.
func RetryKey(module string, attempt int) string {
	return fmt.Sprintf("sync:retry:%s:%d", module, attempt)
}

// DLXKey is the dead-letter list for a module.
func DLXKey(module string) string {
	return "sync:dlx:" + module
}

// Publish creates a job record, pushes the message onto the module's main
// queue and returns the fresh job id without waiting for processing.
func (q *Queue) Publish(ctx context.Context, module, jobType string, params models.SyncParams) (string, error) {
	if !models.IsSupportedModule(module) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedModule, module)
	}
	if q.redis == nil {
		return "", ErrNoBroker
	}

	jobID := uuid.NewString()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}

	job := models.SyncJob{
		ID:     jobID,
		Module: module,
		Type:   jobType,
		Params: string(paramsJSON),
		Status: models.JobPending,
	}
	if err := q.jobs.CreateSyncJob(ctx, &job); err != nil {
		return "", fmt.Errorf("persist sync job: %w", err)
	}

	msg := models.JobMessage{
		JobID:     jobID,
		Module:    module,
		Type:      jobType,
		Params:    params,
		Attempts:  0,
		Timestamp: time.Now().UTC(),
	}
	if err := q.pushMain(ctx, module, msg); err != nil {
		return "", err
	}

	q.logger.Info().Str("job_id", jobID).Str("module", module).Str("type", jobType).Msg("job published")
	return jobID, nil
}

// Republish pushes an already-persisted job back onto its main queue,
// keeping the original job id. Used by crash recovery and failed-job retry.
func (q *Queue) Republish(ctx context.Context, job *models.SyncJob) error {
	if q.redis == nil {
		return ErrNoBroker
	}

	var params models.SyncParams
	if err := json.Unmarshal([]byte(job.Params), &params); err != nil {
		return fmt.Errorf("decode job params: %w", err)
	}

	msg := models.JobMessage{
		JobID:     job.ID,
		Module:    job.Module,
		Type:      job.Type,
		Params:    params,
		Attempts:  job.Attempts,
		Timestamp: time.Now().UTC(),
	}
	return q.pushMain(ctx, job.Module, msg)
}

// PublishToRetry parks the message in the attempt's delayed set; once the
// delay passes it is redelivered onto the main queue. The retry publish is a
// new message, never a requeue of the original delivery.
func (q *Queue) PublishToRetry(ctx context.Context, module string, msg models.JobMessage, attempt int) error {
	if q.redis == nil {
		return ErrNoBroker
	}
	if attempt < 1 || attempt > len(q.delays) {
		return fmt.Errorf("%w: %d", ErrBadRetryAttempt, attempt)
	}

	now := time.Now().UTC()
	msg.Attempts = attempt
	msg.RetriedAt = &now

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode retry message: %w", err)
	}

	readyAt := now.Add(q.delays[attempt-1])
	err = q.redis.ZAdd(ctx, RetryKey(module, attempt), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("push retry message: %w", err)
	}

	q.logger.Info().
		Str("job_id", msg.JobID).
		Str("module", module).
		Int("attempt", attempt).
		Dur("delay", q.delays[attempt-1]).
		Msg("job scheduled for retry")
	return nil
}

// PublishToDLX stamps the failure and pushes the message onto the module's
// dead-letter list for manual inspection.
func (q *Queue) PublishToDLX(ctx context.Context, module string, msg models.JobMessage, cause error) error {
	if q.redis == nil {
		return ErrNoBroker
	}

	now := time.Now().UTC()
	msg.FailedAt = &now
	if cause != nil {
		msg.LastError = cause.Error()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := q.redis.LPush(ctx, DLXKey(module), data).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}

	q.logger.Warn().
		Str("job_id", msg.JobID).
		Str("module", module).
		Int("attempts", msg.Attempts).
		Str("error", msg.LastError).
		Msg("job dead-lettered")
	return nil
}

// Consume promotes due retries, then blocks up to a second waiting for one
// message. The pop removes the message from the list, so one consumer holds
// exactly one message in flight; redelivery after a crash comes from the
// pending-jobs recovery scan.
func (q *Queue) Consume(ctx context.Context, module string) (*models.JobMessage, bool, error) {
	if q.redis == nil {
		return nil, false, ErrNoBroker
	}

	q.promoteDue(ctx, module)

	res, err := q.redis.BRPop(ctx, time.Second, MainKey(module)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pop message: %w", err)
	}
	if len(res) != 2 {
		return nil, false, nil
	}

	var msg models.JobMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, false, fmt.Errorf("decode message: %w", err)
	}
	return &msg, true, nil
}

// promoteDue moves messages whose retry delay has expired back onto the main
// queue, the analog of a TTL queue dead-lettering into the main exchange.
func (q *Queue) promoteDue(ctx context.Context, module string) {
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)

	for attempt := 1; attempt <= len(q.delays); attempt++ {
		key := RetryKey(module, attempt)
		members, err := q.redis.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: "-inf", Max: now, Count: 100,
		}).Result()
		if err != nil {
			q.logger.Warn().Err(err).Str("key", key).Msg("retry promote scan failed")
			continue
		}

		for _, member := range members {
			removed, err := q.redis.ZRem(ctx, key, member).Result()
			if err != nil || removed == 0 {
				// Другой воркер успел забрать это сообщение
				continue
			}
			if err := q.redis.LPush(ctx, MainKey(module), member).Err(); err != nil {
				q.logger.Error().Err(err).Str("key", key).Msg("retry promote push failed")
			}
		}
	}
}

// DeadLetters returns up to limit messages from a module's dead-letter list,
// newest first.
func (q *Queue) DeadLetters(ctx context.Context, module string, limit int64) ([]models.JobMessage, error) {
	if q.redis == nil {
		return nil, ErrNoBroker
	}
	if limit <= 0 {
		limit = 50
	}

	raw, err := q.redis.LRange(ctx, DLXKey(module), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}

	msgs := make([]models.JobMessage, 0, len(raw))
	for _, item := range raw {
		var msg models.JobMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			q.logger.Warn().Err(err).Msg("skip undecodable dead letter")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DLXLength returns the dead-letter queue depth for a module.
func (q *Queue) DLXLength(ctx context.Context, module string) (int64, error) {
	if q.redis == nil {
		return 0, ErrNoBroker
	}
	return q.redis.LLen(ctx, DLXKey(module)).Result()
}

func (q *Queue) pushMain(ctx context.Context, module string, msg models.JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := q.redis.LPush(ctx, MainKey(module), data).Err(); err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	return nil
}
