// Package workers holds the queue consumers that run outside the HTTP path:
// the screenshot extractor turns queued images into task blocks.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/screentask/screentask/internal/engine"
	"github.com/screentask/screentask/internal/extractions"
	"github.com/screentask/screentask/internal/models"
	"github.com/screentask/screentask/internal/queue"
	"github.com/screentask/screentask/internal/services/ai"
	"github.com/screentask/screentask/internal/store"
	"go.uber.org/zap"
)

// Extractor processes screenshot-extraction jobs
type Extractor struct {
	provider ai.Provider
	store    store.Store
	engine   *engine.Engine
	registry *extractions.Registry
	jobQueue queue.JobQueue // For re-enqueueing jobs with delays
	logger   *zap.Logger
}

// NewExtractor creates a new extraction worker
func NewExtractor(
	provider ai.Provider,
	st store.Store,
	eng *engine.Engine,
	registry *extractions.Registry,
	jobQueue queue.JobQueue,
	logger *zap.Logger,
) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		provider: provider,
		store:    st,
		engine:   eng,
		registry: registry,
		jobQueue: jobQueue,
		logger:   logger,
	}
}

// ProcessExtractionJob runs one screenshot through the analysis provider and
// inserts the resulting task block at the front of the user's collection.
func (e *Extractor) ProcessExtractionJob(ctx context.Context, job *queue.Job) error {
	if job.ImageBase64 == "" {
		return fmt.Errorf("image data is required for extraction job")
	}

	result, err := e.provider.ExtractTasks(ctx, job.ImageBase64, job.MediaType, job.CustomPrompt)
	if err != nil {
		return fmt.Errorf("failed to extract tasks: %w", err)
	}

	// An empty main task is a terminal outcome, not a retryable failure.
	if result.MainTask == "" {
		if failErr := e.registry.MarkFailed(ctx, job.UserID, job.ExtractionID, "no actionable tasks found in this screenshot"); failErr != nil {
			e.logger.Warn("extraction_status_update_failed",
				zap.String("extraction_id", job.ExtractionID),
				zap.Error(failErr),
			)
		}
		return nil
	}

	part := models.Partition{UserID: job.UserID, SpaceID: job.SpaceID}
	col, err := e.store.QueryTasks(ctx, part)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	_, changes := e.engine.AddFromExtraction(engine.Normalize(col), part, result.Source, result.MainTask, result.Subtasks)
	taskIDs := make([]string, 0, len(changes.Upserts))
	for _, task := range changes.Upserts {
		if err := e.store.UpsertTask(ctx, task); err != nil {
			return fmt.Errorf("failed to persist extracted task: %w", err)
		}
		taskIDs = append(taskIDs, task.ID)
	}

	if err := e.registry.MarkDone(ctx, job.UserID, job.ExtractionID, taskIDs); err != nil {
		e.logger.Warn("extraction_status_update_failed",
			zap.String("extraction_id", job.ExtractionID),
			zap.Error(err),
		)
	}

	e.logger.Info("extraction_completed",
		zap.String("extraction_id", job.ExtractionID),
		zap.String("user_id", job.UserID),
		zap.String("source", result.Source),
		zap.Int("task_count", len(taskIDs)),
	)
	return nil
}

// ProcessJob processes a job based on its type
func (e *Extractor) ProcessJob(ctx context.Context, msg *queue.Message) error {
	job := msg.GetJob()

	switch job.Type {
	case queue.JobTypeScreenshotExtraction:
		if err := e.ProcessExtractionJob(ctx, job); err != nil {
			return e.handleJobError(ctx, msg, job, err)
		}
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack job: %w", ackErr)
		}
		return nil

	default:
		if nackErr := msg.Nack(false); nackErr != nil { // Unknown job type, send to DLQ
			e.logger.Warn("job_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// handleJobError applies the retry policy: delayed re-enqueue for rate limits
// and quota exhaustion, bounded requeues for everything else. A job that is
// out of retries marks its extraction record failed and dead-letters.
func (e *Extractor) handleJobError(ctx context.Context, msg *queue.Message, job *queue.Job, err error) error {
	if ai.IsQuotaError(err) || ai.IsRateLimitError(err) {
		retryDelay := ai.GetRetryDelay(err, job.RetryCount)

		if job.CanRetry() && e.jobQueue != nil {
			notBefore := time.Now().Add(retryDelay)
			delayedJob := *job
			delayedJob.NotBefore = &notBefore
			delayedJob.RetryCount = job.RetryCount + 1

			if ackErr := msg.Ack(); ackErr != nil {
				e.logger.Warn("job_ack_failed",
					zap.String("job_id", job.ID.String()),
					zap.Error(ackErr),
				)
			}
			if enqueueErr := e.jobQueue.Enqueue(ctx, &delayedJob); enqueueErr != nil {
				return fmt.Errorf("rate limited, failed to re-enqueue: %w", enqueueErr)
			}
			e.logger.Info("job_delayed_for_retry",
				zap.String("job_id", job.ID.String()),
				zap.Time("not_before", notBefore),
				zap.Int("retry_count", delayedJob.RetryCount),
			)
			return nil
		}
	}

	if job.CanRetry() {
		job.IncrementRetry()
		e.logger.Warn("job_failed_will_retry",
			zap.String("job_id", job.ID.String()),
			zap.Int("retry_count", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Error(err),
		)
		if nackErr := msg.Nack(true); nackErr != nil {
			e.logger.Warn("job_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("job failed (will retry): %w", err)
	}

	// Max retries exceeded, send to DLQ
	if failErr := e.registry.MarkFailed(ctx, job.UserID, job.ExtractionID, err.Error()); failErr != nil {
		e.logger.Warn("extraction_status_update_failed",
			zap.String("extraction_id", job.ExtractionID),
			zap.Error(failErr),
		)
	}
	e.logger.Error("job_failed_dead_lettered",
		zap.String("job_id", job.ID.String()),
		zap.String("extraction_id", job.ExtractionID),
		zap.Int("max_retries", job.MaxRetries),
		zap.Error(err),
	)
	if nackErr := msg.Nack(false); nackErr != nil {
		e.logger.Warn("job_nack_failed", zap.Error(nackErr))
	}
	return fmt.Errorf("job failed (max retries): %w", err)
}

// Run consumes extraction jobs until the context is cancelled.
func (e *Extractor) Run(ctx context.Context, prefetchCount int) error {
	msgs, errs, err := e.jobQueue.Consume(ctx, prefetchCount)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case consumeErr, ok := <-errs:
			if !ok {
				return nil
			}
			e.logger.Error("queue_consume_error", zap.Error(consumeErr))
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if procErr := e.ProcessJob(ctx, msg); procErr != nil {
				e.logger.Warn("job_processing_error", zap.Error(procErr))
			}
		}
	}
}
