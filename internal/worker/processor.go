package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/jobqueue/internal/domain"
)

// failureReportTimeout bounds the separate transaction that records a failure.
const failureReportTimeout = 5 * time.Second

// dispatchBatch runs every job of a claimed batch through the registry with
// bounded parallelism. A claimed batch is always dispatched in full, even if
// ctx is canceled meanwhile; each job is still bounded by the job timeout.
func (w *Worker) dispatchBatch(ctx context.Context, logger *slog.Logger, jobs []domain.Job) {
	w.reportBatch(logger, jobs)

	dispatchCtx := context.WithoutCancel(ctx)

	var (
		g        errgroup.Group
		mu       sync.Mutex
		batchErr error
		failed   []int64
	)
	g.SetLimit(w.dispatchParallelism)

	for _, job := range jobs {
		g.Go(func() error {
			if err := w.processJob(dispatchCtx, logger, job); err != nil {
				mu.Lock()
				batchErr = multierr.Append(batchErr, err)
				failed = append(failed, job.ID)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if batchErr != nil {
		logger.Warn("Batch finished with failures",
			slog.Int("batch_size", len(jobs)),
			slog.Int("failed", len(multierr.Errors(batchErr))),
			slog.Any("failed_ids", failed),
		)
		return
	}
	logger.Debug("Batch finished", slog.Int("batch_size", len(jobs)))
}

// reportBatch logs the domain view of a claimed batch.
func (w *Worker) reportBatch(logger *slog.Logger, jobs []domain.Job) {
	converted, err := domain.ConvertAll(jobs)

	identifiers := make([]string, len(converted))
	for i, dj := range converted {
		identifiers[i] = dj.Identifier
	}
	logger.Info("Batch claimed",
		slog.Int("count", len(jobs)),
		slog.Any("identifiers", identifiers),
	)

	if err != nil {
		errs := multierr.Errors(err)
		w.metrics.ConversionErrors.Add(float64(len(errs)))
		for _, e := range errs {
			logger.Warn("Job excluded from batch report", slog.Any("error", e))
		}
	}
}

// processJob runs the handler for job and records a failure when it errors.
func (w *Worker) processJob(ctx context.Context, logger *slog.Logger, job domain.Job) error {
	kind := "unknown"
	if job.Payload != nil {
		kind = string(job.Payload.Kind())
	}
	jobLogger := logger.With(slog.Int64("job_id", job.ID), slog.String("kind", kind))

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.registry.Dispatch(jobCtx, job)
	w.metrics.HandlerDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err == nil {
		jobLogger.Info("Job processed", slog.Duration("took", time.Since(start)))
		return nil
	}

	jobLogger.Error("Job execution failed", slog.Any("error", err))

	reportCtx, cancel := context.WithTimeout(ctx, failureReportTimeout)
	defer cancel()
	if reportErr := w.store.MarkJobFailed(reportCtx, job.ID, err.Error()); reportErr != nil {
		jobLogger.Error("Failed to mark job as failed", slog.Any("error", reportErr))
		return fmt.Errorf("job %d: %w", job.ID, multierr.Append(err, reportErr))
	}
	w.metrics.JobsFailed.Inc()

	return fmt.Errorf("job %d: %w", job.ID, err)
}
