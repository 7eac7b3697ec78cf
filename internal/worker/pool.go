package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/shared/metrics"
)

// spawnRunners starts one independent claimer goroutine per unit of concurrency.
func (w *Worker) spawnRunners(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runnerLoop(ctx, i)
	}

	w.logger.Info("Runners spawned",
		slog.String("worker_id", w.workerID),
		slog.Int("runner_count", w.concurrency),
	)
}

// runnerLoop cycles Idle -> Claiming -> Dispatching until ctx ends or the
// store is declared unrecoverable.
func (w *Worker) runnerLoop(ctx context.Context, runnerNum int) {
	defer w.wg.Done()

	runnerName := fmt.Sprintf("%s-%d", w.workerID, runnerNum)
	logger := w.logger.With(slog.String("runner", runnerName))
	logger.Debug("Runner started")

	failures := 0
	for {
		if ctx.Err() != nil {
			logger.Debug("Runner stopping - context canceled")
			return
		}

		// taken before claiming so a wake-up sent meanwhile is not lost
		woken := w.wake.wait()

		claimed, err := w.claimAndDispatch(ctx, logger)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			delay, fatal := w.handleClaimError(ctx, logger, err, &failures)
			if fatal {
				w.halt(err)
				return
			}
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		failures = 0

		if claimed < w.batchSize {
			if !w.idle(ctx, woken) {
				return
			}
		}
	}
}

// claimAndDispatch claims one batch and dispatches it. It returns how many
// jobs were claimed.
func (w *Worker) claimAndDispatch(ctx context.Context, logger *slog.Logger) (int, error) {
	start := time.Now()
	jobs, err := w.store.ClaimJobs(ctx, w.batchSize)
	w.metrics.ClaimDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		w.metrics.ClaimsTotal.WithLabelValues(claimOutcome(err)).Inc()
		return 0, err
	}
	if len(jobs) == 0 {
		w.metrics.ClaimsTotal.WithLabelValues(metrics.OutcomeEmpty).Inc()
		return 0, nil
	}

	w.metrics.ClaimsTotal.WithLabelValues(metrics.OutcomeClaimed).Inc()
	w.metrics.JobsClaimed.Add(float64(len(jobs)))

	w.dispatchBatch(ctx, logger, jobs)
	return len(jobs), nil
}

// handleClaimError decides how long to wait before the next claim and
// whether the store should be considered gone for good.
func (w *Worker) handleClaimError(ctx context.Context, logger *slog.Logger, err error, failures *int) (time.Duration, bool) {
	var (
		decodeErr *domain.DecodeError
		connErr   *domain.ConnectionError
	)

	switch {
	case errors.As(err, &decodeErr):
		*failures = 0
		if w.rejectUndecodable(ctx, logger, decodeErr) {
			return 0, false
		}
		return w.pollInterval, false

	case errors.As(err, &connErr):
		*failures++
		if w.maxConsecutiveFailures > 0 && *failures >= w.maxConsecutiveFailures {
			logger.Error("Store unreachable, giving up",
				slog.Int("consecutive_failures", *failures),
				slog.Any("error", err),
			)
			return 0, true
		}
		delay := claimBackoff(w.claimBackoff, w.maxClaimBackoff, *failures)
		logger.Warn("Lost connection to store, backing off",
			slog.Int("consecutive_failures", *failures),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)
		return delay, false

	default:
		*failures = 0
		logger.Warn("Claim transaction failed, retrying next cycle",
			slog.Any("error", err),
		)
		return w.pollInterval, false
	}
}

// rejectUndecodable fails the row that aborted the claim so that it stops
// blocking the head of the queue. It reports whether the row was dealt with.
func (w *Worker) rejectUndecodable(ctx context.Context, logger *slog.Logger, decodeErr *domain.DecodeError) bool {
	logger.Error("Claimed job does not decode",
		slog.Int64("job_id", decodeErr.JobID),
		slog.String("column", decodeErr.Column),
		slog.String("tag", decodeErr.Tag),
		slog.Any("error", decodeErr.Err),
	)
	if decodeErr.JobID == 0 {
		return false
	}

	err := w.store.RejectJob(ctx, decodeErr.JobID, decodeErr.Error())
	switch {
	case err == nil:
		w.metrics.JobsRejected.Inc()
		return true
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrJobNotFound):
		// another runner got there first
		return true
	default:
		logger.Error("Failed to reject job",
			slog.Int64("job_id", decodeErr.JobID),
			slog.Any("error", err),
		)
		return false
	}
}

// idle waits for the poll interval or a wake-up, whichever comes first.
func (w *Worker) idle(ctx context.Context, woken <-chan struct{}) bool {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-woken:
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// claimBackoff returns base * 2^(attempt-1), capped at limit.
func claimBackoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

func claimOutcome(err error) string {
	var (
		decodeErr *domain.DecodeError
		connErr   *domain.ConnectionError
	)
	switch {
	case errors.As(err, &decodeErr):
		return metrics.OutcomeDecode
	case errors.As(err, &connErr):
		return metrics.OutcomeConnection
	default:
		return metrics.OutcomeTransaction
	}
}
