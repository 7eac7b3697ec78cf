package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobqueue/internal/domain"
)

const transitionQuery = `
	UPDATE jobs
	SET status = $1,
	    last_error = $2,
	    updated_at = now()
	WHERE id = $3 AND status = $4
`

// MarkJobFailed records that a Running job failed. It runs in its own
// transaction, separate from the claim that produced the job.
func (s *Storage) MarkJobFailed(ctx context.Context, id int64, reason string) error {
	if err := s.transition(ctx, "mark failed", id, domain.JobStatusRunning, domain.JobStatusFailed, reason); err != nil {
		return err
	}

	s.logger.Info("Job marked as failed",
		slog.Int64("job_id", id),
		slog.String("reason", reason),
	)
	return nil
}

// RejectJob fails a Queued job whose stored bytes cannot be decoded, so that
// it no longer blocks the head of the queue.
func (s *Storage) RejectJob(ctx context.Context, id int64, reason string) error {
	if err := s.transition(ctx, "reject", id, domain.JobStatusQueued, domain.JobStatusFailed, reason); err != nil {
		return err
	}

	s.logger.Warn("Job rejected",
		slog.Int64("job_id", id),
		slog.String("reason", reason),
	)
	return nil
}

func (s *Storage) transition(ctx context.Context, op string, id int64, from, to domain.JobStatus, reason string) error {
	if !domain.IsValidTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}

	result, err := s.db.ExecContext(ctx, transitionQuery, to, reason, id, from)
	if err != nil {
		return classify(op, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if affected == 1 {
		return nil
	}

	// nothing matched: either the job is gone or it is in another state
	var current domain.JobStatus
	err = s.db.GetContext(ctx, &current, "SELECT status FROM jobs WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return classify(op, err)
	}
	return fmt.Errorf("job %d is %s, expected %s: %w", id, current, from, domain.ErrInvalidTransition)
}
