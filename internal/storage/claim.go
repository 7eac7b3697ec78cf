package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/shared/postgresql"
)

// claimQuery selects, locks and flips up to $1 queued rows in one round trip.
// Rows locked by a concurrent claim are skipped instead of waited on.
const claimQuery = `
	UPDATE jobs
	SET status = 'Running',
	    updated_at = now()
	WHERE id IN (
		SELECT id
		FROM jobs
		WHERE status = 'Queued'
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, status, payload, params, last_error, created_at, updated_at
`

// ClaimJobs atomically moves up to batchSize Queued jobs to Running and
// returns them in ascending id order. Concurrent callers receive disjoint
// sets. If any claimed row fails to decode the transaction is rolled back,
// every row stays Queued, and the *domain.DecodeError names the row.
func (s *Storage) ClaimJobs(ctx context.Context, batchSize int) ([]domain.Job, error) {
	if batchSize <= 0 {
		return nil, domain.ErrInvalidBatchSize
	}

	var jobs []domain.Job
	err := postgresql.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		var rows []jobRow
		if err := tx.SelectContext(ctx, &rows, claimQuery, batchSize); err != nil {
			return err
		}

		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

		jobs = make([]domain.Job, 0, len(rows))
		for i := range rows {
			job, err := rows[i].decode()
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		var decodeErr *domain.DecodeError
		if errors.As(err, &decodeErr) {
			s.logger.Error("Claim aborted on undecodable job",
				slog.Int64("job_id", decodeErr.JobID),
				slog.String("column", decodeErr.Column),
				slog.Any("error", decodeErr.Err),
			)
			return nil, fmt.Errorf("failed to claim jobs: %w", err)
		}
		return nil, classify("claim", err)
	}

	if len(jobs) > 0 {
		s.logger.Debug("Jobs claimed",
			slog.Int("count", len(jobs)),
			slog.Int64("first_id", jobs[0].ID),
			slog.Int64("last_id", jobs[len(jobs)-1].ID),
		)
	}
	return jobs, nil
}
