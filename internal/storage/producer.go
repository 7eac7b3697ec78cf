package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/shared/postgresql"
)

// maxBindParams is the most placeholders Postgres accepts in one statement.
const maxBindParams = 65535

var insertColumns = []string{"status", "payload", "params"}

// insertChunkSize is how many jobs fit in one INSERT.
var insertChunkSize = maxBindParams / len(insertColumns)

// InsertJobs stores jobs as Queued and returns their ids in input order.
// Large inputs are split into several INSERTs sharing one transaction, so
// either every job is stored or none is.
func (s *Storage) InsertJobs(ctx context.Context, jobs []domain.NewJob) ([]int64, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	values := make([][]any, len(jobs))
	for i, job := range jobs {
		payload, err := domain.EncodePayload(job.Payload)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		params, err := domain.EncodeOptionalParams(job.Params)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		values[i] = []any{domain.JobStatusQueued, string(payload), nullableJSON(params)}
	}

	ids := make([]int64, 0, len(jobs))
	err := postgresql.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		for start := 0; start < len(values); start += insertChunkSize {
			end := min(start+insertChunkSize, len(values))
			chunkIDs, err := insertChunk(ctx, tx, values[start:end])
			if err != nil {
				return err
			}
			ids = append(ids, chunkIDs...)
		}
		return nil
	})
	if err != nil {
		return nil, classify("insert", err)
	}

	s.logger.Debug("Jobs inserted", slog.Int("count", len(ids)))
	return ids, nil
}

func insertChunk(ctx context.Context, tx *sqlx.Tx, values [][]any) ([]int64, error) {
	insert := psql.Insert("jobs").Columns(insertColumns...)
	for _, v := range values {
		insert = insert.Values(v...)
	}

	query, args, err := insert.Suffix("RETURNING id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert: %w", err)
	}

	rows, err := tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, len(values))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// nullableJSON turns encoded JSON into a driver value. lib/pq sends []byte as
// bytea, so JSON goes over the wire as text.
func nullableJSON(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}

// GetJob returns a single job by id.
func (s *Storage) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	query, args, err := psql.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, classify("get job", err)
	}

	job := s.decodeLenient(&row)
	return &job, nil
}

// JobFilter selects a page of jobs in ascending id order.
type JobFilter struct {
	Status   domain.JobStatus // empty for any status
	AfterID  int64            // keyset cursor, exclusive
	PageSize int
}

// ListJobs returns up to PageSize+1 jobs so that callers can tell whether
// another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	if filter.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be greater than 0, got %d", filter.PageSize)
	}

	builder := psql.Select(jobColumns...).From("jobs")
	if filter.AfterID > 0 {
		builder = builder.Where(sq.Gt{"id": filter.AfterID})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status.String()})
	}
	builder = builder.OrderBy("id ASC").Limit(uint64(filter.PageSize + 1))

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classify("list jobs", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, s.decodeLenient(&rows[i]))
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs per status. Every status is
// present in the result, with zero when no job has it.
func (s *Storage) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	query, args, err := psql.Select("status", "count(*) AS count").From("jobs").GroupBy("status").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count: %w", err)
	}

	var rows []struct {
		Status domain.JobStatus `db:"status"`
		Count  int              `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classify("count jobs", err)
	}

	counts := make(map[domain.JobStatus]int, len(domain.AllStatuses))
	for _, status := range domain.AllStatuses {
		counts[status] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
