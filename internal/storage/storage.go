package storage

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/jobqueue/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var jobColumns = []string{"id", "status", "payload", "params", "last_error", "created_at", "updated_at"}

// Storage is the job record store. All queue state lives in the jobs table;
// Storage holds no state of its own and is safe for concurrent use.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

type jobRow struct {
	ID        int64            `db:"id"`
	Status    domain.JobStatus `db:"status"`
	Payload   []byte           `db:"payload"`
	Params    []byte           `db:"params"`
	LastError sql.NullString   `db:"last_error"`
	CreatedAt time.Time        `db:"created_at"`
	UpdatedAt time.Time        `db:"updated_at"`
}

func (r *jobRow) job() domain.Job {
	return domain.Job{
		ID:         r.ID,
		Status:     r.Status,
		LastError:  r.LastError.String,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		RawPayload: r.Payload,
		RawParams:  r.Params,
	}
}

// decode converts the row, failing with *domain.DecodeError carrying the row
// id when payload or params are not a known variant.
func (r *jobRow) decode() (domain.Job, error) {
	job := r.job()

	payload, err := domain.DecodePayload(r.Payload)
	if err != nil {
		return domain.Job{}, withJobID(err, r.ID)
	}
	params, err := domain.DecodeOptionalParams(r.Params)
	if err != nil {
		return domain.Job{}, withJobID(err, r.ID)
	}

	job.Payload = payload
	job.Params = params
	return job, nil
}

// decodeLenient is used on read-only paths: a row that does not decode is
// still returned with its raw bytes so operators can inspect it.
func (s *Storage) decodeLenient(r *jobRow) domain.Job {
	job, err := r.decode()
	if err == nil {
		return job
	}

	s.logger.Warn("Stored job does not decode",
		slog.Int64("job_id", r.ID),
		slog.String("status", r.Status.String()),
		slog.Any("error", err),
	)
	return r.job()
}

func withJobID(err error, id int64) error {
	var decodeErr *domain.DecodeError
	if errors.As(err, &decodeErr) {
		decodeErr.JobID = id
	}
	return err
}
