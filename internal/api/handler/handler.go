package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/internal/storage"
	"github.com/cuongbtq/jobqueue/shared/metrics"
)

// JobStore is the job store as seen by the HTTP API.
type JobStore interface {
	InsertJobs(ctx context.Context, jobs []domain.NewJob) ([]int64, error)
	GetJob(ctx context.Context, id int64) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	ClaimJobs(ctx context.Context, batchSize int) ([]domain.Job, error)
	MarkJobFailed(ctx context.Context, id int64, reason string) error
}

// WakeupPublisher announces freshly enqueued jobs to idle workers.
type WakeupPublisher interface {
	PublishWakeup(ctx context.Context, count int) error
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Store   JobStore
	Health  HealthChecker
	Metrics *metrics.Metrics
	Wakeups WakeupPublisher // nil when RabbitMQ is disabled
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	store   JobStore
	metrics *metrics.Metrics
	wakeups WakeupPublisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &JobHandler{
		logger:  deps.Logger,
		store:   deps.Store,
		metrics: m,
		wakeups: deps.Wakeups,
	}
}
