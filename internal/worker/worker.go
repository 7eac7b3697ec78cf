package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/shared/metrics"
	"github.com/cuongbtq/jobqueue/shared/rabbitmq"
)

// ErrStoreUnavailable is returned by Start when the store stayed unreachable
// for MaxConsecutiveFailures claims in a row.
var ErrStoreUnavailable = errors.New("job store unavailable")

// JobStore is the part of the job store the worker drives.
type JobStore interface {
	ClaimJobs(ctx context.Context, batchSize int) ([]domain.Job, error)
	MarkJobFailed(ctx context.Context, id int64, reason string) error
	RejectJob(ctx context.Context, id int64, reason string) error
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}

// WakeupSource delivers enqueue notifications.
type WakeupSource interface {
	Subscribe(consumerTag string) (<-chan rabbitmq.Wakeup, error)
}

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Store    JobStore
	Registry *Registry
	Metrics  *metrics.Metrics
	Wakeups  WakeupSource // optional, polling alone is enough

	WorkerID               string
	Concurrency            int
	BatchSize              int
	DispatchParallelism    int
	JobTimeout             time.Duration
	PollInterval           time.Duration
	ClaimBackoff           time.Duration
	MaxClaimBackoff        time.Duration
	MaxConsecutiveFailures int
	StatsSchedule          string // cron spec, empty disables the reporter
}

// Worker claims batches of queued jobs and dispatches them to handlers.
type Worker struct {
	logger   *slog.Logger
	store    JobStore
	registry *Registry
	metrics  *metrics.Metrics
	wakeups  WakeupSource
	wake     *broadcaster

	workerID               string
	concurrency            int
	batchSize              int
	dispatchParallelism    int
	jobTimeout             time.Duration
	pollInterval           time.Duration
	claimBackoff           time.Duration
	maxClaimBackoff        time.Duration
	maxConsecutiveFailures int
	statsSchedule          string

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once

	cancel   context.CancelFunc
	haltOnce sync.Once
	fatalErr error
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:                 cfg.Logger,
		store:                  cfg.Store,
		registry:               cfg.Registry,
		metrics:                cfg.Metrics,
		wakeups:                cfg.Wakeups,
		wake:                   newBroadcaster(),
		workerID:               cfg.WorkerID,
		concurrency:            cfg.Concurrency,
		batchSize:              cfg.BatchSize,
		dispatchParallelism:    cfg.DispatchParallelism,
		jobTimeout:             cfg.JobTimeout,
		pollInterval:           cfg.PollInterval,
		claimBackoff:           cfg.ClaimBackoff,
		maxClaimBackoff:        cfg.MaxClaimBackoff,
		maxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		statsSchedule:          cfg.StatsSchedule,
		stopChan:               make(chan struct{}),
	}

	if w.workerID == "" {
		w.workerID = uuid.NewString()
	}
	if w.registry == nil {
		w.registry = NewRegistry()
	}
	if w.metrics == nil {
		w.metrics = metrics.New()
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.batchSize <= 0 {
		w.batchSize = 1
	}
	if w.dispatchParallelism <= 0 {
		w.dispatchParallelism = w.batchSize
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.claimBackoff <= 0 {
		w.claimBackoff = 100 * time.Millisecond
	}
	if w.maxClaimBackoff < w.claimBackoff {
		w.maxClaimBackoff = w.claimBackoff
	}

	return w
}

// ID returns the worker id used in logs and as the wake-up consumer tag.
func (w *Worker) ID() string {
	return w.workerID
}

// Start runs the worker until ctx is canceled, Stop is called, or the store
// becomes unrecoverable. It blocks until every goroutine has exited and only
// returns an error in the last case.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("batch_size", w.batchSize),
		slog.Int("dispatch_parallelism", w.dispatchParallelism),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Any("handlers", w.registry.Kinds()),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.cancel = cancel

	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-runCtx.Done():
		}
	}()

	if w.wakeups != nil {
		if err := w.startWakeupListener(runCtx); err != nil {
			w.logger.Warn("Wake-ups unavailable, polling only",
				slog.Any("error", err),
			)
		}
	}

	if w.statsSchedule != "" {
		stop, err := w.startStatsReporter(runCtx)
		if err != nil {
			return fmt.Errorf("failed to start stats reporter: %w", err)
		}
		defer stop()
	}

	w.spawnRunners(runCtx)
	w.wg.Wait()

	if w.fatalErr != nil {
		w.logger.Error("Worker halted", slog.Any("error", w.fatalErr))
		return w.fatalErr
	}
	w.logger.Info("Worker context canceled, stopped")
	return nil
}

// Stop gracefully stops the worker. Batches already claimed are dispatched
// before the runners exit.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// halt stops every runner after an unrecoverable store error.
func (w *Worker) halt(err error) {
	w.haltOnce.Do(func() {
		w.fatalErr = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		w.cancel()
	})
}
