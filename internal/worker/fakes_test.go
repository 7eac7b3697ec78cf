package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/shared/mailer"
	"github.com/cuongbtq/jobqueue/shared/rabbitmq"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory JobStore that claims in id order.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	queued    []domain.Job
	running   map[int64]domain.Job
	failed    map[int64]string
	rejected  map[int64]string
	claimErrs []error
	claims    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		running:  make(map[int64]domain.Job),
		failed:   make(map[int64]string),
		rejected: make(map[int64]string),
	}
}

func (f *fakeStore) InsertJobs(ctx context.Context, jobs []domain.NewJob) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int64, 0, len(jobs))
	for _, j := range jobs {
		f.nextID++
		f.queued = append(f.queued, domain.Job{
			ID:      f.nextID,
			Status:  domain.JobStatusQueued,
			Payload: j.Payload,
			Params:  j.Params,
		})
		ids = append(ids, f.nextID)
	}
	return ids, nil
}

func (f *fakeStore) ClaimJobs(ctx context.Context, batchSize int) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.claims++
	if len(f.claimErrs) > 0 {
		err := f.claimErrs[0]
		f.claimErrs = f.claimErrs[1:]
		return nil, err
	}

	n := min(batchSize, len(f.queued))
	jobs := make([]domain.Job, n)
	copy(jobs, f.queued[:n])
	f.queued = f.queued[n:]
	for i := range jobs {
		jobs[i].Status = domain.JobStatusRunning
		f.running[jobs[i].ID] = jobs[i]
	}
	return jobs, nil
}

func (f *fakeStore) MarkJobFailed(ctx context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.running[id]; !ok {
		if _, done := f.failed[id]; done {
			return domain.ErrInvalidTransition
		}
		return domain.ErrJobNotFound
	}
	delete(f.running, id)
	f.failed[id] = reason
	return nil
}

func (f *fakeStore) RejectJob(ctx context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.rejected[id]; ok {
		return domain.ErrInvalidTransition
	}
	f.rejected[id] = reason
	return nil
}

func (f *fakeStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return map[domain.JobStatus]int{
		domain.JobStatusQueued:  len(f.queued),
		domain.JobStatusRunning: len(f.running),
		domain.JobStatusFailed:  len(f.failed) + len(f.rejected),
	}, nil
}

func (f *fakeStore) snapshot() (queued, running, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued), len(f.running), len(f.failed)
}

func (f *fakeStore) runningJob(id int64) (domain.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.running[id]
	return j, ok
}

func (f *fakeStore) failureReason(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed[id]
}

func (f *fakeStore) rejectionReason(id int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rejected[id]
	return r, ok
}

func (f *fakeStore) claimCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims
}

// fakeMailer records every message it is asked to send.
type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) messages() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

// fakeWakeups hands out a single channel driven by the test.
type fakeWakeups struct {
	ch chan rabbitmq.Wakeup
}

func (f *fakeWakeups) Subscribe(consumerTag string) (<-chan rabbitmq.Wakeup, error) {
	return f.ch, nil
}
