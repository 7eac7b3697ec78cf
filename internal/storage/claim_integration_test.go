//go:build integration

package storage

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/internal/testutil"
)

func newIntegrationStorage(t *testing.T) (*Storage, *sqlx.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	return NewStorage(db, slog.New(slog.NewTextHandler(io.Discard, nil))), db
}

func seedNoop(t *testing.T, s *Storage, n int) []int64 {
	t.Helper()
	jobs := make([]domain.NewJob, n)
	for i := range jobs {
		jobs[i] = domain.NewJob{Payload: domain.NoopPayload{}}
	}
	ids, err := s.InsertJobs(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, ids, n)
	return ids
}

func claimedIDs(jobs []domain.Job) []int64 {
	ids := make([]int64, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

func TestIntegration_SequentialClaims(t *testing.T) {
	s, _ := newIntegrationStorage(t)
	ctx := context.Background()
	seedNoop(t, s, 10)

	first, err := s.ClaimJobs(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, claimedIDs(first))

	second, err := s.ClaimJobs(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 7, 8, 9, 10}, claimedIDs(second))

	third, err := s.ClaimJobs(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestIntegration_ConcurrentClaimsAreDisjoint(t *testing.T) {
	s, _ := newIntegrationStorage(t)
	seedNoop(t, s, 10)

	var (
		wg      sync.WaitGroup
		results [2][]domain.Job
		errs    [2]error
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.ClaimJobs(context.Background(), 5)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	seen := make(map[int64]bool)
	for _, r := range results {
		for _, id := range claimedIDs(r) {
			assert.False(t, seen[id], "job %d claimed twice", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 10)
}

func TestIntegration_NoLossNoDuplicationUnderContention(t *testing.T) {
	s, _ := newIntegrationStorage(t)
	const total, claimers, batch = 200, 8, 7
	seedNoop(t, s, total)

	var (
		mu      sync.Mutex
		claimed []int64
		wg      sync.WaitGroup
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.ClaimJobs(context.Background(), batch)
				if !assert.NoError(t, err) || len(jobs) == 0 {
					return
				}
				mu.Lock()
				claimed = append(claimed, claimedIDs(jobs)...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(claimed, func(i, j int) bool { return claimed[i] < claimed[j] })
	require.Len(t, claimed, total)
	for i, id := range claimed {
		assert.Equal(t, int64(i+1), id)
	}

	counts, err := s.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts[domain.JobStatusQueued])
	assert.Equal(t, total, counts[domain.JobStatusRunning])
}

func TestIntegration_ClaimSkipsLockedRowsWithoutBlocking(t *testing.T) {
	s, db := newIntegrationStorage(t)
	ctx := context.Background()
	seedNoop(t, s, 3)

	// another session holds the lock on the head of the queue
	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, "SELECT id FROM jobs WHERE id = 1 FOR UPDATE")
	require.NoError(t, err)

	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	jobs, err := s.ClaimJobs(claimCtx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, claimedIDs(jobs))

	require.NoError(t, tx.Rollback())
	jobs, err = s.ClaimJobs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, claimedIDs(jobs))
}

func TestIntegration_PoisonRowAbortsClaimAndCanBeRejected(t *testing.T) {
	s, db := newIntegrationStorage(t)
	ctx := context.Background()
	seedNoop(t, s, 1)
	_, err := db.ExecContext(ctx, `INSERT INTO jobs (payload) VALUES ('"SendSMS"'::jsonb)`)
	require.NoError(t, err)

	_, err = s.ClaimJobs(ctx, 5)
	var decodeErr *domain.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, int64(2), decodeErr.JobID)

	// the aborted claim left both rows queued
	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.JobStatusQueued])

	require.NoError(t, s.RejectJob(ctx, decodeErr.JobID, decodeErr.Error()))

	jobs, err := s.ClaimJobs(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, claimedIDs(jobs))

	rejected, err := s.GetJob(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, rejected.Status)
	assert.Nil(t, rejected.Payload)
	assert.NotEmpty(t, rejected.LastError)
}

func TestIntegration_StatusIsMonotonic(t *testing.T) {
	s, db := newIntegrationStorage(t)
	ctx := context.Background()
	seedNoop(t, s, 2)

	jobs, err := s.ClaimJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, s.MarkJobFailed(ctx, 1, "handler error"))
	assert.ErrorIs(t, s.MarkJobFailed(ctx, 1, "again"), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkJobFailed(ctx, 2, "not running"), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkJobFailed(ctx, 99, "missing"), domain.ErrJobNotFound)

	// the schema refuses direct writes that break the lifecycle
	_, err = db.ExecContext(ctx, "UPDATE jobs SET status = 'Queued' WHERE id = 1")
	assert.Error(t, err)
	_, err = db.ExecContext(ctx, "UPDATE jobs SET status = 'Running' WHERE id = 1")
	assert.Error(t, err)
	_, err = db.ExecContext(ctx, `UPDATE jobs SET payload = '{"SendEmail":{"email":"x@example.com"}}'::jsonb WHERE id = 2`)
	assert.Error(t, err)

	require.NoError(t, s.RejectJob(ctx, 2, "operator reject"))
	assert.ErrorIs(t, s.RejectJob(ctx, 2, "twice"), domain.ErrInvalidTransition)
}

func TestIntegration_Fairness(t *testing.T) {
	s, _ := newIntegrationStorage(t)
	ctx := context.Background()
	seedNoop(t, s, 30)

	// with a single claimer every batch is the lowest queued ids
	for start := int64(1); start <= 30; start += 10 {
		jobs, err := s.ClaimJobs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 10)
		assert.Equal(t, start, jobs[0].ID)
		assert.Equal(t, start+9, jobs[9].ID)
	}
}

func TestIntegration_SeedScenario(t *testing.T) {
	s, _ := newIntegrationStorage(t)
	ctx := context.Background()

	ids, err := s.InsertJobs(ctx, domain.SeedJobs())
	require.NoError(t, err)
	require.Len(t, ids, 20)

	var (
		wg      sync.WaitGroup
		results [2][]domain.Job
		errs    [2]error
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.ClaimJobs(ctx, 5)
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	batches := [][]int64{claimedIDs(results[0]), claimedIDs(results[1])}
	sort.Slice(batches, func(i, j int) bool { return batches[i][0] < batches[j][0] })
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, batches[0])
	assert.Equal(t, []int64{6, 7, 8, 9, 10}, batches[1])

	var seventh domain.Job
	for _, job := range append(results[0], results[1]...) {
		if job.ID == 7 {
			seventh = job
		}
	}
	dj, err := domain.Convert(seventh)
	require.NoError(t, err)
	assert.Equal(t, "BATCH(2)", dj.Identifier)
	assert.Equal(t, domain.JobStatusRunning, dj.Status)
	assert.Equal(t, domain.NoopPayload{}, dj.Payload)
	assert.Equal(t, domain.FollowUpParams{Enabled: true}, dj.Params)
}

func TestIntegration_RoundTripsEveryVariant(t *testing.T) {
	tests := []struct {
		name string
		job  domain.NewJob
	}{
		{name: "noop without params", job: domain.NewJob{Payload: domain.NoopPayload{}}},
		{name: "noop with noop params", job: domain.NewJob{Payload: domain.NoopPayload{}, Params: domain.NoopParams{}}},
		{name: "noop with follow-up", job: domain.NewJob{Payload: domain.NoopPayload{}, Params: domain.FollowUpParams{Enabled: true}}},
		{name: "email without params", job: domain.NewJob{Payload: domain.SendEmailPayload{Email: domain.SeedEmail}}},
		{name: "email with follow-up off", job: domain.NewJob{Payload: domain.SendEmailPayload{Email: domain.SeedEmail}, Params: domain.FollowUpParams{Enabled: false}}},
	}

	s, _ := newIntegrationStorage(t)
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := s.InsertJobs(ctx, []domain.NewJob{tt.job})
			require.NoError(t, err)
			require.Len(t, ids, 1)

			stored, err := s.GetJob(ctx, ids[0])
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusQueued, stored.Status)
			assert.Equal(t, tt.job.Payload, stored.Payload)
			assert.Equal(t, tt.job.Params, stored.Params)

			claimed, err := s.ClaimJobs(ctx, 1)
			require.NoError(t, err)
			require.Len(t, claimed, 1)
			assert.Equal(t, ids[0], claimed[0].ID)
			assert.Equal(t, tt.job.Payload, claimed[0].Payload)
			assert.Equal(t, tt.job.Params, claimed[0].Params)
		})
	}
}
