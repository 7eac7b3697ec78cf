package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobqueue/internal/api/dto"
	"github.com/cuongbtq/jobqueue/internal/api/handler"
	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/internal/storage"
	"github.com/cuongbtq/jobqueue/shared/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memStore is an in-memory handler.JobStore.
type memStore struct {
	mu       sync.Mutex
	jobs     []domain.Job
	err      error
	claimErr error
	lastList storage.JobFilter
}

func (s *memStore) InsertJobs(ctx context.Context, jobs []domain.NewJob) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ids := make([]int64, len(jobs))
	for i, j := range jobs {
		id := int64(len(s.jobs) + 1)
		s.jobs = append(s.jobs, domain.Job{ID: id, Status: domain.JobStatusQueued, Payload: j.Payload, Params: j.Params})
		ids[i] = id
	}
	return ids, nil
}

func (s *memStore) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if id < 1 || id > int64(len(s.jobs)) {
		return nil, domain.ErrJobNotFound
	}
	job := s.jobs[id-1]
	return &job, nil
}

func (s *memStore) ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastList = filter
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Job
	for _, j := range s.jobs {
		if j.ID <= filter.AfterID || (filter.Status != "" && j.Status != filter.Status) {
			continue
		}
		out = append(out, j)
		if len(out) == filter.PageSize+1 {
			break
		}
	}
	return out, nil
}

func (s *memStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	counts := map[domain.JobStatus]int{}
	for _, st := range domain.AllStatuses {
		counts[st] = 0
	}
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (s *memStore) ClaimJobs(ctx context.Context, batchSize int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	var out []domain.Job
	for i := range s.jobs {
		if len(out) == batchSize {
			break
		}
		if s.jobs[i].Status == domain.JobStatusQueued {
			s.jobs[i].Status = domain.JobStatusRunning
			out = append(out, s.jobs[i])
		}
	}
	return out, nil
}

func (s *memStore) MarkJobFailed(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.jobs)) {
		return domain.ErrJobNotFound
	}
	if s.jobs[id-1].Status != domain.JobStatusRunning {
		return domain.ErrInvalidTransition
	}
	s.jobs[id-1].Status = domain.JobStatusFailed
	s.jobs[id-1].LastError = reason
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	counts []int
	err    error
}

func (p *recordingPublisher) PublishWakeup(ctx context.Context, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts = append(p.counts, count)
	return p.err
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type testServer struct {
	engine    *gin.Engine
	store     *memStore
	publisher *recordingPublisher
	metrics   *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		store:     &memStore{},
		publisher: &recordingPublisher{},
		metrics:   metrics.New(),
	}
	ts.engine = SetupRouter(&handler.Dependencies{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:   ts.store,
		Health:  healthFunc(func(ctx context.Context) error { return nil }),
		Metrics: ts.metrics,
		Wakeups: ts.publisher,
	})
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func (ts *testServer) seed(t *testing.T, n int) {
	t.Helper()
	jobs := make([]domain.NewJob, n)
	for i := range jobs {
		jobs[i] = domain.NewJob{Payload: domain.NoopPayload{}}
	}
	_, err := ts.store.InsertJobs(context.Background(), jobs)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	unhealthy := SetupRouter(&handler.Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:  &memStore{},
		Health: healthFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})
	w = httptest.NewRecorder()
	unhealthy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/v1/jobs", `{"jobs":[{"payload":"NOOP"}]}`)

	w := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jobqueue_jobs_enqueued_total 1")
}

func TestCreateJobs(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/jobs", `{"jobs":[
		{"payload":"NOOP"},
		{"payload":{"SendEmail":{"email":"user@example.com"}},"params":{"FollowUp":true}}
	]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.CreateJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []int64{1, 2}, resp.IDs)

	job, err := ts.store.GetJob(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, domain.SendEmailPayload{Email: "user@example.com"}, job.Payload)
	assert.Equal(t, domain.FollowUpParams{Enabled: true}, job.Params)

	assert.Equal(t, []int{2}, ts.publisher.counts)
	assert.Equal(t, float64(2), testutil.ToFloat64(ts.metrics.JobsEnqueued))
}

func TestCreateJobs_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"jobs":`},
		{name: "no jobs", body: `{"jobs":[]}`},
		{name: "missing payload", body: `{"jobs":[{"params":"NOOP"}]}`},
		{name: "unknown payload tag", body: `{"jobs":[{"payload":"SendSMS"}]}`},
		{name: "email without address", body: `{"jobs":[{"payload":{"SendEmail":{}}}]}`},
		{name: "follow up not boolean", body: `{"jobs":[{"payload":"NOOP","params":{"FollowUp":"yes"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, ts.store.jobs)
			assert.Empty(t, ts.publisher.counts)
		})
	}
}

func TestCreateJobs_WakeupFailureStillCreates(t *testing.T) {
	ts := newTestServer(t)
	ts.publisher.err = errors.New("channel closed")

	w := ts.do(http.MethodPost, "/api/v1/jobs", `{"jobs":[{"payload":"NOOP"}]}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateJobs_StoreUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.store.err = &domain.ConnectionError{Op: "insert jobs", Err: io.EOF}

	w := ts.do(http.MethodPost, "/api/v1/jobs", `{"jobs":[{"payload":"NOOP"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 4)

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{name: "found", path: "/api/v1/jobs/4", wantCode: http.StatusOK},
		{name: "not found", path: "/api/v1/jobs/99", wantCode: http.StatusNotFound},
		{name: "not a number", path: "/api/v1/jobs/abc", wantCode: http.StatusBadRequest},
		{name: "negative", path: "/api/v1/jobs/-1", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	w := ts.do(http.MethodGet, "/api/v1/jobs/4", "")
	var job dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, int64(4), job.ID)
	assert.Equal(t, "BATCH(1)", job.Identifier)
	assert.Equal(t, "Queued", job.Status)
	assert.JSONEq(t, `"NOOP"`, string(job.Payload))
}

func TestListJobs_Pagination(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 5)

	var seen []int64
	cursor := ""
	for page := 0; page < 5; page++ {
		path := "/api/v1/jobs?page_size=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		w := ts.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, j := range resp.Jobs {
			seen = append(seen, j.ID)
		}
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
}

func TestListJobs_Params(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		wantCode     int
		wantPageSize int
		wantStatus   domain.JobStatus
	}{
		{name: "defaults", query: "", wantCode: http.StatusOK, wantPageSize: 20},
		{name: "capped", query: "?page_size=1000", wantCode: http.StatusOK, wantPageSize: 100},
		{name: "status filter", query: "?status=Running", wantCode: http.StatusOK, wantPageSize: 20, wantStatus: domain.JobStatusRunning},
		{name: "unknown status", query: "?status=Done", wantCode: http.StatusBadRequest},
		{name: "bad cursor", query: "?cursor=xyz", wantCode: http.StatusBadRequest},
		{name: "bad page size", query: "?page_size=ten", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(http.MethodGet, "/api/v1/jobs"+tt.query, "")
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantPageSize, ts.store.lastList.PageSize)
				assert.Equal(t, tt.wantStatus, ts.store.lastList.Status)
			}
		})
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 3)
	_, err := ts.store.ClaimJobs(context.Background(), 1)
	require.NoError(t, err)

	w := ts.do(http.MethodGet, "/api/v1/jobs/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, map[string]int{"Queued": 2, "Running": 1, "Failed": 0}, resp.Counts)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, float64(2), testutil.ToFloat64(ts.metrics.JobsByStatus.WithLabelValues("Queued")))
}

func TestClaimJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 3)

	w := ts.do(http.MethodPost, "/api/v1/jobs/claim", `{"batch_size":2}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ClaimJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, int64(1), resp.Jobs[0].ID)
	assert.Equal(t, "Running", resp.Jobs[0].Status)
	assert.Equal(t, float64(2), testutil.ToFloat64(ts.metrics.JobsClaimed))

	w = ts.do(http.MethodPost, "/api/v1/jobs/claim", `{"batch_size":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClaimJobs_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{
			name:     "undecodable row",
			err:      &domain.DecodeError{Column: "payload", JobID: 9, Tag: "SendSMS", Err: errors.New("unknown variant")},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "connection lost",
			err:      &domain.ConnectionError{Op: "claim", Err: io.EOF},
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "transaction aborted",
			err:      &domain.TransactionError{Op: "claim", Err: errors.New("deadlock detected")},
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.store.claimErr = tt.err

			w := ts.do(http.MethodPost, "/api/v1/jobs/claim", `{"batch_size":1}`)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestFailJob(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 2)
	_, err := ts.store.ClaimJobs(context.Background(), 1)
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{name: "running job", path: "/api/v1/jobs/1/fail", body: `{"reason":"smtp timeout"}`, wantCode: http.StatusOK},
		{name: "already failed", path: "/api/v1/jobs/1/fail", body: `{"reason":"again"}`, wantCode: http.StatusConflict},
		{name: "still queued", path: "/api/v1/jobs/2/fail", body: `{"reason":"x"}`, wantCode: http.StatusConflict},
		{name: "unknown job", path: "/api/v1/jobs/50/fail", body: `{"reason":"x"}`, wantCode: http.StatusNotFound},
		{name: "missing reason", path: "/api/v1/jobs/1/fail", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "bad id", path: "/api/v1/jobs/one/fail", body: `{"reason":"x"}`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}

	job, err := ts.store.GetJob(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "smtp timeout", job.LastError)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.JobsFailed))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodOptions, "/api/v1/jobs", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
