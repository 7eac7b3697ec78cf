package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobqueue/internal/api/dto"
	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJobs handles POST /api/v1/jobs
// Enqueues every job of the request in one insert and wakes idle workers.
func (h *JobHandler) CreateJobs(c *gin.Context) {
	var req dto.CreateJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobs, err := req.ToNewJobs()
	if err != nil {
		h.logger.Warn("Rejected undecodable job", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	ids, err := h.store.InsertJobs(ctx, jobs)
	if err != nil {
		h.logger.Error("Failed to enqueue jobs", slog.String("error", err.Error()))
		c.JSON(statusForStoreError(err), gin.H{
			"error": "Failed to enqueue jobs",
		})
		return
	}
	h.metrics.JobsEnqueued.Add(float64(len(ids)))

	h.logger.Info("Jobs enqueued", slog.Int("count", len(ids)), slog.Any("ids", ids))

	// polling still picks the jobs up if the wake-up is lost
	if h.wakeups != nil {
		if err := h.wakeups.PublishWakeup(ctx, len(ids)); err != nil {
			h.logger.Warn("Failed to publish wake-up", slog.String("error", err.Error()))
		}
	}

	c.JSON(http.StatusCreated, dto.CreateJobsResponse{IDs: ids})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.Int64("job_id", id), slog.String("error", err.Error()))
		c.JSON(statusForStoreError(err), gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(*job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs in id order with optional status filter and keyset pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	var status domain.JobStatus
	if req.Status != "" {
		var err error
		if status, err = domain.ParseJobStatus(req.Status); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
	}

	afterID, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), storage.JobFilter{
		Status:   status,
		AfterID:  afterID,
		PageSize: req.PageSize,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(statusForStoreError(err), gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	var nextCursor string
	if hasMore {
		nextCursor = EncodeJobCursor(jobs[len(jobs)-1].ID)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       dto.FromJobs(jobs),
		NextCursor: nextCursor,
	})
}

// Stats handles GET /api/v1/jobs/stats
func (h *JobHandler) Stats(c *gin.Context) {
	counts, err := h.store.CountByStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count jobs", slog.String("error", err.Error()))
		c.JSON(statusForStoreError(err), gin.H{
			"error": "Failed to count jobs",
		})
		return
	}

	resp := dto.StatsResponse{Counts: make(map[string]int, len(counts))}
	for status, n := range counts {
		resp.Counts[status.String()] = n
		resp.Total += n
	}
	h.metrics.SetStatusCounts(resp.Counts)

	c.JSON(http.StatusOK, resp)
}

// ClaimJobs handles POST /api/v1/jobs/claim
// Claims a batch on behalf of a remote worker. Claimed jobs are Running
// when the response is sent; the caller reports failures through FailJob.
func (h *JobHandler) ClaimJobs(c *gin.Context) {
	var req dto.ClaimJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobs, err := h.store.ClaimJobs(c.Request.Context(), req.BatchSize)
	if err != nil {
		var decodeErr *domain.DecodeError
		if errors.As(err, &decodeErr) {
			h.logger.Error("Claim aborted by undecodable job",
				slog.Int64("job_id", decodeErr.JobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  err.Error(),
				"job_id": decodeErr.JobID,
			})
			return
		}

		h.logger.Error("Failed to claim jobs", slog.String("error", err.Error()))
		c.JSON(statusForStoreError(err), gin.H{
			"error": "Failed to claim jobs",
		})
		return
	}
	h.metrics.JobsClaimed.Add(float64(len(jobs)))

	c.JSON(http.StatusOK, dto.ClaimJobsResponse{Jobs: dto.FromJobs(jobs)})
}

// FailJob handles POST /api/v1/jobs/:job_id/fail
// Records a handler failure for a Running job.
func (h *JobHandler) FailJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	var req dto.FailJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "reason is required",
		})
		return
	}

	err := h.store.MarkJobFailed(c.Request.Context(), id, req.Reason)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Job is not running",
		})
		return
	default:
		h.logger.Error("Failed to mark job failed", slog.Int64("job_id", id), slog.String("error", err.Error()))
		c.JSON(statusForStoreError(err), gin.H{
			"error": "Failed to mark job failed",
		})
		return
	}
	h.metrics.JobsFailed.Inc()

	h.logger.Info("Job marked failed", slog.Int64("job_id", id), slog.String("reason", req.Reason))
	c.JSON(http.StatusOK, gin.H{
		"id":     id,
		"status": domain.JobStatusFailed.String(),
	})
}

// jobID parses the :job_id path parameter, answering 400 when it is not a
// positive integer.
func (h *JobHandler) jobID(c *gin.Context) (int64, bool) {
	raw := c.Param("job_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.logger.Error("Invalid job_id format", slog.String("job_id", raw))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

// statusForStoreError maps a lost store connection to 503, anything else to 500.
func statusForStoreError(err error) int {
	var connErr *domain.ConnectionError
	if errors.As(err, &connErr) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
