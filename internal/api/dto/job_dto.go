package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/jobqueue/internal/domain"
)

// NewJobRequest is one job in an enqueue request. Payload and params use
// the stored wire form, e.g. "NOOP" or {"SendEmail":{"email":"a@b.c"}}.
type NewJobRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type CreateJobsRequest struct {
	Jobs []NewJobRequest `json:"jobs" binding:"required,min=1,dive"`
}

type CreateJobsResponse struct {
	IDs []int64 `json:"ids"`
}

// ToNewJobs decodes every job of the request. The first undecodable job
// stops the conversion and its index is reported.
func (r *CreateJobsRequest) ToNewJobs() ([]domain.NewJob, error) {
	jobs := make([]domain.NewJob, 0, len(r.Jobs))
	for i, j := range r.Jobs {
		payload, err := domain.DecodePayload(j.Payload)
		if err != nil {
			return nil, fmt.Errorf("jobs[%d]: %w", i, err)
		}

		var params domain.Params
		if !isNull(j.Params) {
			if params, err = domain.DecodeParams(j.Params); err != nil {
				return nil, fmt.Errorf("jobs[%d]: %w", i, err)
			}
		}

		jobs = append(jobs, domain.NewJob{Payload: payload, Params: params})
	}
	return jobs, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type ClaimJobsRequest struct {
	BatchSize int `json:"batch_size" binding:"required,gt=0"`
}

type ClaimJobsResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

type FailJobRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type StatsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

type JobDTO struct {
	ID         int64           `json:"id"`
	Identifier string          `json:"identifier,omitempty"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload"`
	Params     json.RawMessage `json:"params,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

// FromJob renders job with its stored payload and params bytes. The
// identifier is left empty when the id does not convert.
func FromJob(job domain.Job) JobDTO {
	dto := JobDTO{
		ID:        job.ID,
		Status:    job.Status.String(),
		Payload:   job.RawPayload,
		Params:    job.RawParams,
		LastError: job.LastError,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	if dto.Payload == nil && job.Payload != nil {
		dto.Payload, _ = domain.EncodePayload(job.Payload)
	}
	if dto.Params == nil && job.Params != nil {
		dto.Params, _ = domain.EncodeParams(job.Params)
	}
	if dj, err := domain.Convert(job); err == nil {
		dto.Identifier = dj.Identifier
	}
	return dto
}

func FromJobs(jobs []domain.Job) []JobDTO {
	out := make([]JobDTO, len(jobs))
	for i, j := range jobs {
		out[i] = FromJob(j)
	}
	return out
}
