package domain

import (
	"database/sql/driver"
	"fmt"
)

// JobStatus mirrors the job_status enum in the jobs table.
type JobStatus string

// Job status constants
const (
	JobStatusQueued  JobStatus = "Queued"
	JobStatusRunning JobStatus = "Running"
	JobStatusFailed  JobStatus = "Failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusRunning,
	JobStatusFailed,
}

func (s JobStatus) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusFailed:
		return true
	}
	return false
}

// ParseJobStatus converts a user supplied string into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown job status %q", s)
	}
	return status, nil
}

// Scan implements sql.Scanner so that an unknown enum label is reported
// instead of being carried around as an arbitrary string.
func (s *JobStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		return fmt.Errorf("job status is NULL")
	default:
		return fmt.Errorf("cannot scan %T into JobStatus", src)
	}

	status, err := ParseJobStatus(raw)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// Value implements driver.Valuer.
func (s JobStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown job status %q", string(s))
	}
	return string(s), nil
}

// Transition is a permitted status change.
type Transition struct {
	From JobStatus
	To   JobStatus
}

// ValidTransitions is the complete state machine. Nothing ever returns to Queued.
var ValidTransitions = []Transition{
	{From: JobStatusQueued, To: JobStatusRunning},
	{From: JobStatusRunning, To: JobStatusFailed},
	// undecodable rows are rejected straight from the queue
	{From: JobStatusQueued, To: JobStatusFailed},
}

// IsValidTransition reports whether from -> to is allowed.
func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
