package domain

import "time"

// Job is one row of the jobs table with its payload and params decoded.
type Job struct {
	ID        int64
	Status    JobStatus
	Payload   Payload
	Params    Params // nil when the row has no params
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Stored bytes, as read. Rejected rows keep them for inspection even
	// though Payload or Params could not be decoded.
	RawPayload []byte
	RawParams  []byte
}

// NewJob is a job as submitted by a producer. The store assigns the id and
// the initial Queued status.
type NewJob struct {
	Payload Payload
	Params  Params
}
