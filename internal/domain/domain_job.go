package domain

import (
	"fmt"
	"math"

	"go.uber.org/multierr"
)

// batchWidth is how many consecutive ids share one identifier label.
const batchWidth = 3

// DomainJob is the read-only, handler-facing view of a claimed job.
type DomainJob struct {
	Identifier string
	Status     JobStatus
	Payload    Payload
	Params     Params
}

// Convert narrows job into a DomainJob. It fails with *RangeError when the
// id does not fit the uint32 identifier space. Convert never touches the store.
func Convert(job Job) (DomainJob, error) {
	if job.ID < 0 || job.ID > math.MaxUint32 {
		return DomainJob{}, &RangeError{JobID: job.ID}
	}
	nid := uint32(job.ID)

	return DomainJob{
		Identifier: fmt.Sprintf("BATCH(%d)", nid/batchWidth),
		Status:     job.Status,
		Payload:    job.Payload,
		Params:     job.Params,
	}, nil
}

// ConvertAll converts every job it can. Jobs that fail conversion are left
// out of the result and reported in the returned error, one *RangeError per
// job (see multierr.Errors).
func ConvertAll(jobs []Job) ([]DomainJob, error) {
	converted := make([]DomainJob, 0, len(jobs))
	var errs error
	for _, job := range jobs {
		dj, err := Convert(job)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		converted = append(converted, dj)
	}
	return converted, errs
}
