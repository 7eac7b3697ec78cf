package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Scan(t *testing.T) {
	tests := []struct {
		name    string
		src     any
		want    JobStatus
		wantErr bool
	}{
		{name: "string", src: "Queued", want: JobStatusQueued},
		{name: "bytes", src: []byte("Running"), want: JobStatusRunning},
		{name: "failed", src: "Failed", want: JobStatusFailed},
		{name: "unknown label", src: "Completed", wantErr: true},
		{name: "wrong case", src: "queued", wantErr: true},
		{name: "null", src: nil, wantErr: true},
		{name: "integer", src: int64(1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s JobStatus
			err := s.Scan(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestJobStatus_Value(t *testing.T) {
	v, err := JobStatusRunning.Value()
	require.NoError(t, err)
	assert.Equal(t, "Running", v)

	_, err = JobStatus("Done").Value()
	assert.Error(t, err)
}

func TestParseJobStatus(t *testing.T) {
	for _, s := range AllStatuses {
		parsed, err := ParseJobStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseJobStatus("")
	assert.Error(t, err)
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{from: JobStatusQueued, to: JobStatusRunning, want: true},
		{from: JobStatusRunning, to: JobStatusFailed, want: true},
		{from: JobStatusQueued, to: JobStatusFailed, want: true},
		{from: JobStatusRunning, to: JobStatusQueued, want: false},
		{from: JobStatusFailed, to: JobStatusQueued, want: false},
		{from: JobStatusFailed, to: JobStatusRunning, want: false},
		{from: JobStatusRunning, to: JobStatusRunning, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidTransition(tt.from, tt.to))
		})
	}
}

func TestNothingReturnsToQueued(t *testing.T) {
	for _, tr := range ValidTransitions {
		assert.NotEqual(t, JobStatusQueued, tr.To)
	}
}
