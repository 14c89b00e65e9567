package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProgressEvent(t *testing.T) {
	raw := `{"job_id":42,"status":"processing","progress_percent":20,"copied_size_bytes":2000000,"total_size_bytes":10000000}`

	ev, err := DecodeProgressEvent([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, int64(42), ev.JobID)
	assert.Equal(t, JobStatusProcessing, ev.Status)
	assert.Equal(t, 20.0, ev.ProgressPercent)
	assert.Equal(t, int64(2_000_000), ev.CopiedBytes)
	assert.Equal(t, int64(10_000_000), ev.TotalBytes)
	assert.Equal(t, int64(8_000_000), ev.RemainingBytes())
}

func TestDecodeProgressEventMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `progress!`},
		{"array", `[1,2,3]`},
		{"missing job id", `{"status":"queued","progress_percent":0,"copied_size_bytes":0,"total_size_bytes":0}`},
		{"missing status", `{"job_id":1,"progress_percent":0,"copied_size_bytes":0,"total_size_bytes":0}`},
		{"missing percent", `{"job_id":1,"status":"queued","copied_size_bytes":0,"total_size_bytes":0}`},
		{"missing copied", `{"job_id":1,"status":"queued","progress_percent":0,"total_size_bytes":0}`},
		{"missing total", `{"job_id":1,"status":"queued","progress_percent":0,"copied_size_bytes":0}`},
		{"unknown status", `{"job_id":1,"status":"paused","progress_percent":0,"copied_size_bytes":0,"total_size_bytes":0}`},
		{"percent over 100", `{"job_id":1,"status":"processing","progress_percent":101,"copied_size_bytes":0,"total_size_bytes":0}`},
		{"negative bytes", `{"job_id":1,"status":"processing","progress_percent":1,"copied_size_bytes":-5,"total_size_bytes":0}`},
		{"wrong type", `{"job_id":"one","status":"queued","progress_percent":0,"copied_size_bytes":0,"total_size_bytes":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeProgressEvent([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestDecodeProgressEventAllowsOvershoot(t *testing.T) {
	raw := `{"job_id":7,"status":"processing","progress_percent":99,"copied_size_bytes":120,"total_size_bytes":100}`

	ev, err := DecodeProgressEvent([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, int64(-20), ev.RemainingBytes())
}

func TestJobStatus(t *testing.T) {
	assert.True(t, JobStatusQueued.Active())
	assert.True(t, JobStatusProcessing.Active())
	assert.False(t, JobStatusCompleted.Active())

	for _, s := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		assert.True(t, s.Terminal(), s)
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, JobStatus("paused").Valid())
}
