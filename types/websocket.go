package types

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrMalformedEvent is returned when a progress frame cannot be decoded
var ErrMalformedEvent = errors.New("malformed progress event")

// ProgressEvent represents a pushed progress update for one copy job
type ProgressEvent struct {
	JobID           int64     `json:"job_id"`
	Status          JobStatus `json:"status"`
	ProgressPercent float64   `json:"progress_percent"` // 0-100
	CopiedBytes     int64     `json:"copied_size_bytes"`
	TotalBytes      int64     `json:"total_size_bytes"`
}

// RemainingBytes may be negative when the server corrected the total downwards
func (e ProgressEvent) RemainingBytes() int64 {
	return e.TotalBytes - e.CopiedBytes
}

// wireEvent mirrors ProgressEvent with pointers so missing fields are detectable
type wireEvent struct {
	JobID           *int64     `json:"job_id"`
	Status          *JobStatus `json:"status"`
	ProgressPercent *float64   `json:"progress_percent"`
	CopiedBytes     *int64     `json:"copied_size_bytes"`
	TotalBytes      *int64     `json:"total_size_bytes"`
}

// DecodeProgressEvent parses a stream frame. Every field is required.
func DecodeProgressEvent(data []byte) (ProgressEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return ProgressEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch {
	case w.JobID == nil:
		return ProgressEvent{}, fmt.Errorf("%w: missing job_id", ErrMalformedEvent)
	case w.Status == nil:
		return ProgressEvent{}, fmt.Errorf("%w: missing status", ErrMalformedEvent)
	case w.ProgressPercent == nil:
		return ProgressEvent{}, fmt.Errorf("%w: missing progress_percent", ErrMalformedEvent)
	case w.CopiedBytes == nil:
		return ProgressEvent{}, fmt.Errorf("%w: missing copied_size_bytes", ErrMalformedEvent)
	case w.TotalBytes == nil:
		return ProgressEvent{}, fmt.Errorf("%w: missing total_size_bytes", ErrMalformedEvent)
	}

	if !w.Status.Valid() {
		return ProgressEvent{}, fmt.Errorf("%w: unknown status %q", ErrMalformedEvent, *w.Status)
	}
	if *w.ProgressPercent < 0 || *w.ProgressPercent > 100 {
		return ProgressEvent{}, fmt.Errorf("%w: progress_percent %v out of range", ErrMalformedEvent, *w.ProgressPercent)
	}
	if *w.CopiedBytes < 0 || *w.TotalBytes < 0 {
		return ProgressEvent{}, fmt.Errorf("%w: negative byte count", ErrMalformedEvent)
	}

	return ProgressEvent{
		JobID:           *w.JobID,
		Status:          *w.Status,
		ProgressPercent: *w.ProgressPercent,
		CopiedBytes:     *w.CopiedBytes,
		TotalBytes:      *w.TotalBytes,
	}, nil
}
