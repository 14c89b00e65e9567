package types

import (
	"fmt"
	"path/filepath"
	"time"
)

// JobStatus represents the current status of a copy job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Valid reports whether s is one of the known job statuses
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether a job in this status will never make progress again
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Active reports whether the job is waiting or running
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// Job priorities accepted by the priority command
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// CopyJob represents a server-tracked copy operation
type CopyJob struct {
	ID              int64      `json:"id"`
	SourcePath      string     `json:"source_path"`
	DestinationPath string     `json:"destination_path"`
	Status          JobStatus  `json:"status"`
	Priority        int        `json:"priority"`
	ProgressPercent float64    `json:"progress_percent"`
	TotalBytes      int64      `json:"total_size_bytes"`
	CopiedBytes     int64      `json:"copied_size_bytes"`
	ErrorMessage    *string    `json:"error_message"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at"`

	// Set by servers that match jobs against a media library
	MediaTitle string `json:"media_title,omitempty"`
	MediaYear  int    `json:"media_year,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
}

// Label is a short human readable name for the job
func (j *CopyJob) Label() string {
	if j.MediaTitle != "" {
		if j.MediaYear > 0 {
			return fmt.Sprintf("%s (%d)", j.MediaTitle, j.MediaYear)
		}
		return j.MediaTitle
	}
	return filepath.Base(j.SourcePath)
}

// Event returns the progress notification describing the job's current state
func (j *CopyJob) Event() ProgressEvent {
	return ProgressEvent{
		JobID:           j.ID,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		CopiedBytes:     j.CopiedBytes,
		TotalBytes:      j.TotalBytes,
	}
}

// StartCopyRequest is the body of a copy start request
type StartCopyRequest struct {
	SourcePath      string `json:"source_path" binding:"required"`
	DestinationPath string `json:"destination_path" binding:"required"`
}

// PriorityRequest is the body of a priority change request
type PriorityRequest struct {
	Priority int `json:"priority"`
}

// ReorderRequest lists queued job ids, highest priority first
type ReorderRequest struct {
	JobIDs []int64 `json:"job_ids"`
}

// ReorderResponse reports how many queued jobs were reordered
type ReorderResponse struct {
	Success   bool `json:"success"`
	Reordered int  `json:"reordered"`
}
