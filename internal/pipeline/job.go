package pipeline

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidUpload marks input errors rejected before a job exists.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrInvalidSource marks structural problems with the record source.
	ErrInvalidSource = errors.New("invalid source")
	// ErrInvalidTransition is returned when a delta would move a job backwards.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrQueueClosed is returned by a Queue that has been shut down and drained.
	ErrQueueClosed = errors.New("queue closed")
)

// NewJob builds the initial accepted snapshot.
func NewJob(id, filename string, now time.Time) Job {
	return Job{
		ID:        id,
		Status:    JobStatusAccepted,
		Filename:  filename,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Percent derives the progress percentage. Only completed jobs report 100.
func Percent(status JobStatus, processed, total int64) int {
	if status == JobStatusCompleted {
		return 100
	}
	if total <= 0 || processed <= 0 {
		return 0
	}
	pct := processed * 100 / total
	if pct > 99 {
		pct = 99
	}
	return int(pct)
}

// Apply merges d into job and returns the new snapshot. A terminal job is
// returned unchanged with changed=false.
func Apply(job Job, d Delta, now time.Time) (Job, bool, error) {
	if job.Status.Terminal() {
		return job, false, nil
	}
	if d.Status != nil && *d.Status != job.Status {
		if !canTransition(job.Status, *d.Status) {
			return job, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, *d.Status)
		}
		job.Status = *d.Status
	}
	if d.Total != nil && *d.Total >= 0 {
		job.TotalRecords = *d.Total
	}
	if d.Processed != nil && *d.Processed > job.ProcessedRecords {
		job.ProcessedRecords = *d.Processed
	}
	if d.RowErrors != nil && *d.RowErrors > job.RowErrors {
		job.RowErrors = *d.RowErrors
	}
	if d.Message != nil {
		job.Message = *d.Message
	}
	if job.Status == JobStatusCompleted {
		job.TotalRecords = job.ProcessedRecords
	}
	job.Progress = Percent(job.Status, job.ProcessedRecords, job.TotalRecords)
	job.UpdatedAt = now
	return job, true, nil
}

func canTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusAccepted:
		return to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}

// StatusPtr returns a pointer to s for building a Delta inline.
func StatusPtr(s JobStatus) *JobStatus { return &s }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
