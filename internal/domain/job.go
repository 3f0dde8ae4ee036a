package domain

import "time"

// JobStatus enumerates queue entry lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// DefaultMaxAttempts bounds the attempts counter when a request does not override it.
const DefaultMaxAttempts = 3

// Job is one generation attempt for exactly one Creative.
type Job struct {
	ID                    string
	Seq                   int64
	CreativeID            string
	Status                JobStatus
	Attempts              int
	MaxAttempts           int
	Priority              int
	ErrorMessage          *string
	CreatedAt             time.Time
	AvailableAt           time.Time
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
}

// Terminal reports whether the job can no longer change without a requeue.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// NextAttempts returns the attempts counter after a successful claim, capped at MaxAttempts.
func (j Job) NextAttempts() int {
	limit := j.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	if j.Attempts+1 > limit {
		return limit
	}
	return j.Attempts + 1
}
