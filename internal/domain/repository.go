package domain

import (
	"context"
	"time"
)

// JobRepository persists queue entries. Every state change is a conditional
// write so concurrent consumers never double-process a job.
type JobRepository interface {
	// NextPending returns the oldest available pending job, ties broken by
	// insertion sequence. ErrNoPendingJob is returned when the queue is empty.
	NextPending(ctx context.Context) (*Job, error)
	// Claim moves a job from pending to processing. It reports false when the
	// row was no longer pending at write time.
	Claim(ctx context.Context, jobID string, attempts int) (bool, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, message string) error
	// Requeue moves a failed job back to pending, available after availableAt.
	Requeue(ctx context.Context, jobID string, availableAt time.Time) (bool, error)
	GetByID(ctx context.Context, jobID string) (*Job, error)
}

// CreativeRepository persists creatives.
type CreativeRepository interface {
	GetByID(ctx context.Context, creativeID string) (*Creative, error)
	MarkProcessing(ctx context.Context, creativeID string) error
	Complete(ctx context.Context, creativeID string, resultURL string, processedAt time.Time) error
	Fail(ctx context.Context, creativeID string, message string) error
	MarkQueued(ctx context.Context, creativeID string) error
	ListByRequest(ctx context.Context, requestID string) ([]Creative, error)
}

// RequestSnapshot is the stored parent status next to its current children.
type RequestSnapshot struct {
	RequestID string
	Status    RequestStatus
	Children  []CreativeStatus
}

// RequestRepository persists creative requests and their derived status.
type RequestRepository interface {
	// Create inserts the request with one creative and one job per format.
	Create(ctx context.Context, req *CreativeRequest, creatives []Creative, jobs []Job) error
	GetByID(ctx context.Context, requestID string) (*CreativeRequest, error)
	// ListByOwner returns the owner's most recent requests, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]CreativeRequest, error)
	ChildStatuses(ctx context.Context, requestID string) ([]CreativeStatus, error)
	// UpdateStatus writes status only when it differs from the stored value
	// and reports whether a row changed.
	UpdateStatus(ctx context.Context, requestID string, status RequestStatus) (bool, error)
	// MarkProcessing moves a pending request to processing once a child has
	// been claimed. It never touches a request in any other status.
	MarkProcessing(ctx context.Context, requestID string) (bool, error)
	// Snapshots pages through requests ordered by id, starting after afterID.
	Snapshots(ctx context.Context, afterID string, limit int) ([]RequestSnapshot, error)
}

// ProfileRepository persists user profiles.
type ProfileRepository interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	Update(ctx context.Context, userID string, patch ProfilePatch) (*Profile, error)
	SetAvatar(ctx context.Context, userID, url, path string) (*Profile, error)
	ClearAvatar(ctx context.Context, userID string) (*Profile, error)
}
