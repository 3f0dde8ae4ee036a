package domain

import (
	"time"

	"creativehub/internal/domain/jsoncfg"
)

// CreativeStatus enumerates the lifecycle of a single generated asset.
type CreativeStatus string

const (
	CreativeStatusDraft      CreativeStatus = "draft"
	CreativeStatusQueued     CreativeStatus = "queued"
	CreativeStatusProcessing CreativeStatus = "processing"
	CreativeStatusCompleted  CreativeStatus = "completed"
	CreativeStatusFailed     CreativeStatus = "failed"
)

// RequestStatus enumerates the derived status of a CreativeRequest.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusPartial    RequestStatus = "partial"
	RequestStatusFailed     RequestStatus = "failed"
)

// Creative is one generated artifact, possibly one format of a larger request.
//
// ResultURL is set only when Status is completed and ErrorMessage only when
// Status is failed.
type Creative struct {
	ID           string
	RequestID    *string
	OwnerID      string
	Status       CreativeStatus
	ResultURL    *string
	ErrorMessage *string
	Params       jsoncfg.CreativeParams
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreativeRequest groups the creatives requested together. Status is derived
// from the children and is never set directly by callers.
type CreativeRequest struct {
	ID        string
	OwnerID   string
	Formats   []string
	Status    RequestStatus
	Country   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Valid reports whether the creative status is one of the known values.
func (s CreativeStatus) Valid() bool {
	switch s {
	case CreativeStatusDraft, CreativeStatusQueued, CreativeStatusProcessing, CreativeStatusCompleted, CreativeStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the creative reached completed or failed.
func (s CreativeStatus) Terminal() bool {
	return s == CreativeStatusCompleted || s == CreativeStatusFailed
}

// Valid reports whether the request status is one of the known values.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusProcessing, RequestStatusCompleted, RequestStatusPartial, RequestStatusFailed:
		return true
	default:
		return false
	}
}
