package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"creativehub/internal/domain"
)

// Resource names a change stream.
type Resource string

const (
	ResourceJobs      Resource = "jobs"
	ResourceCreatives Resource = "creatives"
	ResourceRequests  Resource = "creative_requests"
	ResourceProfiles  Resource = "profiles"
)

// Valid reports whether r is a known resource.
func (r Resource) Valid() bool {
	switch r {
	case ResourceJobs, ResourceCreatives, ResourceRequests, ResourceProfiles:
		return true
	default:
		return false
	}
}

// ErrInvalidChange wraps every payload that fails parsing or validation.
var ErrInvalidChange = errors.New("invalid change payload")

// Change is one row-level notification. Concrete values are JobChange,
// CreativeChange, RequestChange and ProfileChange.
type Change interface {
	Resource() Resource
	Owner() string
	EntityID() string
}

// JobChange reports a job status transition.
type JobChange struct {
	ID         string           `json:"id" validate:"required"`
	OwnerID    string           `json:"owner_id" validate:"required"`
	Status     domain.JobStatus `json:"status" validate:"required,oneof=pending processing completed failed cancelled"`
	CreativeID string           `json:"creative_id" validate:"required"`
	RequestID  *string          `json:"request_id,omitempty"`
}

// CreativeChange reports a creative status transition.
type CreativeChange struct {
	ID        string                `json:"id" validate:"required"`
	OwnerID   string                `json:"owner_id" validate:"required"`
	Status    domain.CreativeStatus `json:"status" validate:"required,oneof=draft queued processing completed failed"`
	RequestID *string               `json:"request_id,omitempty"`
	ResultURL *string               `json:"result_url,omitempty" validate:"omitempty,uri"`
}

// RequestChange reports a request status transition.
type RequestChange struct {
	ID      string               `json:"id" validate:"required"`
	OwnerID string               `json:"owner_id" validate:"required"`
	Status  domain.RequestStatus `json:"status" validate:"required,oneof=pending processing completed partial failed"`
}

// ProfileChange reports that a user's profile row was written. The owner is
// the user.
type ProfileChange struct {
	ID        string    `json:"id" validate:"required"`
	OwnerID   string    `json:"owner_id" validate:"required,eqfield=ID"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (JobChange) Resource() Resource { return ResourceJobs }
func (c JobChange) Owner() string { return c.OwnerID }
func (c JobChange) EntityID() string { return c.ID }
func (CreativeChange) Resource() Resource { return ResourceCreatives }
func (c CreativeChange) Owner() string { return c.OwnerID }
func (c CreativeChange) EntityID() string { return c.ID }
func (RequestChange) Resource() Resource { return ResourceRequests }
func (c RequestChange) Owner() string { return c.OwnerID }
func (c RequestChange) EntityID() string { return c.ID }
func (ProfileChange) Resource() Resource { return ResourceProfiles }
func (c ProfileChange) Owner() string { return c.OwnerID }
func (c ProfileChange) EntityID() string { return c.ID }

// RequestIDOf returns the parent request a change belongs to, if any.
func RequestIDOf(c Change) (string, bool) {
	switch v := c.(type) {
	case JobChange:
		if v.RequestID != nil {
			return *v.RequestID, true
		}
	case CreativeChange:
		if v.RequestID != nil {
			return *v.RequestID, true
		}
	case RequestChange:
		return v.ID, true
	}
	return "", false
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type envelope struct {
	Resource Resource `json:"resource"`
}

// ParseChange decodes a notification payload into its typed variant and
// validates it.
func ParseChange(raw []byte) (Change, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}

	var (
		change Change
		err    error
	)
	switch env.Resource {
	case ResourceJobs:
		var v JobChange
		err = json.Unmarshal(raw, &v)
		change = v
	case ResourceCreatives:
		var v CreativeChange
		err = json.Unmarshal(raw, &v)
		change = v
	case ResourceRequests:
		var v RequestChange
		err = json.Unmarshal(raw, &v)
		change = v
	case ResourceProfiles:
		var v ProfileChange
		err = json.Unmarshal(raw, &v)
		change = v
	default:
		return nil, fmt.Errorf("%w: unknown resource %q", ErrInvalidChange, env.Resource)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	if err := validate.Struct(change); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	return change, nil
}

// EncodeChange renders c in the wire format ParseChange accepts.
func EncodeChange(c Change) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["resource"], _ = json.Marshal(c.Resource())
	return json.Marshal(fields)
}
