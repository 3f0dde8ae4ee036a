// Package aggregate derives a CreativeRequest status from its children.
//
// The derivation only ever reads the current child snapshot. Two concurrent
// recomputations for the same request therefore converge on the same value,
// which is why the queue consumer and the reconciler may both call it.
package aggregate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"creativehub/internal/domain"
)

// Decision is the outcome of Decide. When Write is false the parent must be
// left untouched.
type Decision struct {
	Status    domain.RequestStatus
	Write     bool
	Total     int
	Completed int
	Failed    int
}

// Decide maps child statuses onto the parent status.
func Decide(children []domain.CreativeStatus) Decision {
	d := Decision{Total: len(children)}
	for _, s := range children {
		switch s {
		case domain.CreativeStatusCompleted:
			d.Completed++
		case domain.CreativeStatusFailed:
			d.Failed++
		}
	}

	switch {
	case d.Total == 0:
		return d
	case d.Failed == d.Total:
		d.Status, d.Write = domain.RequestStatusFailed, true
	case d.Completed+d.Failed == d.Total:
		d.Write = true
		switch {
		case d.Completed > 0 && d.Failed > 0:
			d.Status = domain.RequestStatusPartial
		case d.Completed == d.Total:
			d.Status = domain.RequestStatusCompleted
		default:
			d.Status = domain.RequestStatusFailed
		}
	}
	return d
}

// Result describes one Recompute call.
type Result struct {
	RequestID string
	Decision  Decision
	Previous  domain.RequestStatus
	Written   bool
}

// Store is the subset of the request repository the aggregator needs.
type Store interface {
	GetByID(ctx context.Context, requestID string) (*domain.CreativeRequest, error)
	ChildStatuses(ctx context.Context, requestID string) ([]domain.CreativeStatus, error)
	UpdateStatus(ctx context.Context, requestID string, status domain.RequestStatus) (bool, error)
}

// Aggregator recomputes and persists parent statuses.
type Aggregator struct {
	store  Store
	logger zerolog.Logger
}

// New constructs an Aggregator.
func New(store Store, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// Recompute reads the request's children and writes the derived status when
// it differs from the stored one. A skipped decision returns an error wrapping
// domain.ErrAggregationSkip so callers can tell it apart from a no-op write.
func (a *Aggregator) Recompute(ctx context.Context, requestID string) (Result, error) {
	res := Result{RequestID: requestID}

	req, err := a.store.GetByID(ctx, requestID)
	if err != nil {
		return res, fmt.Errorf("load request %s: %w", requestID, err)
	}
	res.Previous = req.Status

	children, err := a.store.ChildStatuses(ctx, requestID)
	if err != nil {
		return res, fmt.Errorf("load children of %s: %w", requestID, err)
	}

	res.Decision = Decide(children)
	if !res.Decision.Write {
		a.logger.Debug().
			Str("request_id", requestID).
			Int("total", res.Decision.Total).
			Int("completed", res.Decision.Completed).
			Int("failed", res.Decision.Failed).
			Msg("aggregate: skipped")
		if res.Decision.Total == 0 {
			return res, fmt.Errorf("%w: request %s has no creatives", domain.ErrAggregationSkip, requestID)
		}
		return res, fmt.Errorf("%w: request %s has unfinished creatives", domain.ErrAggregationSkip, requestID)
	}

	if res.Decision.Status == req.Status {
		return res, nil
	}

	written, err := a.store.UpdateStatus(ctx, requestID, res.Decision.Status)
	if err != nil {
		return res, fmt.Errorf("update request %s status: %w", requestID, err)
	}
	res.Written = written
	if written {
		a.logger.Info().
			Str("request_id", requestID).
			Str("from", string(req.Status)).
			Str("to", string(res.Decision.Status)).
			Msg("aggregate: request status updated")
	}
	return res, nil
}
