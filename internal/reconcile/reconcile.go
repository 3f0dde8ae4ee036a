// Package reconcile corrects request statuses that drifted from their
// children, on an interval and shortly after creative changes.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"creativehub/internal/aggregate"
	"creativehub/internal/domain"
)

// DefaultPageSize bounds one snapshot query.
const DefaultPageSize = 200

// Snapshotter pages through requests whose children are all terminal.
type Snapshotter interface {
	Snapshots(ctx context.Context, afterID string, limit int) ([]domain.RequestSnapshot, error)
}

// Recomputer is satisfied by *aggregate.Aggregator.
type Recomputer interface {
	Recompute(ctx context.Context, requestID string) (aggregate.Result, error)
}

// Report is the outcome of one pass.
type Report struct {
	Trigger        string `json:"trigger,omitempty"`
	Scanned        int    `json:"scanned"`
	CorrectedCount int    `json:"corrected_count"`
	Err            error  `json:"-"`
}

// Reconciler finds drifted parents and fixes them through the Aggregator.
type Reconciler struct {
	snapshots  Snapshotter
	aggregator Recomputer
	pageSize   int
	logger     zerolog.Logger
}

// New builds a Reconciler. pageSize <= 0 uses DefaultPageSize.
func New(snapshots Snapshotter, aggregator Recomputer, pageSize int, logger zerolog.Logger) *Reconciler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Reconciler{snapshots: snapshots, aggregator: aggregator, pageSize: pageSize, logger: logger}
}

// Reconcile scans every settled request once. A failure on one request is
// recorded in Report.Err and the scan continues; only a failed page read
// stops it early.
func (r *Reconciler) Reconcile(ctx context.Context) Report {
	var (
		report Report
		errs   []error
		after  string
	)
	for {
		page, err := r.snapshots.Snapshots(ctx, after, r.pageSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("load snapshots after %q: %w", after, err))
			break
		}
		for _, snap := range page {
			report.Scanned++
			fixed, err := r.fix(ctx, snap)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if fixed {
				report.CorrectedCount++
			}
		}
		if len(page) < r.pageSize {
			break
		}
		after = page[len(page)-1].RequestID
	}

	report.Err = errors.Join(errs...)
	evt := r.logger.Info()
	if report.Err != nil {
		evt = r.logger.Warn().Err(report.Err)
	} else if report.CorrectedCount == 0 {
		evt = r.logger.Debug()
	}
	evt.Int("scanned", report.Scanned).Int("corrected", report.CorrectedCount).Msg("reconcile: pass finished")
	return report
}

func (r *Reconciler) fix(ctx context.Context, snap domain.RequestSnapshot) (bool, error) {
	decision := aggregate.Decide(snap.Children)
	if !decision.Write || decision.Status == snap.Status {
		return false, nil
	}

	res, err := r.aggregator.Recompute(ctx, snap.RequestID)
	if err != nil {
		if errors.Is(err, domain.ErrAggregationSkip) {
			return false, nil
		}
		return false, fmt.Errorf("reconcile request %s: %w", snap.RequestID, err)
	}
	if res.Written {
		r.logger.Info().
			Str("request_id", snap.RequestID).
			Str("from", string(res.Previous)).
			Str("to", string(res.Decision.Status)).
			Msg("reconcile: corrected drifted request")
	}
	return res.Written, nil
}

// ReconcileRequest recomputes one request and reports whether it changed.
// Unsettled or empty requests are not an error.
func (r *Reconciler) ReconcileRequest(ctx context.Context, requestID string) (bool, error) {
	res, err := r.aggregator.Recompute(ctx, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrAggregationSkip) {
			return false, nil
		}
		return false, err
	}
	return res.Written, nil
}
