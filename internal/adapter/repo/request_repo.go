package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"creativehub/internal/domain"
	"creativehub/internal/infra"
	"creativehub/internal/sqlinline"
)

const zeroUUID = "00000000-0000-0000-0000-000000000000"

// RequestRepositoryPG implements domain.RequestRepository.
type RequestRepositoryPG struct {
	sql infra.TxRunner
}

func NewRequestRepository(sql infra.TxRunner) *RequestRepositoryPG {
	return &RequestRepositoryPG{sql: sql}
}

// Create inserts the request, its creatives and their jobs in one transaction.
func (r *RequestRepositoryPG) Create(ctx context.Context, req *domain.CreativeRequest, creatives []domain.Creative, jobs []domain.Job) error {
	if len(creatives) != len(jobs) {
		return fmt.Errorf("%w: %d creatives but %d jobs", domain.ErrInvalidInput, len(creatives), len(jobs))
	}
	err := r.sql.WithTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QUserEnsure, req.OwnerID); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, sqlinline.QRequestInsert, req.ID, req.OwnerID, req.Formats, req.Country).
			Scan(&req.CreatedAt, &req.UpdatedAt); err != nil {
			return err
		}
		for i := range creatives {
			c := &creatives[i]
			params, err := json.Marshal(c.Params)
			if err != nil {
				return fmt.Errorf("encode params: %w", err)
			}
			if err := tx.QueryRow(ctx, sqlinline.QCreativeInsert, c.ID, c.RequestID, c.OwnerID, params).
				Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
				return err
			}
			j := &jobs[i]
			maxAttempts := j.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = domain.DefaultMaxAttempts
			}
			if err := tx.QueryRow(ctx, sqlinline.QJobInsert, j.ID, c.ID, maxAttempts, j.Priority).
				Scan(&j.Seq, &j.CreatedAt, &j.AvailableAt); err != nil {
				return err
			}
		}
		return nil
	})
	return mapPGError(err)
}

func (r *RequestRepositoryPG) GetByID(ctx context.Context, requestID string) (*domain.CreativeRequest, error) {
	var req domain.CreativeRequest
	if err := r.sql.QueryRow(ctx, sqlinline.QRequestGetByID, requestID).Scan(
		&req.ID, &req.OwnerID, &req.Formats, &req.Status, &req.Country, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, mapPGError(err)
	}
	return &req, nil
}

func (r *RequestRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.CreativeRequest, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QRequestListByOwner, ownerID, limit)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var out []domain.CreativeRequest
	for rows.Next() {
		var req domain.CreativeRequest
		if err := rows.Scan(&req.ID, &req.OwnerID, &req.Formats, &req.Status, &req.Country, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, mapPGError(err)
		}
		out = append(out, req)
	}
	return out, mapPGError(rows.Err())
}

func (r *RequestRepositoryPG) ChildStatuses(ctx context.Context, requestID string) ([]domain.CreativeStatus, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QRequestChildStatuses, requestID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var out []domain.CreativeStatus
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, mapPGError(err)
		}
		out = append(out, domain.CreativeStatus(status))
	}
	return out, mapPGError(rows.Err())
}

func (r *RequestRepositoryPG) UpdateStatus(ctx context.Context, requestID string, status domain.RequestStatus) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QRequestUpdateStatus, requestID, string(status))
	if err != nil {
		return false, mapPGError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RequestRepositoryPG) MarkProcessing(ctx context.Context, requestID string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QRequestMarkProcessing, requestID)
	if err != nil {
		return false, mapPGError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RequestRepositoryPG) Snapshots(ctx context.Context, afterID string, limit int) ([]domain.RequestSnapshot, error) {
	if afterID == "" {
		afterID = zeroUUID
	}
	rows, err := r.sql.Query(ctx, sqlinline.QRequestSnapshots, afterID, limit)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var out []domain.RequestSnapshot
	for rows.Next() {
		var (
			snap     domain.RequestSnapshot
			status   string
			children []string
		)
		if err := rows.Scan(&snap.RequestID, &status, &children); err != nil {
			return nil, mapPGError(err)
		}
		snap.Status = domain.RequestStatus(status)
		snap.Children = make([]domain.CreativeStatus, len(children))
		for i, c := range children {
			snap.Children[i] = domain.CreativeStatus(c)
		}
		out = append(out, snap)
	}
	return out, mapPGError(rows.Err())
}

var _ domain.RequestRepository = (*RequestRepositoryPG)(nil)
