package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"creativehub/internal/domain"
	"creativehub/internal/infra"
	"creativehub/internal/sqlinline"
)

// CreativeRepositoryPG implements domain.CreativeRepository.
type CreativeRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewCreativeRepository(sql infra.SQLExecutor) *CreativeRepositoryPG {
	return &CreativeRepositoryPG{sql: sql}
}

func (r *CreativeRepositoryPG) GetByID(ctx context.Context, creativeID string) (*domain.Creative, error) {
	c, err := scanCreative(r.sql.QueryRow(ctx, sqlinline.QCreativeGetByID, creativeID))
	if err != nil {
		return nil, mapPGError(err)
	}
	return c, nil
}

func (r *CreativeRepositoryPG) ListByRequest(ctx context.Context, requestID string) ([]domain.Creative, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QCreativeListByRequest, requestID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var out []domain.Creative
	for rows.Next() {
		c, err := scanCreative(rows)
		if err != nil {
			return nil, mapPGError(err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPGError(err)
	}
	return out, nil
}

func (r *CreativeRepositoryPG) MarkProcessing(ctx context.Context, creativeID string) error {
	return r.guarded(ctx, sqlinline.QCreativeMarkProcessing, creativeID)
}

func (r *CreativeRepositoryPG) Complete(ctx context.Context, creativeID, resultURL string, processedAt time.Time) error {
	return r.guarded(ctx, sqlinline.QCreativeComplete, creativeID, resultURL, processedAt)
}

func (r *CreativeRepositoryPG) Fail(ctx context.Context, creativeID, message string) error {
	return r.guarded(ctx, sqlinline.QCreativeFail, creativeID, message)
}

func (r *CreativeRepositoryPG) MarkQueued(ctx context.Context, creativeID string) error {
	return r.guarded(ctx, sqlinline.QCreativeMarkQueued, creativeID)
}

func (r *CreativeRepositoryPG) guarded(ctx context.Context, query string, args ...any) error {
	tag, err := r.sql.Exec(ctx, query, args...)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("creative %v: %w", args[0], domain.ErrConflict)
	}
	return nil
}

func scanCreative(row pgx.Row) (*domain.Creative, error) {
	var (
		c      domain.Creative
		params []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.RequestID,
		&c.OwnerID,
		&c.Status,
		&c.ResultURL,
		&c.ErrorMessage,
		&params,
		&c.ProcessedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &c.Params); err != nil {
			return nil, fmt.Errorf("decode params of creative %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

var _ domain.CreativeRepository = (*CreativeRepositoryPG)(nil)
