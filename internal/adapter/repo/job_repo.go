package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"creativehub/internal/domain"
	"creativehub/internal/infra"
	"creativehub/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

func (r *JobRepositoryPG) NextPending(ctx context.Context) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QJobNextPending))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNoPendingJob
		}
		return nil, mapPGError(err)
	}
	return job, nil
}

func (r *JobRepositoryPG) Claim(ctx context.Context, jobID string, attempts int) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QJobClaim, jobID, attempts)
	if err != nil {
		return false, mapPGError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepositoryPG) Complete(ctx context.Context, jobID string) error {
	return r.transition(ctx, sqlinline.QJobComplete, jobID)
}

func (r *JobRepositoryPG) Fail(ctx context.Context, jobID string, message string) error {
	return r.transition(ctx, sqlinline.QJobFail, jobID, message)
}

func (r *JobRepositoryPG) Requeue(ctx context.Context, jobID string, availableAt time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QJobRequeue, jobID, availableAt)
	if err != nil {
		return false, mapPGError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QJobGetByID, jobID))
	if err != nil {
		return nil, mapPGError(err)
	}
	return job, nil
}

// transition runs a status-guarded update. A job that is no longer
// processing is reported as a claim conflict.
func (r *JobRepositoryPG) transition(ctx context.Context, query string, args ...any) error {
	tag, err := r.sql.Exec(ctx, query, args...)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %v: %w", args[0], domain.ErrClaimConflict)
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Seq,
		&job.CreativeID,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.Priority,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.AvailableAt,
		&job.ProcessingStartedAt,
		&job.ProcessingCompletedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
