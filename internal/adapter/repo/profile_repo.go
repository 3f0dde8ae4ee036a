package repo

import (
	"context"

	"github.com/jackc/pgx/v5"

	"creativehub/internal/domain"
	"creativehub/internal/infra"
	"creativehub/internal/sqlinline"
)

// ProfileRepositoryPG implements domain.ProfileRepository over the users table.
type ProfileRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewProfileRepository(sql infra.SQLExecutor) *ProfileRepositoryPG {
	return &ProfileRepositoryPG{sql: sql}
}

// Get returns the profile, creating an empty one on first access.
func (r *ProfileRepositoryPG) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	if _, err := r.sql.Exec(ctx, sqlinline.QUserEnsure, userID); err != nil {
		return nil, mapPGError(err)
	}
	return scanProfile(r.sql.QueryRow(ctx, sqlinline.QUserGetProfile, userID))
}

func (r *ProfileRepositoryPG) Update(ctx context.Context, userID string, patch domain.ProfilePatch) (*domain.Profile, error) {
	return scanProfile(r.sql.QueryRow(ctx, sqlinline.QUserUpdateProfile, userID, patch.DisplayName, patch.Bio, patch.Locale))
}

func (r *ProfileRepositoryPG) SetAvatar(ctx context.Context, userID, url, path string) (*domain.Profile, error) {
	return scanProfile(r.sql.QueryRow(ctx, sqlinline.QUserSetAvatar, userID, url, path))
}

func (r *ProfileRepositoryPG) ClearAvatar(ctx context.Context, userID string) (*domain.Profile, error) {
	return scanProfile(r.sql.QueryRow(ctx, sqlinline.QUserClearAvatar, userID))
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var p domain.Profile
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Bio, &p.Locale, &p.AvatarURL, &p.AvatarPath, &p.UpdatedAt); err != nil {
		return nil, mapPGError(err)
	}
	return &p, nil
}

var _ domain.ProfileRepository = (*ProfileRepositoryPG)(nil)
