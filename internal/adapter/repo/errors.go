package repo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"creativehub/internal/domain"
	"creativehub/internal/infra"
)

// mapPGError translates driver errors into domain sentinels. Errors that are
// not Postgres errors pass through unchanged.
func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if infra.IsNoRows(err) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.Detail)
	case pgerrcode.InvalidTextRepresentation:
		// malformed uuid parameters
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, pgErr.Message)
	case pgerrcode.CheckViolation:
		return fmt.Errorf("%w: check %s: %v", domain.ErrInvalidInput, pgErr.ConstraintName, err)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("transaction conflict (retryable): %w", err)
	case pgerrcode.QueryCanceled:
		return fmt.Errorf("query canceled: %w", err)
	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.AdminShutdown,
		pgerrcode.TooManyConnections:
		return fmt.Errorf("database unavailable: %w", err)
	default:
		return fmt.Errorf("postgres error [%s]: %s: %w", pgErr.Code, pgErr.Message, err)
	}
}
