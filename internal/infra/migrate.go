package infra

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version int
	name    string
	content string
}

// Migrate applies every embedded migration that is not yet recorded in
// schema_migrations. Each migration runs in its own transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	migrations, err := loadMigrations(logger)
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `create table if not exists schema_migrations (
    version integer primary key,
    name text not null,
    applied_at timestamptz not null default now()
)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if err := applyMigration(ctx, pool, logger, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
	}
	logger.Info().Int("count", len(migrations)).Msg("migrations up to date")
	return nil
}

func loadMigrations(logger zerolog.Logger) ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			logger.Warn().Str("file", entry.Name()).Msg("skipping migration with invalid name")
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			logger.Warn().Str("file", entry.Name()).Err(err).Msg("skipping migration with invalid version")
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		out = append(out, migration{version: version, name: entry.Name(), content: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Serialises concurrent migrators (api and worker starting together).
	if _, err := tx.Exec(ctx, `select pg_advisory_xact_lock(727274)`); err != nil {
		return fmt.Errorf("lock: %w", err)
	}

	var applied bool
	if err := tx.QueryRow(ctx, `select exists(select 1 from schema_migrations where version = $1)`, m.version).Scan(&applied); err != nil {
		return fmt.Errorf("check status: %w", err)
	}
	if applied {
		logger.Debug().Int("version", m.version).Msg("migration already applied")
		return nil
	}

	logger.Info().Int("version", m.version).Str("name", m.name).Msg("applying migration")
	if _, err := tx.Exec(ctx, m.content); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if _, err := tx.Exec(ctx, `insert into schema_migrations (version, name) values ($1, $2)`, m.version, m.name); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit(ctx)
}
