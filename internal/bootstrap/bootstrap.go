// Package bootstrap assembles the shared runtime of the api, worker and ctl
// binaries from a Config.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"creativehub/internal/adapter/repo"
	"creativehub/internal/aggregate"
	"creativehub/internal/infra"
	"creativehub/internal/infra/credentials"
	"creativehub/internal/providers/genai"
	"creativehub/internal/providers/image"
	"creativehub/internal/queue"
	"creativehub/internal/reconcile"
	"creativehub/internal/storage"
)

type Services struct {
	Pool        *pgxpool.Pool
	SQL         *infra.SQLRunner
	Jobs        *repo.JobRepositoryPG
	Creatives   *repo.CreativeRepositoryPG
	Requests    *repo.RequestRepositoryPG
	Profiles    *repo.ProfileRepositoryPG
	Credentials *credentials.Store
	Files       *storage.FileStore
	Aggregator  *aggregate.Aggregator
	Reconciler  *reconcile.Reconciler
}

// Open connects to the database, applies migrations when enabled and builds
// the repositories. Callers own Close.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Services, error) {
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := infra.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	storagePath := cfg.StoragePath
	if abs, err := filepath.Abs(storagePath); err == nil {
		storagePath = abs
	}
	files, err := storage.NewFileStore(storagePath, cfg.StorageBaseURL)
	if err != nil {
		pool.Close()
		return nil, err
	}

	runner := infra.NewSQLRunner(pool, logger)
	requests := repo.NewRequestRepository(runner)
	agg := aggregate.New(requests, logger)
	return &Services{
		Pool:        pool,
		SQL:         runner,
		Jobs:        repo.NewJobRepository(runner),
		Creatives:   repo.NewCreativeRepository(runner),
		Requests:    requests,
		Profiles:    repo.NewProfileRepository(runner),
		Credentials: credentials.NewStore(runner),
		Files:       files,
		Aggregator:  agg,
		Reconciler:  reconcile.New(requests, agg, reconcile.DefaultPageSize, logger),
	}, nil
}

func (s *Services) Close() {
	s.Pool.Close()
}

// Consumer builds the queue consumer. The Gemini key comes from the config
// first and the credential store second; without one the generator renders
// synthetic placeholders.
func (s *Services) Consumer(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) *queue.Consumer {
	apiKey, err := s.Credentials.GeminiAPIKey(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("gemini api key unavailable, using synthetic generation")
	}
	client := genai.NewClient(genai.Options{
		APIKey:              apiKey,
		BaseURL:             cfg.GeminiBaseURL,
		Model:               cfg.GeminiModel,
		Logger:              &logger,
		FallbackToSynthetic: cfg.GeminiFallback,
	})
	if client.Synthetic() {
		logger.Warn().Str("model", client.Model()).Msg("gemini api key missing, using synthetic asset generation")
	}

	opts := queue.Options{Timeout: cfg.GenerationTimeout}
	if cfg.ProviderRatePerSec > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.ProviderRatePerSec), 1)
	}
	if cfg.RetryEnabled {
		opts.Retry = queue.NewRetryPolicy(cfg.RetryMaxAttempts)
	}
	return queue.NewConsumer(queue.Deps{
		Jobs:       s.Jobs,
		Creatives:  s.Creatives,
		Requests:   s.Requests,
		Aggregator: s.Aggregator,
		Generator:  image.NewGeminiGenerator(client),
		Store:      s.Files,
	}, opts, logger)
}
