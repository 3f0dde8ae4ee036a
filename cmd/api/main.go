package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"creativehub/internal/bootstrap"
	"creativehub/internal/http/handlers"
	"creativehub/internal/http/httpapi"
	"creativehub/internal/infra"
	"creativehub/internal/infra/geoip"
	"creativehub/internal/realtime"
)

func main() {
	infra.LoadDotEnv()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: startup failed")
	}
	defer svc.Close()

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	defer resolver.Close()

	hub := realtime.NewHub(logger, cfg.CORSOrigins)
	defer hub.Close()
	listener := realtime.NewPGListener(cfg.DatabaseURL, realtime.NotifyChannel, logger, hub.Publish)

	app := handlers.NewApp(handlers.Deps{
		Config:     cfg,
		Logger:     logger,
		Requests:   svc.Requests,
		Creatives:  svc.Creatives,
		Profiles:   svc.Profiles,
		Files:      svc.Files,
		Jobs:       svc.Consumer(ctx, cfg, logger),
		Reconciler: svc.Reconciler,
		Stream:     hub,
		Ping:       svc.Pool.Ping,
	})
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   resolver.Lookup(),
		FilesDir:        svc.Files.BasePath(),
		FilesBaseURL:    cfg.StorageBaseURL,
		Logger:          logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return infra.NewHTTPServer(cfg, router, logger).Run(gctx, cfg.HTTPIdleTimeout)
	})
	g.Go(func() error {
		return listener.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: stopped with error")
		return
	}
	logger.Info().Msg("api: stopped")
}
