package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"creativehub/internal/bootstrap"
	"creativehub/internal/infra"
	"creativehub/internal/realtime"
	"creativehub/internal/reconcile"
)

func main() {
	infra.LoadDotEnv()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: startup failed")
	}
	defer svc.Close()

	consumer := svc.Consumer(ctx, cfg, logger)
	scheduler := reconcile.NewScheduler(svc.Reconciler, reconcile.SchedulerOptions{
		Interval:   cfg.ReconcileInterval,
		EventDelay: cfg.ReconcileEventDelay,
		Notifier: reconcile.NotifierFunc(func(r reconcile.Report) {
			logger.Warn().
				Str("trigger", r.Trigger).
				Int("corrected", r.CorrectedCount).
				Msg("worker: reconciler corrected drifted requests")
		}),
		Logger: logger,
	})
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("worker: scheduler failed to start")
	}
	defer scheduler.Stop()

	listener := realtime.NewPGListener(cfg.DatabaseURL, realtime.NotifyChannel, logger, scheduler.OnChange)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, cfg.WorkerPollInterval)
	})
	g.Go(func() error {
		return listener.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
		return
	}
	logger.Info().Msg("worker: stopped")
}
