package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"urlrisk/internal/api"
	"urlrisk/internal/config"
	"urlrisk/internal/pipeline"
	"urlrisk/internal/worker"
	"urlrisk/pkg/logger"
	"urlrisk/pkg/metrics"
)

func setupServer(ctx context.Context, cfg *config.Config) func(ctx context.Context) {
	server := api.NewServer(api.NewOptions(cfg))

	go func() {
		logger.Info(ctx, "starting webserver...")
		if err := server.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "could not start webserver", zap.Error(err))
			}
		}
	}()

	return func(ctx context.Context) {
		logger.Info(ctx, "stopping webserver...")
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(ctx, "could not stop webserver", zap.Error(err))
		}
	}
}

// buildPipeline constructs the scoring pipeline with its instruments bound to
// the Prometheus default registry.
func buildPipeline(ctx context.Context, cfg *config.Config) *pipeline.Pipeline {
	mp, err := metrics.NewMeterProvider()
	if err != nil {
		logger.Fatal(ctx, "could not create meter provider", zap.Error(err))
	}

	m, err := metrics.NewPipeline(mp.Meter("urlrisk"))
	if err != nil {
		logger.Fatal(ctx, "could not create pipeline metrics", zap.Error(err))
	}

	pl, err := pipeline.Build(cfg, m)
	if err != nil {
		logger.Fatal(ctx, "could not build scan pipeline", zap.Error(err))
	}

	return pl
}

func scanCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Starts the ops server and background scan workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

			strg, closeStrg := getPostgres(ctx, cfg)
			defer closeStrg()

			pl := buildPipeline(ctx, cfg)

			riverClient, err := worker.Start(ctx, strg.Pool, strg, pl, cfg.Scanner)
			if err != nil {
				logger.Fatal(ctx, "could not start workers", zap.Error(err))
			}

			stopWebserver := setupServer(ctx, cfg)

			// wait for interrupt
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
			defer cancel()

			logger.Info(shutdownCtx, "stopping workers...")
			if err := riverClient.Stop(shutdownCtx); err != nil {
				logger.Error(shutdownCtx, "could not stop workers", zap.Error(err))
			}

			stopWebserver(shutdownCtx)
		},
	}

	return cmd
}
