// Package worker hosts the River background workers that process scan jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.uber.org/zap/exp/zapslog"

	"urlrisk/internal/config"
	"urlrisk/pkg/logger"
	"urlrisk/pkg/storage"
)

// Start registers the scan worker and starts a River client on the default
// queue. The returned client must be stopped by the caller on shutdown.
func Start(ctx context.Context,
	dbPool *pgxpool.Pool,
	st storage.Storage,
	runner ScanRunner,
	cfg config.Scanner) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewURLScannerWorker(st, runner, cfg.MaxAttempts))

	riverClient, err := river.NewClient(riverpgxv5.New(dbPool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers: workers,
		Logger:  slog.New(zapslog.NewHandler(logger.Get(ctx).Core())),
	})
	if err != nil {
		return nil, fmt.Errorf("could not create river queue client: %w", err)
	}

	if err := riverClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("could not start river queue client: %w", err)
	}

	return riverClient, nil
}
