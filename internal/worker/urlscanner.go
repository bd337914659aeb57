package worker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"urlrisk/internal/pipeline"
	"urlrisk/internal/scanner"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/logger"
	"urlrisk/pkg/storage"
)

// ScanRunner runs the scoring pipeline for a single URL. *pipeline.Pipeline
// satisfies it; tests substitute a stub.
type ScanRunner interface {
	Scan(ctx context.Context, req pipeline.Request) *domain.ScanResult
}

// URLScannerWorker is the River worker behind ScanURLJob. One job exists per
// URL at a time, so a single run fans its result out to every pending scan
// record for that URL.
type URLScannerWorker struct {
	river.WorkerDefaults[scanner.JobArgs]

	storage storage.Storage
	runner  ScanRunner
	// maxAttempts mirrors the job's retry budget so the storage layer can flip
	// scans to FAILED only once the budget is exhausted.
	maxAttempts int
}

// NewURLScannerWorker constructs a URLScannerWorker backed by the given
// storage and pipeline runner.
func NewURLScannerWorker(st storage.Storage, runner ScanRunner, maxAttempts int) *URLScannerWorker {
	return &URLScannerWorker{
		storage:     st,
		runner:      runner,
		maxAttempts: maxAttempts,
	}
}

// Work executes a single scan job. It skips the run entirely when every scan
// record for the URL has been deleted in the meantime, otherwise it runs the
// pipeline and publishes the verdict to all pending scans for the URL.
func (u *URLScannerWorker) Work(ctx context.Context, job *river.Job[scanner.JobArgs]) error {
	ctx = logger.WithFields(ctx, zap.Int64("jobID", job.ID), zap.String("URL", job.Args.URL))

	pending, err := u.storage.PendingScanCountByURL(ctx, job.Args.URL)
	if err != nil {
		return fmt.Errorf("could not count pending scans: %w", err)
	}
	if pending == 0 {
		// all scans for this URL were deleted or already resolved.
		logger.Info(ctx, "no pending scans left for URL, skipping job")

		return nil
	}

	res := u.runner.Scan(ctx, pipeline.Request{
		ScanID: strconv.FormatInt(job.ID, 10),
		URL:    job.Args.URL,
	})

	if res.Error != "" && res.RiskLevel == "" {
		// the pipeline could not produce a verdict at all. Record the failure
		// and let River retry; the storage layer flips the scans to FAILED
		// once the attempt budget runs out.
		lastErr := res.Error
		if updErr := u.storage.UpdatePendingScansByURL(ctx, job.Args.URL, storage.ScanUpdates{
			Status:      domain.ScanStatusFailed,
			LastError:   &lastErr,
			MaxAttempts: u.maxAttempts,
		}); updErr != nil {
			return fmt.Errorf("could not record scan failure: %w", updErr)
		}

		logger.Error(ctx, "scan produced no verdict", zap.String("scanError", res.Error))

		return fmt.Errorf("could not scan URL: %s", res.Error)
	}

	clearErr := ""
	if err := u.storage.UpdatePendingScansByURL(ctx, job.Args.URL, storage.ScanUpdates{
		Status:    domain.ScanStatusCompleted,
		Result:    res,
		LastError: &clearErr,
	}); err != nil {
		return fmt.Errorf("could not update pending scans: %w", err)
	}

	logger.Info(ctx, "URL scanned successfully",
		zap.String("riskLevel", string(res.RiskLevel)),
		zap.String("action", string(res.Action)))

	return nil
}
