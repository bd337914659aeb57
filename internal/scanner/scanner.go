// Package scanner implements the enqueue service in front of the scan
// pipeline: it canonicalizes URLs, persists scan records, and schedules
// background jobs with per-URL de-duplication.
package scanner

import (
	"context"
	"fmt"
	"time"

	"urlrisk/internal/cache"
	"urlrisk/internal/config"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/serrors"
	"urlrisk/pkg/storage"
)

// NewOptions constructs an Options value from the provided application config.
func NewOptions(cfg *config.Config) Options {
	return Options{
		MaxAttempts:    cfg.Scanner.MaxAttempts,
		ResultCacheTTL: cfg.Scanner.ResultCacheTTL,
	}
}

// scanner is the concrete implementation of the Scanner interface.
// It coordinates persistence with the storage layer and job enqueueing.
type scanner struct {
	// options holds runtime configuration that affects enqueueing and caching.
	options Options
	// storage is the persistence layer used to store scans and manage jobs.
	storage storage.Storage
	// now is injected for deterministic result-reuse tests.
	now func() time.Time
}

// Enqueue stores a new scan request for the given URL and attempts to enqueue
// a background job to process it. If a recent completed result exists for the
// same canonical URL (within ResultCacheTTL), the new scan is immediately
// marked as completed with that result.
func (s scanner) Enqueue(ctx context.Context, URL string) (*domain.Scan, error) {
	var scan *domain.Scan
	URL, err := NormalizeURL(URL)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrBadRequest, err, "invalid URL")
	}

	if err := s.storage.WithTx(ctx, func(tx storage.AllStorage) error {
		res, err := tx.StoreScans(ctx, domain.Scan{
			URL:    URL,
			URLKey: cache.URLKey(URL),
			Status: domain.ScanStatusPending,
		})
		if err != nil {
			return fmt.Errorf("could not store scan: %w", err)
		}
		scan = &res[0]

		jobAdded, err := tx.AddJob(ctx, JobArgs{
			URL:             URL,
			maxAttempts:     s.options.MaxAttempts,
			uniqueJobPeriod: s.options.ResultCacheTTL,
		}, nil)
		if err != nil {
			return fmt.Errorf("could not add job: %w", err)
		}

		// if a job was not added, it means that another job already exists for this URL.
		// river unique jobs prevent having duplicate jobs for the same URL.
		if !jobAdded {
			// if the existing job already completed, reuse its result for the
			// new scan as long as it is still fresh
			lastResult, err := tx.LastCompletedScanByURL(ctx, URL)
			if err != nil {
				return fmt.Errorf("could not get last completed scan: %w", err)
			}

			if lastResult != nil && s.now().Sub(lastResult.UpdatedAt) <= s.options.ResultCacheTTL {
				updated, err := tx.UpdateScanByID(ctx, scan.ID, storage.ScanUpdates{
					Status: domain.ScanStatusCompleted,
					Result: &lastResult.Result,
				})
				if err != nil {
					return fmt.Errorf("could not update scan: %w", err)
				}
				scan = updated
			} // else: the job is in the queue and will be processed soon.
			// Job will automatically update all pending scans by URL upon completion.
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("could not enqueue URL: %w", err)
	}

	return scan, nil
}

// Scans returns a page of scans filtered by status. It supports cursor-based
// pagination using an RFC3339 timestamp string and returns the next cursor
// when more results are available.
func (s scanner) Scans(ctx context.Context,
	status domain.ScanStatus,
	cursor string,
	limit uint) ([]domain.Scan, string, error) {
	var cursorTime time.Time
	if cursor != "" {
		t, err := time.Parse(time.RFC3339, cursor)
		if err != nil {
			return nil, "", serrors.Wrap(serrors.ErrBadRequest, err, "invalid cursor")
		}
		cursorTime = t
	}

	page, err := s.storage.ListScans(ctx, status, cursorTime, limit)
	if err != nil {
		return nil, "", fmt.Errorf("could not list scans: %w", err)
	}

	var next string
	if page.NextCursor != nil {
		next = page.NextCursor.Format(time.RFC3339)
	}

	return page.Scans, next, nil
}

// Result fetches a single scan by ID. It returns a not-found error when no
// matching scan exists.
func (s scanner) Result(ctx context.Context, scanID domain.ScanID) (*domain.Scan, error) {
	res, err := s.storage.ScanByID(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("could not get scan results: %w", err)
	}
	if res == nil {
		return nil, serrors.With(serrors.ErrNotFound, "scan not found")
	}

	return res, nil
}

// Delete removes a scan. If the scan does not exist, a not-found error is
// returned. Jobs are not cancelled here because other pending scans may still
// depend on the same URL job.
func (s scanner) Delete(ctx context.Context, scanID domain.ScanID) error {
	res, err := s.storage.DeleteScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("could not delete scan: %w", err)
	}
	if res == nil {
		return serrors.With(serrors.ErrNotFound, "scan not found")
	}

	// we don't delete jobs from the queue here because there might be other scans depending on the job.
	// job worker makes sure there are still pending scans for the URL before processing.

	return nil
}

// New creates a new Scanner instance backed by the provided storage and
// configured with the given options.
func New(storage storage.Storage, options Options) Scanner {
	return &scanner{
		options: options,
		storage: storage,
		now:     time.Now,
	}
}
