package scanner

import (
	"context"
	"time"

	"urlrisk/pkg/domain"
)

//go:generate mockgen -package mockscanner -source=interface.go -destination=mock/mockscanner.go *
type Scanner interface {
	// Enqueue registers a scan for the URL and schedules a background job,
	// reusing a recent completed result when one exists.
	Enqueue(ctx context.Context, URL string) (*domain.Scan, error)
	// Scans lists scans filtered by status with cursor pagination.
	Scans(ctx context.Context,
		status domain.ScanStatus,
		cursor string,
		limit uint) ([]domain.Scan, string, error)
	// Result fetches a single scan by ID.
	Result(ctx context.Context, scanID domain.ScanID) (*domain.Scan, error)
	// Delete soft-deletes a scan.
	Delete(ctx context.Context, scanID domain.ScanID) error
}

// Options configure how scan jobs are enqueued and how results are cached.
// These settings are typically derived from application configuration.
type Options struct {
	// MaxAttempts is the maximum number of attempts the background worker should
	// make when processing a scan job before marking it failed.
	MaxAttempts int
	// ResultCacheTTL is the duration during which a completed result makes new
	// scan requests for the same URL reuse that result instead of enqueueing
	// a duplicate job.
	ResultCacheTTL time.Duration
}
