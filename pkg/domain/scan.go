package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScanID uniquely identifies a scan request.
// It wraps uuid.UUID to provide type safety at the domain layer.
type ScanID uuid.UUID

// String returns the canonical string form of the scan ID.
func (id ScanID) String() string { return uuid.UUID(id).String() }

// ScanStatus represents the lifecycle state of a scan record.
type ScanStatus string

const (
	// ScanStatusPending indicates the scan has been enqueued but not processed yet.
	ScanStatusPending ScanStatus = "PENDING"
	// ScanStatusCompleted indicates the pipeline finished and a result is available.
	// A degraded, partially populated result still counts as completed.
	ScanStatusCompleted ScanStatus = "COMPLETED"
	// ScanStatusFailed indicates the scan could not be processed after all attempts.
	ScanStatusFailed ScanStatus = "FAILED"
)

// Scan represents a single URL scan request and its current state as persisted
// by the storage layer. The URL is always stored in canonical form so that
// result reuse and job de-duplication key off the same string.
type Scan struct {
	// ID is the unique identifier of the scan.
	ID ScanID `json:"id"`

	// URL is the canonicalized target URL.
	URL string `json:"url"`
	// URLKey is the stable content hash of URL used as the cache key.
	URLKey string `json:"urlKey"`
	// Status is the current lifecycle state of the scan.
	Status ScanStatus `json:"status"`
	// Result contains the latest known outcome of the scan.
	Result ScanResult `json:"result"`

	// Attempts is the number of times the worker has tried to process this scan.
	Attempts uint `json:"attempts"`
	// LastError stores the most recent processing error message, if any.
	LastError string `json:"-"`

	// CreatedAt is the time when the scan request was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is the time when the scan was last updated.
	UpdatedAt time.Time `json:"updatedAt"`
	// DeletedAt marks when the scan was soft-deleted; zero value means not deleted.
	DeletedAt time.Time `json:"-"`
}
