package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"urlrisk/pkg/domain"
	"urlrisk/pkg/storage"
)

const (
	scansTable = "scans"
)

func (p *PgSQL) StoreScans(ctx context.Context, scans ...domain.Scan) ([]domain.Scan, error) {
	if len(scans) == 0 {
		return nil, nil
	}

	pgScans, err := domainScansToPg(scans)
	if err != nil {
		return nil, err
	}

	var result []PgScan
	if err := p.Builder.Insert(scansTable).
		Rows(pgScans).
		Returning(&PgScan{}).
		Executor().ScanStructsContext(ctx, &result); err != nil {
		return nil, fmt.Errorf("could not store scans into pg: %w", err)
	}

	return pgScansToDomain(result)
}

// updateRecord builds the common goqu record for scan updates. Attempts is
// incremented and updated_at refreshed on every update.
func updateRecord(updates storage.ScanUpdates) (goqu.Record, error) {
	rec := goqu.Record{
		"updated_at": goqu.L("CURRENT_TIMESTAMP"),
		"attempts":   goqu.L("attempts + 1"),
		"status":     updates.Status,
	}
	if updates.Status == domain.ScanStatusFailed && updates.MaxAttempts > 0 {
		// only fail for good once the retry budget is exhausted
		rec["status"] = goqu.L("CASE WHEN attempts + 1 >= ? THEN ? ELSE status END",
			updates.MaxAttempts, string(domain.ScanStatusFailed))
	}
	if updates.Result != nil {
		b, err := json.Marshal(updates.Result)
		if err != nil {
			return nil, fmt.Errorf("could not marshal result: %w", err)
		}

		rec["result"] = b
	}
	if updates.LastError != nil {
		if *updates.LastError == "" {
			// set to NULL when empty string provided
			rec["last_error"] = goqu.L("NULL")
		} else {
			rec["last_error"] = *updates.LastError
		}
	}

	return rec, nil
}

// UpdatePendingScansByURL updates all pending scans for the given canonical URL
// with provided fields. Only non-nil fields from updates are set.
func (p *PgSQL) UpdatePendingScansByURL(ctx context.Context, URL string, updates storage.ScanUpdates) error {
	rec, err := updateRecord(updates)
	if err != nil {
		return err
	}

	_, err = p.Builder.Update(scansTable).
		Set(rec).Where(
		goqu.I("url").Eq(URL),
		goqu.I("status").Eq(string(domain.ScanStatusPending)),
		goqu.I("deleted_at").IsNull(),
	).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("could not update pending scans by url in pg: %w", err)
	}

	return nil
}

// PendingScanCountByURL counts pending, non-deleted scans for the canonical URL.
func (p *PgSQL) PendingScanCountByURL(ctx context.Context, URL string) (int64, error) {
	count, err := p.Builder.From(scansTable).
		Where(
			goqu.I("url").Eq(URL),
			goqu.I("status").Eq(string(domain.ScanStatusPending)),
			goqu.I("deleted_at").IsNull(),
		).
		CountContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not count pending scans by url in pg: %w", err)
	}

	return count, nil
}

// UpdateScanByID updates a single scan by ID and returns the updated row, or
// nil when no non-deleted row matches.
func (p *PgSQL) UpdateScanByID(ctx context.Context, id domain.ScanID, updates storage.ScanUpdates) (*domain.Scan, error) {
	rec, err := updateRecord(updates)
	if err != nil {
		return nil, err
	}

	var row PgScan
	found, err := p.Builder.Update(scansTable).
		Set(rec).Where(
		goqu.I("id").Eq(uuid.UUID(id)),
		goqu.I("deleted_at").IsNull(),
	).Returning(&PgScan{}).Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("could not update scan by id in pg: %w", err)
	}
	if !found {
		return nil, nil
	}

	return row.ToDomain()
}

// DeleteScan performs a soft delete by setting deleted_at timestamp for a
// given scan id, returning the deleted record.
func (p *PgSQL) DeleteScan(ctx context.Context, id domain.ScanID) (*domain.Scan, error) {
	var row PgScan
	found, err := p.Builder.Update(scansTable).
		Set(goqu.Record{
			"deleted_at": goqu.L("CURRENT_TIMESTAMP"),
		}).Where(
		goqu.I("id").Eq(uuid.UUID(id)),
		goqu.I("deleted_at").IsNull(),
	).Returning(&PgScan{}).Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("could not delete scan in pg: %w", err)
	}
	if !found {
		return nil, nil
	}

	return row.ToDomain()
}

// ListScans returns a page of scans filtered by optional status and cursor,
// limited by limit. Results are ordered by created_at DESC, id DESC.
func (p *PgSQL) ListScans(ctx context.Context,
	status domain.ScanStatus,
	cursor time.Time,
	limit uint) (storage.ScanPage, error) {
	w := []goqu.Expression{
		goqu.I("deleted_at").IsNull(),
	}
	if status != "" {
		w = append(w, goqu.I("status").Eq(string(status)))
	}
	if !cursor.IsZero() {
		w = append(w, goqu.I("created_at").Lt(cursor))
	}

	// fetch one extra to determine if there is a next page
	fetch := limit + 1
	ds := p.Builder.From(scansTable).
		Where(w...).
		Order(goqu.I("created_at").Desc(), goqu.I("id").Desc()).
		Limit(fetch)

	var rows []PgScan
	if err := ds.Executor().ScanStructsContext(ctx, &rows); err != nil {
		return storage.ScanPage{}, fmt.Errorf("could not fetch scans from pg: %w", err)
	}

	// if we fetched more than the limit, there is a next page
	var nextCursor *time.Time
	if uint(len(rows)) > limit {
		trimmed := rows[:limit]
		nextCursor = &trimmed[len(trimmed)-1].CreatedAt
		rows = trimmed
	}

	domainRows, err := pgScansToDomain(rows)
	if err != nil {
		return storage.ScanPage{}, err
	}

	return storage.ScanPage{
		Scans:      domainRows,
		NextCursor: nextCursor,
	}, nil
}

// ScanByID returns a scan by its ID, excluding soft-deleted rows.
func (p *PgSQL) ScanByID(ctx context.Context, id domain.ScanID) (*domain.Scan, error) {
	var row PgScan
	found, err := p.Builder.From(scansTable).
		Where(
			goqu.I("id").Eq(uuid.UUID(id)),
			goqu.I("deleted_at").IsNull(),
		).
		Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("could not fetch scan by id: %w", err)
	}
	if !found {
		return nil, nil
	}

	return row.ToDomain()
}

// LastCompletedScanByURL returns the most recent completed scan for the
// canonical URL, or nil when none exists.
func (p *PgSQL) LastCompletedScanByURL(ctx context.Context, URL string) (*domain.Scan, error) {
	var row PgScan
	found, err := p.Builder.From(scansTable).
		Where(
			goqu.I("url").Eq(URL),
			goqu.I("status").Eq(string(domain.ScanStatusCompleted)),
			goqu.I("deleted_at").IsNull(),
		).
		Order(goqu.I("updated_at").Desc()).
		Limit(1).
		Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("could not fetch last completed scan by url: %w", err)
	}
	if !found {
		return nil, nil
	}

	return row.ToDomain()
}
