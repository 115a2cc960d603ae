package db

import (
	"context"
	"fmt"
)

func insertChangeRecordTx(ctx context.Context, tx Tx, listingID int64, change ChangeRecord) error {
	const q = `
INSERT INTO grants.change_records (
	listing_id,
	change_type,
	field_name,
	old_value,
	new_value,
	detected_at
)
VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := tx.Exec(
		ctx,
		q,
		listingID,
		change.ChangeType,
		change.FieldName,
		change.OldValue,
		change.NewValue,
		change.DetectedAt,
	); err != nil {
		return fmt.Errorf("insert change record for listing %d: %w", listingID, err)
	}
	return nil
}

const changeRecordColumns = `
	id,
	listing_id,
	change_type,
	field_name,
	old_value,
	new_value,
	detected_at`

// ListChangeRecords returns a listing's change history, newest first.
func (p *Pool) ListChangeRecords(ctx context.Context, listingID int64, limit int) ([]ChangeRecord, error) {
	q := `SELECT` + changeRecordColumns + `
FROM grants.change_records
WHERE listing_id = $1
ORDER BY detected_at DESC, id DESC
LIMIT $2`

	return p.queryChangeRecords(ctx, q, listingID, limit)
}

// ListRecentChangeRecords returns the most recent change records across all
// listings, newest first.
func (p *Pool) ListRecentChangeRecords(ctx context.Context, limit int) ([]ChangeRecord, error) {
	q := `SELECT` + changeRecordColumns + `
FROM grants.change_records
ORDER BY detected_at DESC, id DESC
LIMIT $1`

	return p.queryChangeRecords(ctx, q, limit)
}

func (p *Pool) queryChangeRecords(ctx context.Context, query string, args ...any) ([]ChangeRecord, error) {
	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}
	defer rows.Close()

	records := make([]ChangeRecord, 0, 16)
	for rows.Next() {
		var record ChangeRecord
		if err := rows.Scan(
			&record.ID,
			&record.ListingID,
			&record.ChangeType,
			&record.FieldName,
			&record.OldValue,
			&record.NewValue,
			&record.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change records: %w", err)
	}
	return records, nil
}
