package db

import (
	"context"
	"fmt"
	"time"
)

// Stats summarizes the canonical record set for the observability endpoint.
type Stats struct {
	ActiveListings   int64            `json:"active_listings"`
	ExpiredListings  int64            `json:"expired_listings"`
	MergedListings   int64            `json:"merged_listings"`
	ChangeRecords    int64            `json:"change_records"`
	SyncRuns         int64            `json:"sync_runs"`
	RunningSyncRuns  int64            `json:"running_sync_runs"`
	LastRunStartedAt *time.Time       `json:"last_run_started_at,omitempty"`
	ListingsBySource map[string]int64 `json:"listings_by_source"`
}

func (p *Pool) QueryStats(ctx context.Context) (*Stats, error) {
	const q = `
SELECT
	(SELECT COUNT(*) FROM grants.listings WHERE status = 'active') AS active_listings,
	(SELECT COUNT(*) FROM grants.listings WHERE status = 'expired') AS expired_listings,
	(SELECT COUNT(*) FROM grants.listings WHERE status = 'merged') AS merged_listings,
	(SELECT COUNT(*) FROM grants.change_records) AS change_records,
	(SELECT COUNT(*) FROM grants.sync_runs) AS sync_runs,
	(SELECT COUNT(*) FROM grants.sync_runs WHERE status = 'running') AS running_sync_runs,
	(SELECT MAX(started_at) FROM grants.sync_runs) AS last_run_started_at`

	var stats Stats
	if err := p.QueryRow(ctx, q).Scan(
		&stats.ActiveListings,
		&stats.ExpiredListings,
		&stats.MergedListings,
		&stats.ChangeRecords,
		&stats.SyncRuns,
		&stats.RunningSyncRuns,
		&stats.LastRunStartedAt,
	); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	const bySourceQuery = `
SELECT source, COUNT(*)::BIGINT
FROM grants.listings
GROUP BY source
ORDER BY source`

	rows, err := p.Query(ctx, bySourceQuery)
	if err != nil {
		return nil, fmt.Errorf("query listings by source: %w", err)
	}
	defer rows.Close()

	stats.ListingsBySource = map[string]int64{}
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("scan listings by source: %w", err)
		}
		stats.ListingsBySource[source] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings by source: %w", err)
	}

	return &stats, nil
}
