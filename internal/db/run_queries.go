package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxRunErrorLength = 4000

// InsertSyncRun records the start of an orchestrator invocation.
func (p *Pool) InsertSyncRun(ctx context.Context, source string, startedAt time.Time) (int64, string, error) {
	const q = `
INSERT INTO grants.sync_runs (
	sync_run_uuid,
	source,
	started_at,
	status,
	total_fetched,
	new_added,
	updated,
	failed
)
VALUES ($1::uuid, $2, $3, 'running', 0, 0, 0, 0)
RETURNING id`

	runUUID := uuid.NewString()
	var runID int64
	if err := p.QueryRow(ctx, q, runUUID, source, startedAt).Scan(&runID); err != nil {
		return 0, "", fmt.Errorf("insert sync run: %w", err)
	}
	return runID, runUUID, nil
}

// RunFinalization carries the terminal state of a sync run.
type RunFinalization struct {
	Status       string
	EndedAt      time.Time
	TotalFetched int
	NewAdded     int
	Updated      int
	Failed       int
	Err          error
}

// FinalizeSyncRun transitions a run to its terminal state exactly once.
func (p *Pool) FinalizeSyncRun(ctx context.Context, runID int64, fin RunFinalization) error {
	const q = `
UPDATE grants.sync_runs
SET
	status = $2,
	ended_at = $3,
	total_fetched = $4,
	new_added = $5,
	updated = $6,
	failed = $7,
	error_message = $8
WHERE id = $1 AND status = 'running'`

	var errMessage *string
	if fin.Err != nil {
		msg := strings.TrimSpace(fin.Err.Error())
		if len(msg) > maxRunErrorLength {
			msg = msg[:maxRunErrorLength]
		}
		errMessage = &msg
	}

	if _, err := p.Exec(
		ctx,
		q,
		runID,
		fin.Status,
		fin.EndedAt,
		fin.TotalFetched,
		fin.NewAdded,
		fin.Updated,
		fin.Failed,
		errMessage,
	); err != nil {
		return fmt.Errorf("finalize sync run %d: %w", runID, err)
	}
	return nil
}

// ListSyncRuns returns recent runs, optionally filtered by source.
func (p *Pool) ListSyncRuns(ctx context.Context, source string, limit int) ([]SyncRun, error) {
	const q = `
SELECT
	id,
	sync_run_uuid::text,
	source,
	started_at,
	ended_at,
	status,
	total_fetched,
	new_added,
	updated,
	failed,
	error_message
FROM grants.sync_runs
WHERE ($1 = '' OR source = $1)
ORDER BY started_at DESC, id DESC
LIMIT $2`

	rows, err := p.Query(ctx, q, source, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	runs := make([]SyncRun, 0, limit)
	for rows.Next() {
		var run SyncRun
		if err := rows.Scan(
			&run.ID,
			&run.SyncRunUUID,
			&run.Source,
			&run.StartedAt,
			&run.EndedAt,
			&run.Status,
			&run.TotalFetched,
			&run.NewAdded,
			&run.Updated,
			&run.Failed,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	return runs, nil
}
