package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bizradar.kr/grantsync/internal/classify"
	"bizradar.kr/grantsync/internal/db"
	"bizradar.kr/grantsync/internal/dedup"
	"bizradar.kr/grantsync/internal/fetch"
	"bizradar.kr/grantsync/internal/globaltime"
	"bizradar.kr/grantsync/internal/ratelimit"
)

// ErrUnknownSource is returned when no fetcher is registered for the
// requested source.
var ErrUnknownSource = errors.New("unknown source")

// RateLimitError rejects an untrusted caller that exhausted its window.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Caller identifies who triggered a synchronization. Trusted callers (the
// scheduler, the CLI) bypass rate limiting.
type Caller struct {
	ID      string
	Trusted bool
}

// Summary is the outcome of one synchronization run.
type Summary struct {
	Source              string        `json:"source"`
	RunUUID             string        `json:"run_uuid"`
	Fetched             int           `json:"fetched"`
	SkippedDuplicates   int           `json:"skipped_duplicates"`
	Upserted            int           `json:"upserted"`
	ChangesDetected     int           `json:"changes_detected"`
	NotificationsQueued int           `json:"notifications_queued"`
	Expired             int64         `json:"expired"`
	Classified          int           `json:"classified"`
	Duration            time.Duration `json:"-"`
}

// Store is the persistence surface of the orchestrator itself; the upserter
// and detector carry their own.
type Store interface {
	InsertSyncRun(ctx context.Context, source string, startedAt time.Time) (int64, string, error)
	FinalizeSyncRun(ctx context.Context, runID int64, fin db.RunFinalization) error
	ExpireStaleListings(ctx context.Context, source string, today, now time.Time) (int64, error)
	UnclassifiedActiveListings(ctx context.Context, source string, limit int) ([]db.Listing, error)
	SetListingEligibility(ctx context.Context, listingID int64, criteria json.RawMessage, now time.Time) error
}

// DuplicateDetector checks one fetched candidate against persisted listings.
type DuplicateDetector interface {
	FindDuplicate(ctx context.Context, candidate dedup.Candidate) *dedup.Match
}

// BatchUpserter writes one fetched batch into the canonical store.
type BatchUpserter interface {
	UpsertBatch(ctx context.Context, incoming []db.Listing) (Result, error)
}

// Classifier derives structured eligibility criteria for one listing.
type Classifier interface {
	Classify(ctx context.Context, req classify.Request) (json.RawMessage, error)
}

// Options tune the post-upsert classification pass.
type Options struct {
	ClassifyBatchSize int
	ClassifyDelay     time.Duration
}

// Orchestrator runs one source synchronization end to end: rate limiting,
// run bookkeeping, fetch, duplicate skipping, upsert, stale expiry, and the
// throttled classification pass.
type Orchestrator struct {
	fetchers   *fetch.Registry
	limiter    ratelimit.Limiter
	detector   DuplicateDetector
	upserter   BatchUpserter
	classifier Classifier
	store      Store
	logger     zerolog.Logger
	opts       Options
}

func NewOrchestrator(
	fetchers *fetch.Registry,
	limiter ratelimit.Limiter,
	detector DuplicateDetector,
	upserter BatchUpserter,
	classifier Classifier,
	store Store,
	logger zerolog.Logger,
	opts Options,
) *Orchestrator {
	if opts.ClassifyBatchSize <= 0 {
		opts.ClassifyBatchSize = 10
	}
	return &Orchestrator{
		fetchers:   fetchers,
		limiter:    limiter,
		detector:   detector,
		upserter:   upserter,
		classifier: classifier,
		store:      store,
		logger:     logger,
		opts:       opts,
	}
}

// Sync runs one synchronization for the given source. Rate limiting and
// source resolution happen before any run row is written, so rejected
// requests leave no trace in sync_runs. A fetch or upsert failure finalizes
// the run as failed and is returned; expiry and classification failures only
// degrade the run, they never fail it.
func (o *Orchestrator) Sync(ctx context.Context, source string, caller Caller) (*Summary, error) {
	if !caller.Trusted && o.limiter != nil {
		decision := o.limiter.Allow(ctx, caller.ID)
		if !decision.Allowed {
			o.logger.Warn().
				Str("source", source).
				Str("caller", caller.ID).
				Dur("retry_after", decision.RetryAfter).
				Msg("sync request rate limited")
			return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
		}
	}

	fetcher, ok := o.fetchers.Fetcher(source)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	startedAt := globaltime.UTC()
	runID, runUUID, err := o.store.InsertSyncRun(ctx, source, startedAt)
	if err != nil {
		return nil, fmt.Errorf("start sync run: %w", err)
	}

	logger := o.logger.With().Str("source", source).Str("run_uuid", runUUID).Logger()
	logger.Info().Str("caller", caller.ID).Msg("sync run started")

	summary := &Summary{Source: source, RunUUID: runUUID}

	fetched, invalid, err := fetcher.FetchAndTransform(ctx)
	if err != nil {
		o.finalize(ctx, logger, runID, db.RunFinalization{
			Status:  db.RunStatusFailed,
			EndedAt: globaltime.UTC(),
			Err:     err,
		})
		return nil, fmt.Errorf("fetch source %s: %w", source, err)
	}
	summary.Fetched = len(fetched) + invalid
	if invalid > 0 {
		logger.Warn().Int("invalid_items", invalid).Msg("feed items skipped during transform")
	}

	kept := make([]db.Listing, 0, len(fetched))
	for _, listing := range fetched {
		match := o.detector.FindDuplicate(ctx, dedup.Candidate{
			Title:        listing.Title,
			Organization: listing.Organization,
			Source:       listing.Source,
		})
		if match != nil {
			summary.SkippedDuplicates++
			logger.Info().
				Str("source_id", listing.SourceID).
				Str("title", listing.Title).
				Int64("duplicate_of", match.Listing.ID).
				Str("match_type", match.MatchType).
				Float64("similarity", match.Similarity).
				Msg("skipping cross-source duplicate")
			continue
		}
		kept = append(kept, listing)
	}

	result, err := o.upserter.UpsertBatch(ctx, kept)
	if err != nil {
		// The batch is all-or-nothing, so every kept listing failed.
		o.finalize(ctx, logger, runID, db.RunFinalization{
			Status:       db.RunStatusFailed,
			EndedAt:      globaltime.UTC(),
			TotalFetched: summary.Fetched,
			Failed:       len(kept),
			Err:          err,
		})
		return nil, fmt.Errorf("upsert batch for %s: %w", source, err)
	}
	summary.Upserted = result.Upserted
	summary.ChangesDetected = result.ChangesDetected
	summary.NotificationsQueued = result.NotificationsQueued

	expired, err := o.store.ExpireStaleListings(ctx, source, globaltime.Today(), globaltime.UTC())
	if err != nil {
		logger.Error().Err(err).Msg("failed to expire stale listings")
	} else {
		summary.Expired = expired
	}

	summary.Classified = o.classifyPending(ctx, logger, source)

	o.finalize(ctx, logger, runID, db.RunFinalization{
		Status:       db.RunStatusSucceeded,
		EndedAt:      globaltime.UTC(),
		TotalFetched: summary.Fetched,
		NewAdded:     summary.Upserted,
		Updated:      summary.ChangesDetected,
	})

	summary.Duration = globaltime.UTC().Sub(startedAt)
	logger.Info().
		Int("fetched", summary.Fetched).
		Int("skipped_duplicates", summary.SkippedDuplicates).
		Int("upserted", summary.Upserted).
		Int("changes_detected", summary.ChangesDetected).
		Int("notifications_queued", summary.NotificationsQueued).
		Int64("expired", summary.Expired).
		Int("classified", summary.Classified).
		Dur("duration", summary.Duration).
		Msg("sync run finished")
	return summary, nil
}

// classifyPending sends unclassified listings of the source to the
// classifier, paced so that the external model is never hammered. Per-item
// failures are logged and skipped; the item stays unclassified and is picked
// up again on the next run.
func (o *Orchestrator) classifyPending(ctx context.Context, logger zerolog.Logger, source string) int {
	if o.classifier == nil {
		return 0
	}

	pending, err := o.store.UnclassifiedActiveListings(ctx, source, o.opts.ClassifyBatchSize)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load unclassified listings")
		return 0
	}

	pace := newPacer(o.opts.ClassifyDelay)
	classified := 0
	for _, listing := range pending {
		if err := pace.wait(ctx); err != nil {
			logger.Warn().Err(err).Msg("classification pass interrupted")
			break
		}

		criteria, err := o.classifier.Classify(ctx, classify.Request{
			Title:          listing.Title,
			Content:        listing.Content,
			TargetAudience: listing.TargetAudience,
		})
		if err != nil {
			logger.Warn().
				Err(err).
				Int64("listing_id", listing.ID).
				Msg("classification failed for listing")
			continue
		}

		if err := o.store.SetListingEligibility(ctx, listing.ID, criteria, globaltime.UTC()); err != nil {
			logger.Error().
				Err(err).
				Int64("listing_id", listing.ID).
				Msg("failed to store eligibility criteria")
			continue
		}
		classified++
	}
	return classified
}

func (o *Orchestrator) finalize(ctx context.Context, logger zerolog.Logger, runID int64, fin db.RunFinalization) {
	if err := o.store.FinalizeSyncRun(ctx, runID, fin); err != nil {
		logger.Error().Err(err).Int64("run_id", runID).Msg("failed to finalize sync run")
	}
}

// pacer inserts a fixed delay before every call after the first.
type pacer struct {
	delay time.Duration
	first bool
}

func newPacer(delay time.Duration) *pacer {
	return &pacer{delay: delay, first: true}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.first || p.delay <= 0 {
		p.first = false
		return nil
	}
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
