package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bizradar.kr/grantsync/internal/db"
	"bizradar.kr/grantsync/internal/globaltime"
)

// Fields whose changes warrant notifying subscribed businesses.
var notifiableChangeTypes = map[string]struct{}{
	db.ChangeTypeAmount:   {},
	db.ChangeTypeDeadline: {},
	db.ChangeTypeStatus:   {},
}

// UpsertStore is the persistence surface the upserter needs.
type UpsertStore interface {
	GetListingBySourceKey(ctx context.Context, source, sourceID string) (*db.Listing, error)
	ApplyListingBatch(ctx context.Context, inserts []db.Listing, updates []db.ListingUpdate, now time.Time) error
}

// Result summarizes one upsert batch.
type Result struct {
	Upserted            int
	ChangesDetected     int
	NotificationsQueued int
}

// Upserter writes fetched listings into the canonical store, recording one
// change record per field that differs from the stored row. Re-running the
// same batch writes nothing.
type Upserter struct {
	store  UpsertStore
	logger zerolog.Logger
}

func NewUpserter(store UpsertStore, logger zerolog.Logger) *Upserter {
	return &Upserter{store: store, logger: logger}
}

// UpsertBatch diffs each incoming listing against the stored row and applies
// all resulting inserts and updates in one transaction. Rows already folded
// into another listing are left untouched. Lookup failures abort the batch
// before anything is written.
func (u *Upserter) UpsertBatch(ctx context.Context, incoming []db.Listing) (Result, error) {
	var result Result
	if len(incoming) == 0 {
		return result, nil
	}

	now := globaltime.UTC()
	inserts := make([]db.Listing, 0, len(incoming))
	updates := make([]db.ListingUpdate, 0)

	for _, candidate := range incoming {
		if candidate.Status == "" {
			candidate.Status = db.StatusActive
		}

		existing, err := u.store.GetListingBySourceKey(ctx, candidate.Source, candidate.SourceID)
		if err != nil {
			return Result{}, fmt.Errorf("look up listing %s/%s: %w", candidate.Source, candidate.SourceID, err)
		}

		if existing == nil {
			inserts = append(inserts, candidate)
			result.Upserted++
			continue
		}
		if existing.Status == db.StatusMerged {
			u.logger.Debug().
				Str("source", candidate.Source).
				Str("source_id", candidate.SourceID).
				Msg("skipping upsert of merged listing")
			continue
		}

		if candidate.ContentLanguage == "" {
			candidate.ContentLanguage = existing.ContentLanguage
		}

		changes := diffListing(*existing, candidate, now)
		if len(changes) == 0 {
			continue
		}

		updates = append(updates, db.ListingUpdate{
			ListingID: existing.ID,
			Incoming:  candidate,
			Changes:   changes,
		})
		result.Upserted++
		result.ChangesDetected += len(changes)

		for _, change := range changes {
			if _, notify := notifiableChangeTypes[change.ChangeType]; !notify {
				continue
			}
			result.NotificationsQueued++
			u.logger.Info().
				Int64("listing_id", existing.ID).
				Str("change_type", change.ChangeType).
				Str("field", change.FieldName).
				Str("old", change.OldValue).
				Str("new", change.NewValue).
				Msg("notification queued for listing change")
		}
	}

	if err := u.store.ApplyListingBatch(ctx, inserts, updates, now); err != nil {
		return Result{}, fmt.Errorf("apply listing batch: %w", err)
	}
	return result, nil
}

// diffListing compares every tracked field and returns one change record per
// difference.
func diffListing(existing, incoming db.Listing, now time.Time) []db.ChangeRecord {
	var changes []db.ChangeRecord

	record := func(field, oldValue, newValue string) {
		if oldValue == newValue {
			return
		}
		changes = append(changes, db.ChangeRecord{
			ChangeType: changeTypeFor(field),
			FieldName:  field,
			OldValue:   oldValue,
			NewValue:   newValue,
			DetectedAt: now,
		})
	}

	record("title", existing.Title, incoming.Title)
	record("organization", existing.Organization, incoming.Organization)
	record("category", existing.Category, incoming.Category)
	record("support_type", existing.SupportType, incoming.SupportType)
	record("target_audience", existing.TargetAudience, incoming.TargetAudience)
	record("support_amount", existing.SupportAmount, incoming.SupportAmount)
	record("application_start", formatDate(existing.ApplicationStart), formatDate(incoming.ApplicationStart))
	record("application_end", formatDate(existing.ApplicationEnd), formatDate(incoming.ApplicationEnd))
	record("content", existing.Content, incoming.Content)
	record("attachment_urls", strings.Join(existing.AttachmentURLs, ", "), strings.Join(incoming.AttachmentURLs, ", "))
	record("status", existing.Status, incoming.Status)

	return changes
}

func changeTypeFor(field string) string {
	switch field {
	case "support_amount":
		return db.ChangeTypeAmount
	case "application_start", "application_end":
		return db.ChangeTypeDeadline
	case "status":
		return db.ChangeTypeStatus
	case "content":
		return db.ChangeTypeContent
	default:
		return db.ChangeTypeOther
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
