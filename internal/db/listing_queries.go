package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrAlreadyMerged   = errors.New("listing is already merged")
)

const listingColumns = `
	id,
	listing_uuid::text,
	source,
	source_id,
	title,
	organization,
	category,
	support_type,
	target_audience,
	support_amount,
	application_start,
	application_end,
	content,
	attachment_urls,
	content_language,
	eligibility_criteria,
	status,
	merged_into_id,
	created_at,
	updated_at`

func scanListing(scan func(dest ...any) error) (Listing, error) {
	var (
		l           Listing
		attachments []byte
		eligibility []byte
	)
	if err := scan(
		&l.ID,
		&l.ListingUUID,
		&l.Source,
		&l.SourceID,
		&l.Title,
		&l.Organization,
		&l.Category,
		&l.SupportType,
		&l.TargetAudience,
		&l.SupportAmount,
		&l.ApplicationStart,
		&l.ApplicationEnd,
		&l.Content,
		&attachments,
		&l.ContentLanguage,
		&eligibility,
		&l.Status,
		&l.MergedIntoID,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return Listing{}, err
	}

	if len(attachments) > 0 && string(attachments) != "null" {
		_ = json.Unmarshal(attachments, &l.AttachmentURLs)
	}
	if len(eligibility) > 0 && string(eligibility) != "null" {
		l.EligibilityCriteria = json.RawMessage(eligibility)
	}
	return l, nil
}

func marshalAttachments(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return "", fmt.Errorf("marshal attachment urls: %w", err)
	}
	return string(encoded), nil
}

// GetListingBySourceKey looks up a listing by its stable upstream identity.
// Returns (nil, nil) when no row exists.
func (p *Pool) GetListingBySourceKey(ctx context.Context, source, sourceID string) (*Listing, error) {
	q := `SELECT` + listingColumns + `
FROM grants.listings
WHERE source = $1 AND source_id = $2`

	listing, err := scanListing(p.QueryRow(ctx, q, source, sourceID).Scan)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query listing by source key: %w", err)
	}
	return &listing, nil
}

// GetListingByUUID returns ErrListingNotFound when no row exists.
func (p *Pool) GetListingByUUID(ctx context.Context, listingUUID string) (*Listing, error) {
	q := `SELECT` + listingColumns + `
FROM grants.listings
WHERE listing_uuid = $1::uuid`

	listing, err := scanListing(p.QueryRow(ctx, q, strings.TrimSpace(listingUUID)).Scan)
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("query listing by uuid: %w", err)
	}
	return &listing, nil
}

// ActiveListingsByOrganization returns active listings for one organization,
// excluding the given source. This is the candidate set for cross-source
// duplicate detection.
func (p *Pool) ActiveListingsByOrganization(ctx context.Context, organization, excludeSource string) ([]Listing, error) {
	q := `SELECT` + listingColumns + `
FROM grants.listings
WHERE status = 'active'
  AND organization = $1
  AND source <> $2
ORDER BY id ASC`

	return p.queryListings(ctx, q, organization, excludeSource)
}

// ActiveListings returns active listings for batch duplicate review, bounded
// by limit.
func (p *Pool) ActiveListings(ctx context.Context, limit int) ([]Listing, error) {
	q := `SELECT` + listingColumns + `
FROM grants.listings
WHERE status = 'active'
ORDER BY id ASC
LIMIT $1`

	return p.queryListings(ctx, q, limit)
}

// UnclassifiedActiveListings returns active listings of one source that do
// not carry eligibility criteria yet, oldest first.
func (p *Pool) UnclassifiedActiveListings(ctx context.Context, source string, limit int) ([]Listing, error) {
	q := `SELECT` + listingColumns + `
FROM grants.listings
WHERE source = $1
  AND status = 'active'
  AND eligibility_criteria IS NULL
ORDER BY created_at ASC, id ASC
LIMIT $2`

	return p.queryListings(ctx, q, source, limit)
}

func (p *Pool) queryListings(ctx context.Context, query string, args ...any) ([]Listing, error) {
	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	listings := make([]Listing, 0, 16)
	for rows.Next() {
		listing, err := scanListing(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing rows: %w", err)
	}
	return listings, nil
}

// ListingUpdate carries the incoming values for an existing row plus the
// change records detected against the stored values.
type ListingUpdate struct {
	ListingID int64
	Incoming  Listing
	Changes   []ChangeRecord
}

// ApplyListingBatch applies one upsert batch in a single transaction: plain
// inserts for unknown source keys and field overwrites plus change records
// for known ones. A failure rolls back the whole batch.
func (p *Pool) ApplyListingBatch(ctx context.Context, inserts []Listing, updates []ListingUpdate, now time.Time) error {
	if len(inserts) == 0 && len(updates) == 0 {
		return nil
	}

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const insertQuery = `
INSERT INTO grants.listings (
	listing_uuid,
	source,
	source_id,
	title,
	organization,
	category,
	support_type,
	target_audience,
	support_amount,
	application_start,
	application_end,
	content,
	attachment_urls,
	content_language,
	status,
	created_at,
	updated_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, $15, $16, $16)
ON CONFLICT (source, source_id) DO NOTHING`

	for _, listing := range inserts {
		listingUUID := strings.TrimSpace(listing.ListingUUID)
		if listingUUID == "" {
			listingUUID = uuid.NewString()
		}
		attachments, err := marshalAttachments(listing.AttachmentURLs)
		if err != nil {
			return err
		}
		status := listing.Status
		if status == "" {
			status = StatusActive
		}

		if _, err := tx.Exec(
			ctx,
			insertQuery,
			listingUUID,
			listing.Source,
			listing.SourceID,
			listing.Title,
			listing.Organization,
			listing.Category,
			listing.SupportType,
			listing.TargetAudience,
			listing.SupportAmount,
			listing.ApplicationStart,
			listing.ApplicationEnd,
			listing.Content,
			attachments,
			listing.ContentLanguage,
			status,
			now,
		); err != nil {
			return fmt.Errorf("insert listing %s/%s: %w", listing.Source, listing.SourceID, err)
		}
	}

	const updateQuery = `
UPDATE grants.listings
SET
	title = $2,
	organization = $3,
	category = $4,
	support_type = $5,
	target_audience = $6,
	support_amount = $7,
	application_start = $8,
	application_end = $9,
	content = $10,
	attachment_urls = $11::jsonb,
	content_language = $12,
	status = $13,
	updated_at = $14
WHERE id = $1`

	for _, update := range updates {
		attachments, err := marshalAttachments(update.Incoming.AttachmentURLs)
		if err != nil {
			return err
		}
		status := update.Incoming.Status
		if status == "" {
			status = StatusActive
		}

		if _, err := tx.Exec(
			ctx,
			updateQuery,
			update.ListingID,
			update.Incoming.Title,
			update.Incoming.Organization,
			update.Incoming.Category,
			update.Incoming.SupportType,
			update.Incoming.TargetAudience,
			update.Incoming.SupportAmount,
			update.Incoming.ApplicationStart,
			update.Incoming.ApplicationEnd,
			update.Incoming.Content,
			attachments,
			update.Incoming.ContentLanguage,
			status,
			now,
		); err != nil {
			return fmt.Errorf("update listing %d: %w", update.ListingID, err)
		}

		for _, change := range update.Changes {
			if err := insertChangeRecordTx(ctx, tx, update.ListingID, change); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit listing batch: %w", err)
	}
	return nil
}

// ExpireStaleListings marks active listings of one source whose application
// deadline is strictly before today as expired. Returns the number of rows
// transitioned.
func (p *Pool) ExpireStaleListings(ctx context.Context, source string, today time.Time, now time.Time) (int64, error) {
	const q = `
UPDATE grants.listings
SET status = 'expired', updated_at = $3
WHERE source = $1
  AND status = 'active'
  AND application_end IS NOT NULL
  AND application_end < $2`

	tag, err := p.Exec(ctx, q, source, today, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale listings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetListingEligibility stores the classification collaborator's result.
func (p *Pool) SetListingEligibility(ctx context.Context, listingID int64, criteria json.RawMessage, now time.Time) error {
	const q = `
UPDATE grants.listings
SET eligibility_criteria = $2::jsonb, updated_at = $3
WHERE id = $1`

	if _, err := p.Exec(ctx, q, listingID, string(criteria), now); err != nil {
		return fmt.Errorf("set listing eligibility: %w", err)
	}
	return nil
}

// MergeListings folds the duplicate listing into the original: the original
// adopts any field it is missing, the duplicate transitions to merged and
// keeps its row for referential integrity. A status change record is written
// for the duplicate.
func (p *Pool) MergeListings(ctx context.Context, originalUUID, duplicateUUID string, now time.Time) error {
	original, err := p.GetListingByUUID(ctx, originalUUID)
	if err != nil {
		return err
	}
	duplicate, err := p.GetListingByUUID(ctx, duplicateUUID)
	if err != nil {
		return err
	}
	if original.ID == duplicate.ID {
		return fmt.Errorf("cannot merge a listing into itself")
	}
	if duplicate.Status == StatusMerged {
		return ErrAlreadyMerged
	}

	folded := foldListing(*original, *duplicate)
	foldedAttachments, err := marshalAttachments(folded.AttachmentURLs)
	if err != nil {
		return err
	}

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const foldQuery = `
UPDATE grants.listings
SET
	support_amount = $2,
	application_start = $3,
	application_end = $4,
	content = $5,
	attachment_urls = $6::jsonb,
	category = $7,
	support_type = $8,
	target_audience = $9,
	updated_at = $10
WHERE id = $1`

	if _, err := tx.Exec(
		ctx,
		foldQuery,
		original.ID,
		folded.SupportAmount,
		folded.ApplicationStart,
		folded.ApplicationEnd,
		folded.Content,
		foldedAttachments,
		folded.Category,
		folded.SupportType,
		folded.TargetAudience,
		now,
	); err != nil {
		return fmt.Errorf("fold duplicate into original: %w", err)
	}

	const markQuery = `
UPDATE grants.listings
SET status = 'merged', merged_into_id = $2, updated_at = $3
WHERE id = $1`

	if _, err := tx.Exec(ctx, markQuery, duplicate.ID, original.ID, now); err != nil {
		return fmt.Errorf("mark duplicate merged: %w", err)
	}

	if err := insertChangeRecordTx(ctx, tx, duplicate.ID, ChangeRecord{
		ChangeType: ChangeTypeStatus,
		FieldName:  "status",
		OldValue:   duplicate.Status,
		NewValue:   StatusMerged,
		DetectedAt: now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

// foldListing fills the original's empty fields from the duplicate and unions
// attachment URLs, preserving original values wherever present.
func foldListing(original, duplicate Listing) Listing {
	if strings.TrimSpace(original.SupportAmount) == "" {
		original.SupportAmount = duplicate.SupportAmount
	}
	if original.ApplicationStart == nil {
		original.ApplicationStart = duplicate.ApplicationStart
	}
	if original.ApplicationEnd == nil {
		original.ApplicationEnd = duplicate.ApplicationEnd
	}
	if strings.TrimSpace(original.Content) == "" {
		original.Content = duplicate.Content
	}
	if strings.TrimSpace(original.Category) == "" {
		original.Category = duplicate.Category
	}
	if strings.TrimSpace(original.SupportType) == "" {
		original.SupportType = duplicate.SupportType
	}
	if strings.TrimSpace(original.TargetAudience) == "" {
		original.TargetAudience = duplicate.TargetAudience
	}

	seen := make(map[string]struct{}, len(original.AttachmentURLs)+len(duplicate.AttachmentURLs))
	merged := make([]string, 0, len(original.AttachmentURLs)+len(duplicate.AttachmentURLs))
	for _, u := range append(append([]string{}, original.AttachmentURLs...), duplicate.AttachmentURLs...) {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, exists := seen[u]; exists {
			continue
		}
		seen[u] = struct{}{}
		merged = append(merged, u)
	}
	original.AttachmentURLs = merged
	return original
}

// ListingFilter narrows ListListings results.
type ListingFilter struct {
	Source       string
	Organization string
	Status       string
	Query        string
	Page         int
	PageSize     int
}

// ListListings returns a filtered, paginated slice of listings plus the total
// match count.
func (p *Pool) ListListings(ctx context.Context, filter ListingFilter) (int64, []Listing, error) {
	search := ""
	if strings.TrimSpace(filter.Query) != "" {
		search = "%" + strings.TrimSpace(filter.Query) + "%"
	}

	const countQuery = `
SELECT COUNT(*)
FROM grants.listings
WHERE ($1 = '' OR source = $1)
  AND ($2 = '' OR organization = $2)
  AND ($3 = '' OR status = $3)
  AND ($4 = '' OR title ILIKE $4 OR organization ILIKE $4)`

	var total int64
	if err := p.QueryRow(ctx, countQuery, filter.Source, filter.Organization, filter.Status, search).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count listings: %w", err)
	}

	offset := (filter.Page - 1) * filter.PageSize

	q := `SELECT` + listingColumns + `
FROM grants.listings
WHERE ($1 = '' OR source = $1)
  AND ($2 = '' OR organization = $2)
  AND ($3 = '' OR status = $3)
  AND ($4 = '' OR title ILIKE $4 OR organization ILIKE $4)
ORDER BY updated_at DESC, id DESC
LIMIT $5
OFFSET $6`

	listings, err := p.queryListings(ctx, q, filter.Source, filter.Organization, filter.Status, search, filter.PageSize, offset)
	if err != nil {
		return 0, nil, err
	}
	return total, listings, nil
}
