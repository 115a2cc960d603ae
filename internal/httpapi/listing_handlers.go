package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"bizradar.kr/grantsync/internal/db"
	"bizradar.kr/grantsync/internal/reader"
)

const contentPreviewChars = 300

func (s *Server) handleListings(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	status := strings.TrimSpace(strings.ToLower(c.QueryParam("status")))
	switch status {
	case "", db.StatusActive, db.StatusExpired, db.StatusMerged:
	default:
		return failValidation(c, map[string]string{"status": "must be active, expired, or merged"})
	}

	filter := db.ListingFilter{
		Source:       strings.TrimSpace(c.QueryParam("source")),
		Organization: strings.TrimSpace(c.QueryParam("organization")),
		Status:       status,
		Query:        strings.TrimSpace(c.QueryParam("q")),
		Page:         page,
		PageSize:     pageSize,
	}

	total, listings, err := s.pool.ListListings(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query listings failed")
		return internalError(c, "Failed to load listings")
	}

	items := make([]map[string]any, 0, len(listings))
	for _, listing := range listings {
		items = append(items, listingSummaryView(listing))
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return success(c, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"page":        page,
			"page_size":   pageSize,
			"total_items": total,
			"total_pages": totalPages,
		},
		"filters": map[string]any{
			"source":       filter.Source,
			"organization": filter.Organization,
			"status":       filter.Status,
			"q":            filter.Query,
		},
	})
}

func (s *Server) handleListingDetail(c echo.Context) error {
	listingUUID := strings.TrimSpace(c.Param("listing_uuid"))
	if listingUUID == "" {
		return failValidation(c, map[string]string{"listing_uuid": "is required"})
	}

	listing, err := s.pool.GetListingByUUID(c.Request().Context(), listingUUID)
	if err != nil {
		if errors.Is(err, db.ErrListingNotFound) {
			return failNotFound(c, "Listing not found")
		}
		s.logger.Error().Err(err).Str("listing_uuid", listingUUID).Msg("query listing failed")
		return internalError(c, "Failed to load listing")
	}

	return success(c, listingDetailView(*listing))
}

func (s *Server) handleListingChanges(c echo.Context) error {
	listingUUID := strings.TrimSpace(c.Param("listing_uuid"))
	if listingUUID == "" {
		return failValidation(c, map[string]string{"listing_uuid": "is required"})
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), 100, 1, 500)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	listing, err := s.pool.GetListingByUUID(c.Request().Context(), listingUUID)
	if err != nil {
		if errors.Is(err, db.ErrListingNotFound) {
			return failNotFound(c, "Listing not found")
		}
		s.logger.Error().Err(err).Str("listing_uuid", listingUUID).Msg("query listing failed")
		return internalError(c, "Failed to load listing")
	}

	records, err := s.pool.ListChangeRecords(c.Request().Context(), listing.ID, limit)
	if err != nil {
		s.logger.Error().Err(err).Int64("listing_id", listing.ID).Msg("query change records failed")
		return internalError(c, "Failed to load change records")
	}

	return success(c, map[string]any{
		"listing_uuid": listing.ListingUUID,
		"items":        changeViews(records),
	})
}

func listingSummaryView(listing db.Listing) map[string]any {
	preview, _ := reader.TruncateText(listing.Content, contentPreviewChars)
	return map[string]any{
		"listing_uuid":      listing.ListingUUID,
		"source":            listing.Source,
		"source_id":         listing.SourceID,
		"title":             listing.Title,
		"organization":      listing.Organization,
		"category":          listing.Category,
		"support_type":      listing.SupportType,
		"support_amount":    listing.SupportAmount,
		"target_audience":   listing.TargetAudience,
		"application_start": dateView(listing.ApplicationStart),
		"application_end":   dateView(listing.ApplicationEnd),
		"content_preview":   preview,
		"status":            listing.Status,
		"updated_at":        listing.UpdatedAt,
	}
}

func listingDetailView(listing db.Listing) map[string]any {
	view := listingSummaryView(listing)
	delete(view, "content_preview")
	view["content"] = listing.Content
	view["content_language"] = listing.ContentLanguage
	view["attachment_urls"] = listing.AttachmentURLs
	view["created_at"] = listing.CreatedAt
	if listing.EligibilityCriteria != nil {
		view["eligibility_criteria"] = listing.EligibilityCriteria
	}
	if listing.MergedIntoID != nil {
		view["merged_into_id"] = *listing.MergedIntoID
	}
	return view
}

func dateView(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}
