package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"bizradar.kr/grantsync/internal/db"
	"bizradar.kr/grantsync/internal/globaltime"
	syncer "bizradar.kr/grantsync/internal/sync"
)

const schedulerTokenHeader = "X-Scheduler-Token"

func (s *Server) handleSync(c echo.Context) error {
	source := strings.TrimSpace(c.Param("source"))
	if source == "" {
		return failValidation(c, map[string]string{"source": "is required"})
	}
	if s.runner == nil {
		return internalError(c, "Synchronization is not configured")
	}

	caller := s.resolveCaller(c)
	summary, err := s.runner.Sync(c.Request().Context(), source, caller)
	if err != nil {
		var rateErr *syncer.RateLimitError
		switch {
		case errors.As(err, &rateErr):
			retryAfter := int(rateErr.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			return fail(c, http.StatusTooManyRequests, "Rate limit exceeded", map[string]any{
				"retry_after_seconds": retryAfter,
			})
		case errors.Is(err, syncer.ErrUnknownSource):
			return failNotFound(c, fmt.Sprintf("Unknown source %q", source))
		default:
			s.logger.Error().Err(err).Str("source", source).Msg("sync run failed")
			return internalError(c, "Synchronization failed")
		}
	}

	return success(c, map[string]any{
		"source":               summary.Source,
		"run_uuid":             summary.RunUUID,
		"fetched":              summary.Fetched,
		"skipped_duplicates":   summary.SkippedDuplicates,
		"upserted":             summary.Upserted,
		"changes_detected":     summary.ChangesDetected,
		"notifications_queued": summary.NotificationsQueued,
		"expired":              summary.Expired,
		"classified":           summary.Classified,
		"duration_ms":          summary.Duration.Milliseconds(),
	})
}

// resolveCaller decides whether the request comes from the trusted scheduler.
// Untrusted callers are identified by remote IP for rate limiting.
func (s *Server) resolveCaller(c echo.Context) syncer.Caller {
	token := strings.TrimSpace(c.Request().Header.Get(schedulerTokenHeader))
	configured := strings.TrimSpace(s.opts.SchedulerToken)
	if configured != "" && token != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(configured)) == 1 {
		return syncer.Caller{ID: "scheduler", Trusted: true}
	}
	return syncer.Caller{ID: c.RealIP()}
}

type mergeRequest struct {
	DuplicateUUID string `json:"duplicate_uuid"`
}

func (s *Server) handleMerge(c echo.Context) error {
	originalUUID := strings.TrimSpace(c.Param("listing_uuid"))
	if originalUUID == "" {
		return failValidation(c, map[string]string{"listing_uuid": "is required"})
	}

	var req mergeRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}
	duplicateUUID := strings.TrimSpace(req.DuplicateUUID)
	if duplicateUUID == "" {
		return failValidation(c, map[string]string{"duplicate_uuid": "is required"})
	}
	if duplicateUUID == originalUUID {
		return failValidation(c, map[string]string{"duplicate_uuid": "must differ from listing_uuid"})
	}

	err := s.pool.MergeListings(c.Request().Context(), originalUUID, duplicateUUID, globaltime.UTC())
	switch {
	case err == nil:
	case errors.Is(err, db.ErrListingNotFound):
		return failNotFound(c, "Listing not found")
	case errors.Is(err, db.ErrAlreadyMerged):
		return fail(c, http.StatusConflict, "Listing is already merged", nil)
	default:
		s.logger.Error().
			Err(err).
			Str("original_uuid", originalUUID).
			Str("duplicate_uuid", duplicateUUID).
			Msg("merge listings failed")
		return internalError(c, "Failed to merge listings")
	}

	s.logger.Info().
		Str("original_uuid", originalUUID).
		Str("duplicate_uuid", duplicateUUID).
		Msg("listings merged")
	return success(c, map[string]any{
		"original_uuid":  originalUUID,
		"duplicate_uuid": duplicateUUID,
	})
}
