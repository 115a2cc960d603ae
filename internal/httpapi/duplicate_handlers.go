package httpapi

import (
	"context"

	"github.com/labstack/echo/v4"

	"bizradar.kr/grantsync/internal/dedup"
)

func (s *Server) handleDuplicates(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultReviewLimit, 1, maxReviewLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	links, err := s.reviewLinks(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("duplicate review failed")
		return internalError(c, "Failed to run duplicate review")
	}
	return success(c, map[string]any{
		"items": links,
	})
}

func (s *Server) handleDuplicateGroups(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultReviewLimit, 1, maxReviewLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	links, err := s.reviewLinks(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("duplicate review failed")
		return internalError(c, "Failed to run duplicate review")
	}
	return success(c, map[string]any{
		"items": dedup.GroupLinks(links),
	})
}

// reviewLinks runs the pairwise duplicate review over a bounded window of
// active listings.
func (s *Server) reviewLinks(ctx context.Context, limit int) ([]dedup.Link, error) {
	listings, err := s.pool.ActiveListings(ctx, limit)
	if err != nil {
		return nil, err
	}
	return s.detector.PairwiseLinks(listings), nil
}
