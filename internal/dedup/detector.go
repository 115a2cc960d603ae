package dedup

import (
	"context"

	"github.com/rs/zerolog"

	"bizradar.kr/grantsync/internal/db"
	"bizradar.kr/grantsync/internal/match"
)

// Match types reported for duplicate links.
const (
	MatchExactTitle   = "exact_title"
	MatchSimilarTitle = "similar_title"
)

// Candidate is the minimal shape a freshly fetched listing needs for a
// single-item duplicate check.
type Candidate struct {
	Title        string
	Organization string
	Source       string
}

// Match describes one detected duplicate of a candidate.
type Match struct {
	Listing    db.Listing
	MatchType  string
	Similarity float64
}

// Link is one pairwise duplicate edge between two persisted listings.
type Link struct {
	OriginalID  int64   `json:"original_id"`
	DuplicateID int64   `json:"duplicate_id"`
	Similarity  float64 `json:"similarity"`
	MatchType   string  `json:"match_type"`
}

// ListingSource provides the persisted candidate set for single-item checks.
type ListingSource interface {
	ActiveListingsByOrganization(ctx context.Context, organization, excludeSource string) ([]db.Listing, error)
}

// Detector finds cross-source duplicates of grant listings. A source is
// assumed not to duplicate itself, so checks are always scoped to the same
// organization and a different source.
type Detector struct {
	store     ListingSource
	logger    zerolog.Logger
	threshold float64
}

func NewDetector(store ListingSource, logger zerolog.Logger, threshold float64) *Detector {
	if threshold <= 0 || threshold > 1 {
		threshold = match.SimilarThreshold
	}
	return &Detector{
		store:     store,
		logger:    logger,
		threshold: threshold,
	}
}

// FindDuplicate checks one candidate against persisted active listings. The
// first exact normalized-title match wins; failing that, the first listing at
// or above the similarity threshold. A store failure is treated as "not a
// duplicate" so that an unreachable store never blocks ingestion of new data.
func (d *Detector) FindDuplicate(ctx context.Context, candidate Candidate) *Match {
	existing, err := d.store.ActiveListingsByOrganization(ctx, candidate.Organization, candidate.Source)
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("organization", candidate.Organization).
			Str("source", candidate.Source).
			Msg("duplicate lookup failed, treating candidate as new")
		return nil
	}

	normalized := match.NormalizeTitle(candidate.Title)

	for _, listing := range existing {
		if match.NormalizeTitle(listing.Title) == normalized {
			return &Match{
				Listing:    listing,
				MatchType:  MatchExactTitle,
				Similarity: match.ExactThreshold,
			}
		}
	}

	for _, listing := range existing {
		score := match.Similarity(normalized, match.NormalizeTitle(listing.Title))
		if score >= d.threshold {
			return &Match{
				Listing:    listing,
				MatchType:  MatchSimilarTitle,
				Similarity: score,
			}
		}
	}

	return nil
}

// PairwiseLinks compares an in-memory batch of listings pairwise and emits
// one link per cross-source pair of the same organization whose normalized
// titles match exactly or at/above the threshold. Intended for bounded,
// human-triggered review batches; cost is O(n^2) distance computations.
func (d *Detector) PairwiseLinks(listings []db.Listing) []Link {
	normalized := make([]string, len(listings))
	for i, listing := range listings {
		normalized[i] = match.NormalizeTitle(listing.Title)
	}

	links := make([]Link, 0)
	for i := 0; i < len(listings); i++ {
		for j := i + 1; j < len(listings); j++ {
			if listings[i].Source == listings[j].Source {
				continue
			}
			if listings[i].Organization != listings[j].Organization {
				continue
			}

			if normalized[i] == normalized[j] {
				links = append(links, Link{
					OriginalID:  listings[i].ID,
					DuplicateID: listings[j].ID,
					Similarity:  match.ExactThreshold,
					MatchType:   MatchExactTitle,
				})
				continue
			}

			score := match.Similarity(normalized[i], normalized[j])
			if score >= d.threshold {
				links = append(links, Link{
					OriginalID:  listings[i].ID,
					DuplicateID: listings[j].ID,
					Similarity:  score,
					MatchType:   MatchSimilarTitle,
				})
			}
		}
	}
	return links
}
