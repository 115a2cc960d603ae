package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"bizradar.kr/grantsync/internal/db"
	"bizradar.kr/grantsync/internal/match"
)

type fakeListingSource struct {
	listings []db.Listing
	err      error

	gotOrganization string
	gotExclude      string
}

func (f *fakeListingSource) ActiveListingsByOrganization(_ context.Context, organization, excludeSource string) ([]db.Listing, error) {
	f.gotOrganization = organization
	f.gotExclude = excludeSource
	if f.err != nil {
		return nil, f.err
	}
	return f.listings, nil
}

func TestFindDuplicate_ExactNormalizedTitle(t *testing.T) {
	t.Parallel()

	store := &fakeListingSource{
		listings: []db.Listing{
			{ID: 1, Source: "kstartup", Organization: "중소벤처기업부", Title: "[2026년] AI 바우처 지원사업"},
		},
	}
	detector := NewDetector(store, zerolog.Nop(), match.SimilarThreshold)

	got := detector.FindDuplicate(context.Background(), Candidate{
		Title:        "(2025년) AI 바우처 지원사업",
		Organization: "중소벤처기업부",
		Source:       "bizinfo",
	})
	if got == nil {
		t.Fatal("expected a duplicate match")
	}
	if got.Listing.ID != 1 {
		t.Fatalf("matched wrong listing: %d", got.Listing.ID)
	}
	if got.MatchType != MatchExactTitle {
		t.Fatalf("expected exact_title match, got %q", got.MatchType)
	}
	if got.Similarity != 1.0 {
		t.Fatalf("expected similarity 1.0, got %f", got.Similarity)
	}
	if store.gotOrganization != "중소벤처기업부" || store.gotExclude != "bizinfo" {
		t.Fatalf("lookup not scoped as expected: org=%q exclude=%q", store.gotOrganization, store.gotExclude)
	}
}

func TestFindDuplicate_SimilarTitle(t *testing.T) {
	t.Parallel()

	store := &fakeListingSource{
		listings: []db.Listing{
			{ID: 7, Source: "kstartup", Organization: "창업진흥원", Title: "abcdefghij"},
		},
	}
	detector := NewDetector(store, zerolog.Nop(), 0.85)

	got := detector.FindDuplicate(context.Background(), Candidate{
		Title:        "abcdefghix",
		Organization: "창업진흥원",
		Source:       "bizinfo",
	})
	if got == nil {
		t.Fatal("expected a near-duplicate match")
	}
	if got.MatchType != MatchSimilarTitle {
		t.Fatalf("expected similar_title match, got %q", got.MatchType)
	}
	if got.Similarity != 0.9 {
		t.Fatalf("expected similarity 0.9, got %f", got.Similarity)
	}
}

func TestFindDuplicate_BelowThreshold(t *testing.T) {
	t.Parallel()

	store := &fakeListingSource{
		listings: []db.Listing{
			{ID: 3, Source: "kstartup", Organization: "창업진흥원", Title: "전혀 상관없는 다른 공고"},
		},
	}
	detector := NewDetector(store, zerolog.Nop(), match.SimilarThreshold)

	got := detector.FindDuplicate(context.Background(), Candidate{
		Title:        "수출바우처 사업 공고",
		Organization: "창업진흥원",
		Source:       "bizinfo",
	})
	if got != nil {
		t.Fatalf("expected no match, got listing %d", got.Listing.ID)
	}
}

func TestFindDuplicate_StoreErrorFailsOpen(t *testing.T) {
	t.Parallel()

	store := &fakeListingSource{err: errors.New("connection refused")}
	detector := NewDetector(store, zerolog.Nop(), match.SimilarThreshold)

	got := detector.FindDuplicate(context.Background(), Candidate{
		Title:        "AI 바우처 지원사업",
		Organization: "중소벤처기업부",
		Source:       "bizinfo",
	})
	if got != nil {
		t.Fatal("store failure must not produce a match")
	}
}

func TestFindDuplicate_FirstMatchWins(t *testing.T) {
	t.Parallel()

	store := &fakeListingSource{
		listings: []db.Listing{
			{ID: 10, Source: "kstartup", Organization: "중소벤처기업부", Title: "AI 바우처 지원사업"},
			{ID: 11, Source: "smes", Organization: "중소벤처기업부", Title: "AI 바우처 지원사업"},
		},
	}
	detector := NewDetector(store, zerolog.Nop(), match.SimilarThreshold)

	got := detector.FindDuplicate(context.Background(), Candidate{
		Title:        "AI 바우처 지원사업",
		Organization: "중소벤처기업부",
		Source:       "bizinfo",
	})
	if got == nil {
		t.Fatal("expected a match")
	}
	if got.Listing.ID != 10 {
		t.Fatalf("expected first listing to win, got %d", got.Listing.ID)
	}
}

func TestPairwiseLinks(t *testing.T) {
	t.Parallel()

	detector := NewDetector(&fakeListingSource{}, zerolog.Nop(), match.SimilarThreshold)

	listings := []db.Listing{
		{ID: 1, Source: "kstartup", Organization: "중소벤처기업부", Title: "[2026년] AI 바우처 지원사업"},
		{ID: 2, Source: "bizinfo", Organization: "중소벤처기업부", Title: "AI 바우처 지원사업 (제2차)"},
		{ID: 3, Source: "bizinfo", Organization: "중소벤처기업부", Title: "전혀 상관없는 공고"},
		// Same source as listing 2, identical title: must not link.
		{ID: 4, Source: "bizinfo", Organization: "중소벤처기업부", Title: "AI 바우처 지원사업"},
		// Same title, different organization: must not link.
		{ID: 5, Source: "smes", Organization: "창업진흥원", Title: "AI 바우처 지원사업"},
	}

	links := detector.PairwiseLinks(listings)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d: %+v", len(links), links)
	}
	if links[0].OriginalID != 1 || links[0].DuplicateID != 2 {
		t.Fatalf("unexpected first link: %+v", links[0])
	}
	if links[0].MatchType != MatchExactTitle {
		t.Fatalf("expected exact_title, got %q", links[0].MatchType)
	}
	if links[1].OriginalID != 1 || links[1].DuplicateID != 4 {
		t.Fatalf("unexpected second link: %+v", links[1])
	}
}

func TestPairwiseLinks_Empty(t *testing.T) {
	t.Parallel()

	detector := NewDetector(&fakeListingSource{}, zerolog.Nop(), match.SimilarThreshold)
	if links := detector.PairwiseLinks(nil); len(links) != 0 {
		t.Fatalf("expected no links, got %+v", links)
	}
}
