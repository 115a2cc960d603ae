package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bizradar.kr/grantsync/internal/db"
)

type fakeUpsertStore struct {
	existing  map[string]db.Listing
	lookupErr error
	applyErr  error

	gotInserts []db.Listing
	gotUpdates []db.ListingUpdate
	applied    int
}

func sourceKey(source, sourceID string) string {
	return source + "/" + sourceID
}

func (f *fakeUpsertStore) GetListingBySourceKey(_ context.Context, source, sourceID string) (*db.Listing, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	listing, ok := f.existing[sourceKey(source, sourceID)]
	if !ok {
		return nil, nil
	}
	return &listing, nil
}

func (f *fakeUpsertStore) ApplyListingBatch(_ context.Context, inserts []db.Listing, updates []db.ListingUpdate, _ time.Time) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.gotInserts = inserts
	f.gotUpdates = updates
	f.applied++
	return nil
}

func datePtr(value string) *time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(fmt.Sprintf("bad test date %q: %v", value, err))
	}
	return &t
}

func TestUpsertBatch_InsertsNewListings(t *testing.T) {
	t.Parallel()

	store := &fakeUpsertStore{existing: map[string]db.Listing{}}
	upserter := NewUpserter(store, zerolog.Nop())

	result, err := upserter.UpsertBatch(context.Background(), []db.Listing{
		{Source: "kstartup", SourceID: "KS-100", Title: "창업도약패키지", Organization: "창업진흥원"},
		{Source: "kstartup", SourceID: "KS-101", Title: "수출바우처", Organization: "중소벤처기업부"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.Upserted != 2 || result.ChangesDetected != 0 || result.NotificationsQueued != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(store.gotInserts) != 2 || len(store.gotUpdates) != 0 {
		t.Fatalf("unexpected batch: %d inserts, %d updates", len(store.gotInserts), len(store.gotUpdates))
	}
	if store.gotInserts[0].Status != db.StatusActive {
		t.Fatalf("insert did not default to active: %q", store.gotInserts[0].Status)
	}
}

func TestUpsertBatch_AmountChange(t *testing.T) {
	t.Parallel()

	store := &fakeUpsertStore{existing: map[string]db.Listing{
		sourceKey("kstartup", "KS-100"): {
			ID:            41,
			Source:        "kstartup",
			SourceID:      "KS-100",
			Title:         "창업도약패키지",
			Organization:  "창업진흥원",
			SupportAmount: "최대 5000만원",
			Status:        db.StatusActive,
		},
	}}
	upserter := NewUpserter(store, zerolog.Nop())

	result, err := upserter.UpsertBatch(context.Background(), []db.Listing{
		{
			Source:        "kstartup",
			SourceID:      "KS-100",
			Title:         "창업도약패키지",
			Organization:  "창업진흥원",
			SupportAmount: "최대 7000만원",
		},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.Upserted != 1 || result.ChangesDetected != 1 || result.NotificationsQueued != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(store.gotUpdates) != 1 {
		t.Fatalf("expected one update, got %d", len(store.gotUpdates))
	}

	change := store.gotUpdates[0].Changes[0]
	if change.ChangeType != db.ChangeTypeAmount {
		t.Fatalf("expected amount change, got %q", change.ChangeType)
	}
	if change.FieldName != "support_amount" || change.OldValue != "최대 5000만원" || change.NewValue != "최대 7000만원" {
		t.Fatalf("unexpected change record: %+v", change)
	}
	if change.DetectedAt.IsZero() {
		t.Fatal("change record missing detection timestamp")
	}
}

func TestUpsertBatch_DeadlineChange(t *testing.T) {
	t.Parallel()

	store := &fakeUpsertStore{existing: map[string]db.Listing{
		sourceKey("bizinfo", "BZ-7"): {
			ID:             9,
			Source:         "bizinfo",
			SourceID:       "BZ-7",
			Title:          "소상공인 정책자금",
			Organization:   "소상공인시장진흥공단",
			ApplicationEnd: datePtr("2026-09-30"),
			Status:         db.StatusActive,
		},
	}}
	upserter := NewUpserter(store, zerolog.Nop())

	result, err := upserter.UpsertBatch(context.Background(), []db.Listing{
		{
			Source:         "bizinfo",
			SourceID:       "BZ-7",
			Title:          "소상공인 정책자금",
			Organization:   "소상공인시장진흥공단",
			ApplicationEnd: datePtr("2026-10-15"),
		},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.ChangesDetected != 1 || result.NotificationsQueued != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	change := store.gotUpdates[0].Changes[0]
	if change.ChangeType != db.ChangeTypeDeadline {
		t.Fatalf("expected deadline change, got %q", change.ChangeType)
	}
	if change.OldValue != "2026-09-30" || change.NewValue != "2026-10-15" {
		t.Fatalf("unexpected change record: %+v", change)
	}
}

func TestUpsertBatch_UnchangedIsIdempotent(t *testing.T) {
	t.Parallel()

	stored := db.Listing{
		ID:            5,
		Source:        "kstartup",
		SourceID:      "KS-200",
		Title:         "AI 바우처 지원사업",
		Organization:  "정보통신산업진흥원",
		SupportAmount: "최대 2억원",
		Content:       "AI 솔루션 도입 바우처 지원",
		Status:        db.StatusActive,
	}
	store := &fakeUpsertStore{existing: map[string]db.Listing{
		sourceKey("kstartup", "KS-200"): stored,
	}}
	upserter := NewUpserter(store, zerolog.Nop())

	incoming := stored
	incoming.ID = 0
	result, err := upserter.UpsertBatch(context.Background(), []db.Listing{incoming})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.Upserted != 0 || result.ChangesDetected != 0 || result.NotificationsQueued != 0 {
		t.Fatalf("repeat batch not idempotent: %+v", result)
	}
	if len(store.gotInserts) != 0 || len(store.gotUpdates) != 0 {
		t.Fatalf("repeat batch wrote rows: %d inserts, %d updates", len(store.gotInserts), len(store.gotUpdates))
	}
}

func TestUpsertBatch_MergedListingIsSkipped(t *testing.T) {
	t.Parallel()

	store := &fakeUpsertStore{existing: map[string]db.Listing{
		sourceKey("bizinfo", "BZ-1"): {
			ID:       3,
			Source:   "bizinfo",
			SourceID: "BZ-1",
			Title:    "수출바우처",
			Status:   db.StatusMerged,
		},
	}}
	upserter := NewUpserter(store, zerolog.Nop())

	result, err := upserter.UpsertBatch(context.Background(), []db.Listing{
		{Source: "bizinfo", SourceID: "BZ-1", Title: "수출바우처 변경", Organization: "중소벤처기업부"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.Upserted != 0 || result.ChangesDetected != 0 {
		t.Fatalf("merged listing was not skipped: %+v", result)
	}
	if len(store.gotUpdates) != 0 {
		t.Fatalf("merged listing received an update")
	}
}

func TestUpsertBatch_ContentChangeIsNotNotified(t *testing.T) {
	t.Parallel()

	store := &fakeUpsertStore{existing: map[string]db.Listing{
		sourceKey("kstartup", "KS-300"): {
			ID:           8,
			Source:       "kstartup",
			SourceID:     "KS-300",
			Title:        "창업지원사업",
			Organization: "창업진흥원",
			Content:      "old content",
			Status:       db.StatusActive,
		},
	}}
	upserter := NewUpserter(store, zerolog.Nop())

	result, err := upserter.UpsertBatch(context.Background(), []db.Listing{
		{Source: "kstartup", SourceID: "KS-300", Title: "창업지원사업", Organization: "창업진흥원", Content: "new content"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result.ChangesDetected != 1 {
		t.Fatalf("expected one change, got %+v", result)
	}
	if result.NotificationsQueued != 0 {
		t.Fatalf("content change must not queue a notification: %+v", result)
	}
	if got := store.gotUpdates[0].Changes[0].ChangeType; got != db.ChangeTypeContent {
		t.Fatalf("expected content change, got %q", got)
	}
}

func TestUpsertBatch_LookupErrorAbortsBeforeWriting(t *testing.T) {
	t.Parallel()

	store := &fakeUpsertStore{lookupErr: errors.New("connection reset")}
	upserter := NewUpserter(store, zerolog.Nop())

	if _, err := upserter.UpsertBatch(context.Background(), []db.Listing{
		{Source: "kstartup", SourceID: "KS-1", Title: "t", Organization: "o"},
	}); err == nil {
		t.Fatal("expected lookup error to surface")
	}
	if store.applied != 0 {
		t.Fatal("batch was applied despite lookup failure")
	}
}
