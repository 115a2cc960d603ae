package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestJSONFeed_FetchAndTransform(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{
				"source":"kstartup",
				"source_id":"KS-1",
				"title":"창업도약패키지",
				"organization":"창업진흥원",
				"support_amount":"최대 3억원",
				"application_start":"2026-09-01",
				"application_end":"2026-09-30",
				"content":"사업화 자금 지원"
			},
			{
				"source":"kstartup",
				"source_id":"KS-2",
				"title":"",
				"organization":"창업진흥원"
			},
			{
				"source":"kstartup",
				"source_id":"KS-3",
				"title":"수출바우처",
				"organization":"중소벤처기업부",
				"attachment_urls":["https://example.com/files/ks-3.hwp"]
			}
		]}`))
	}))
	defer server.Close()

	feed := NewJSONFeed("kstartup", server.URL, zerolog.Nop(), FeedOptions{})
	listings, failed, err := feed.FetchAndTransform(context.Background())
	if err != nil {
		t.Fatalf("fetch and transform: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected 1 failed item, got %d", failed)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}

	first := listings[0]
	if first.Source != "kstartup" || first.SourceID != "KS-1" {
		t.Fatalf("unexpected identity: %s/%s", first.Source, first.SourceID)
	}
	if first.ApplicationEnd == nil || first.ApplicationEnd.Format("2006-01-02") != "2026-09-30" {
		t.Fatalf("unexpected application_end: %v", first.ApplicationEnd)
	}
	if first.Status != "active" {
		t.Fatalf("unexpected status: %q", first.Status)
	}

	if len(listings[1].AttachmentURLs) != 1 {
		t.Fatalf("expected one attachment url, got %d", len(listings[1].AttachmentURLs))
	}
}

func TestJSONFeed_BareArray(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"source":"bizinfo","source_id":"BZ-1","title":"t","organization":"o"}]`))
	}))
	defer server.Close()

	feed := NewJSONFeed("bizinfo", server.URL, zerolog.Nop(), FeedOptions{})
	listings, failed, err := feed.FetchAndTransform(context.Background())
	if err != nil {
		t.Fatalf("fetch and transform: %v", err)
	}
	if failed != 0 || len(listings) != 1 {
		t.Fatalf("unexpected result: %d listings, %d failed", len(listings), failed)
	}
}

func TestJSONFeed_UpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance window", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	feed := NewJSONFeed("kstartup", server.URL, zerolog.Nop(), FeedOptions{})
	if _, _, err := feed.FetchAndTransform(context.Background()); err == nil {
		t.Fatal("expected an error when the feed is unreachable")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(
		NewJSONFeed("kstartup", "http://127.0.0.1:0", zerolog.Nop(), FeedOptions{}),
		NewJSONFeed("bizinfo", "http://127.0.0.1:0", zerolog.Nop(), FeedOptions{}),
	)

	if _, ok := registry.Fetcher("kstartup"); !ok {
		t.Fatal("kstartup fetcher not registered")
	}
	if _, ok := registry.Fetcher("unknown"); ok {
		t.Fatal("unexpected fetcher for unknown source")
	}

	sources := registry.Sources()
	if len(sources) != 2 || sources[0] != "bizinfo" || sources[1] != "kstartup" {
		t.Fatalf("unexpected sources: %v", sources)
	}
}
