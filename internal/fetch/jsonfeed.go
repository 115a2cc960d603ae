package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bizradar.kr/grantsync/internal/db"
	"bizradar.kr/grantsync/internal/langdetect"
	"bizradar.kr/grantsync/internal/reader"
	payloadschema "bizradar.kr/grantsync/schema"
)

const defaultFeedTimeout = 30 * time.Second

// FeedOptions tune per-item enrichment of a JSON feed.
type FeedOptions struct {
	Timeout time.Duration

	// FetchContent pulls the announcement detail page when the feed item
	// carries a detail_url but no content.
	FetchContent bool

	// DetectLanguage records the content language on each listing.
	DetectLanguage bool
}

// JSONFeed fetches one portal's announcement feed: a JSON document holding an
// items array, each item matching the listing payload schema. Invalid items
// are skipped and counted, a bad item never sinks the batch.
type JSONFeed struct {
	source  string
	feedURL string
	client  *http.Client
	logger  zerolog.Logger
	opts    FeedOptions
}

func NewJSONFeed(source, feedURL string, logger zerolog.Logger, opts FeedOptions) *JSONFeed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	return &JSONFeed{
		source:  source,
		feedURL: feedURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("source", source).Logger(),
		opts:    opts,
	}
}

func (f *JSONFeed) Source() string { return f.source }

func (f *JSONFeed) FetchAndTransform(ctx context.Context) ([]db.Listing, int, error) {
	items, err := f.fetchItems(ctx)
	if err != nil {
		return nil, 0, err
	}

	listings := make([]db.Listing, 0, len(items))
	failed := 0
	for i, item := range items {
		payload, err := payloadschema.ValidateListingPayload(item)
		if err != nil {
			failed++
			f.logger.Warn().Err(err).Int("item", i).Msg("skipping invalid feed item")
			continue
		}

		listing, err := f.transform(ctx, payload)
		if err != nil {
			failed++
			f.logger.Warn().Err(err).Str("source_id", payload.SourceID).Msg("skipping untransformable feed item")
			continue
		}
		listings = append(listings, listing)
	}
	return listings, failed, nil
}

func (f *JSONFeed) fetchItems(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode feed array: %w", err)
		}
		return items, nil
	}

	var envelope struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode feed envelope: %w", err)
	}
	return envelope.Items, nil
}

func (f *JSONFeed) transform(ctx context.Context, payload *payloadschema.ListingPayload) (db.Listing, error) {
	listing := db.Listing{
		Source:         f.source,
		SourceID:       payload.SourceID,
		Title:          payload.Title,
		Organization:   payload.Organization,
		Category:       payload.Category,
		SupportType:    payload.SupportType,
		TargetAudience: payload.TargetAudience,
		SupportAmount:  payload.SupportAmount,
		Content:        strings.TrimSpace(payload.Content),
		AttachmentURLs: payload.AttachmentURLs,
		Status:         db.StatusActive,
	}

	var err error
	if listing.ApplicationStart, err = parseFeedDate(payload.ApplicationStart); err != nil {
		return db.Listing{}, err
	}
	if listing.ApplicationEnd, err = parseFeedDate(payload.ApplicationEnd); err != nil {
		return db.Listing{}, err
	}

	if listing.Content == "" && f.opts.FetchContent && payload.DetailURL != nil {
		text, err := reader.FetchAnnouncementText(ctx, *payload.DetailURL, payload.Title)
		if err != nil {
			f.logger.Warn().
				Err(err).
				Str("source_id", payload.SourceID).
				Str("detail_url", *payload.DetailURL).
				Msg("detail page extraction failed")
		} else {
			listing.Content = text
		}
	}

	if f.opts.DetectLanguage && listing.Content != "" {
		listing.ContentLanguage = langdetect.DetectISO6391(listing.Content)
	}

	return listing, nil
}

func parseFeedDate(value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(*value))
	if err != nil {
		return nil, fmt.Errorf("parse feed date %q: %w", *value, err)
	}
	return &parsed, nil
}
