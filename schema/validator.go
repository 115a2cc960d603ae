package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed listing.schema.json
var listingSchemaJSON string

// ListingPayload is one announcement as delivered by an upstream feed.
type ListingPayload struct {
	Source           string   `json:"source"`
	SourceID         string   `json:"source_id"`
	Title            string   `json:"title"`
	Organization     string   `json:"organization"`
	Category         string   `json:"category,omitempty"`
	SupportType      string   `json:"support_type,omitempty"`
	TargetAudience   string   `json:"target_audience,omitempty"`
	SupportAmount    string   `json:"support_amount,omitempty"`
	ApplicationStart *string  `json:"application_start,omitempty"`
	ApplicationEnd   *string  `json:"application_end,omitempty"`
	Content          string   `json:"content,omitempty"`
	DetailURL        *string  `json:"detail_url,omitempty"`
	AttachmentURLs   []string `json:"attachment_urls,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateListingPayload checks one feed item against the listing schema and
// returns the decoded payload. Semantic checks beyond the schema cover dates,
// URLs, and non-blank identity fields.
func ValidateListingPayload(payload json.RawMessage) (*ListingPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item ListingPayload
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("listing.schema.json", strings.NewReader(listingSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("listing.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(item *ListingPayload) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(item.Source) == "" {
		return fmt.Errorf("source must not be empty")
	}
	if strings.TrimSpace(item.SourceID) == "" {
		return fmt.Errorf("source_id must not be empty")
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("title must not be empty")
	}
	if strings.TrimSpace(item.Organization) == "" {
		return fmt.Errorf("organization must not be empty")
	}

	var start, end *time.Time
	if item.ApplicationStart != nil {
		parsed, err := parseDate("application_start", *item.ApplicationStart)
		if err != nil {
			return err
		}
		start = parsed
	}
	if item.ApplicationEnd != nil {
		parsed, err := parseDate("application_end", *item.ApplicationEnd)
		if err != nil {
			return err
		}
		end = parsed
	}
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("application_end precedes application_start")
	}

	if item.DetailURL != nil {
		if err := validateURI("detail_url", *item.DetailURL); err != nil {
			return err
		}
	}
	for i, attachment := range item.AttachmentURLs {
		if err := validateURI(fmt.Sprintf("attachment_urls[%d]", i), attachment); err != nil {
			return err
		}
	}

	return nil
}

func parseDate(fieldName, value string) (*time.Time, error) {
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%s must be a YYYY-MM-DD date: %w", fieldName, err)
	}
	return &parsed, nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	return nil
}
