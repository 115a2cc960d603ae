package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request carries the listing fields the classifier needs to derive
// structured eligibility criteria.
type Request struct {
	Title          string `json:"title"`
	Content        string `json:"content"`
	TargetAudience string `json:"target_audience"`
}

// Client calls the external eligibility classification service. The service
// answers with a JSON object describing who may apply for a grant; the shape
// is owned by the classifier and stored verbatim.
type Client struct {
	endpointURL string
	client      *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpointURL: strings.TrimRight(strings.TrimSpace(endpoint), "/") + "/classify",
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Classify(ctx context.Context, req Request) (json.RawMessage, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal classification request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build classification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send classification request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read classification response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("classification endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed struct {
		EligibilityCriteria json.RawMessage `json:"eligibility_criteria"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode classification response: %w", err)
	}
	if len(parsed.EligibilityCriteria) == 0 || string(parsed.EligibilityCriteria) == "null" {
		return nil, fmt.Errorf("classification response missing eligibility_criteria")
	}
	return parsed.EligibilityCriteria, nil
}
