package textsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/this-is-us/civicd/internal/helpers"
)

// HTTPExtractor implements BinaryExtractor against an external extraction
// service: POST {"url": ...} returns {"text": ...}. PDF parsing stays out
// of process; the service owns the heavy tooling.
type HTTPExtractor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPExtractor builds an extractor client, or returns nil when no
// endpoint is configured so callers can skip the document strategy.
func NewHTTPExtractor(endpoint string, timeout time.Duration) *HTTPExtractor {
	if endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExtractor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// ExtractText asks the extraction service for the document's plain text.
// Safe on a nil receiver so an unconfigured extractor stored behind the
// BinaryExtractor interface degrades instead of panicking.
func (e *HTTPExtractor) ExtractText(ctx context.Context, url string) (string, error) {
	if e == nil {
		return "", fmt.Errorf("extractor endpoint not configured")
	}
	payload, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call extractor: %w", err)
	}
	body, err := helpers.ReadAllAndClose(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read extractor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extractor returned status %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("parse extractor response: %w", err)
	}
	return out.Text, nil
}
