package textsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/this-is-us/civicd/internal/helpers"
)

// spaShellMarkers identify client-rendered application shells. A text URL
// pointing at one of these yields no usable content without a browser.
var spaShellMarkers = []string{"<app-root", "ng-version"}

// fetchReadable fetches an HTML page and extracts its readable text.
func (l *Ladder) fetchReadable(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "civicd/1.0 (+text ladder)")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch text url: %w", err)
	}
	body, err := helpers.ReadAllAndClose(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read text url: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("text url returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if helpers.IsProbablyBinary(contentType) {
		return "", fmt.Errorf("text url served binary content %q", contentType)
	}

	html := string(body)
	lower := strings.ToLower(html)
	for _, marker := range spaShellMarkers {
		if strings.Contains(lower, marker) {
			return "", errors.New("text url served an application shell")
		}
	}

	if parsed, err := url.Parse(target); err == nil {
		if article, err := readability.FromReader(strings.NewReader(html), parsed); err == nil {
			if text := helpers.NormalizeWhitespace(article.TextContent); len(text) >= l.cfg.MinTextChars {
				return text, nil
			}
		}
	}

	// Readability declined the page; fall back to a bare tag strip.
	return helpers.HTMLToText(html), nil
}
