package textsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/this-is-us/civicd/internal/helpers"
	"github.com/this-is-us/civicd/internal/store"
)

var billNumberRe = regexp.MustCompile(`^([A-Za-z]+)\s*0*(\d+)$`)

// NormalizeBillNumber converts feed-style identifiers like "HB0045" into
// the "HB 45" form the abstract API indexes on. Inputs that do not look
// like a bill number pass through unchanged.
func NormalizeBillNumber(bill string) string {
	m := billNumberRe.FindStringSubmatch(strings.TrimSpace(bill))
	if m == nil {
		return strings.TrimSpace(bill)
	}
	return strings.ToUpper(m[1]) + " " + m[2]
}

// fetchAbstract queries the abstract feed for the bill's short description.
// The endpoint template accepts a {bill} placeholder which receives the
// normalized, URL-escaped identifier.
func (l *Ladder) fetchAbstract(ctx context.Context, item store.CivicItem) (string, error) {
	normalized := NormalizeBillNumber(item.BillNumber)
	target := strings.ReplaceAll(l.cfg.AbstractEndpoint, "{bill}", url.QueryEscape(normalized))
	target = strings.ReplaceAll(target, "{session}", url.QueryEscape(item.Session))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if l.cfg.AbstractAPIKey != "" {
		req.Header.Set("X-API-KEY", l.cfg.AbstractAPIKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch abstract: %w", err)
	}
	body, err := helpers.ReadAllAndClose(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read abstract: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("abstract endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			Abstracts []struct {
				Abstract string `json:"abstract"`
			} `json:"abstracts"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("parse abstract: %w", err)
	}

	for _, result := range payload.Results {
		for _, abs := range result.Abstracts {
			if text := helpers.HTMLToText(abs.Abstract); text != "" {
				return text, nil
			}
		}
	}
	return "", nil
}
