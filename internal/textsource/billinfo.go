package textsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/this-is-us/civicd/config"
	"github.com/this-is-us/civicd/internal/helpers"
	"github.com/this-is-us/civicd/internal/store"
)

// BillInfo is the structured record exposed by the legislature's bill feed.
type BillInfo struct {
	Title    string
	Summary  string
	Digest   string
	Sponsors []store.Sponsor
}

// CombinedText joins the structured narrative fields into one block.
func (b BillInfo) CombinedText() string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(b.Summary); s != "" {
		parts = append(parts, s)
	}
	if d := strings.TrimSpace(b.Digest); d != "" {
		parts = append(parts, d)
	}
	return helpers.NormalizeWhitespace(strings.Join(parts, "\n"))
}

// FetchBillInfo pulls the structured bill record from the configured feed.
// The endpoint template accepts {year} and {bill} placeholders.
func (l *Ladder) FetchBillInfo(ctx context.Context, session, bill string) (BillInfo, error) {
	target := config.ExpandTemplate(l.cfg.BillInfoEndpoint, session, bill)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return BillInfo{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return BillInfo{}, fmt.Errorf("fetch bill info: %w", err)
	}
	body, err := helpers.ReadAllAndClose(resp.Body)
	if err != nil {
		return BillInfo{}, fmt.Errorf("read bill info: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return BillInfo{}, fmt.Errorf("bill info endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		BillTitle   string `json:"billTitle"`
		BillSummary string `json:"billSummary"`
		Digest      string `json:"digest"`
		Sponsors    []struct {
			Name     string `json:"name"`
			Type     string `json:"type"`
			Chamber  string `json:"chamber"`
			District string `json:"district"`
		} `json:"sponsors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return BillInfo{}, fmt.Errorf("parse bill info: %w", err)
	}

	info := BillInfo{
		Title:   helpers.SanitizeHTMLStrict(payload.BillTitle),
		Summary: helpers.HTMLToText(payload.BillSummary),
		Digest:  helpers.HTMLToText(payload.Digest),
	}
	for _, sp := range payload.Sponsors {
		name := strings.TrimSpace(sp.Name)
		if name == "" {
			continue
		}
		info.Sponsors = append(info.Sponsors, store.Sponsor{
			Name:     name,
			Role:     strings.ToLower(strings.TrimSpace(sp.Type)),
			Chamber:  strings.ToLower(strings.TrimSpace(sp.Chamber)),
			District: strings.TrimSpace(sp.District),
		})
	}
	return info, nil
}
