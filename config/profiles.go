package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document kinds a candidate URL can resolve to.
const (
	DocKindPDF  = "pdf"
	DocKindHTML = "html"
)

// SourceProfile describes where a jurisdiction publishes bill documents and
// how to recognize a usable response. Templates may contain {year} and
// {bill} placeholders.
type SourceProfile struct {
	Name        string       `yaml:"name"`
	BaseURLs    []string     `yaml:"base_urls"`
	Candidates  []Candidate  `yaml:"candidates"`
	Checkpoints []Checkpoint `yaml:"checkpoints"`
	// SPAMarkers are lowercase substrings that identify a client-rendered
	// application shell instead of real page content.
	SPAMarkers []string `yaml:"spa_markers"`
	// LinkPattern is the substring discovered checkpoint links must contain
	// (e.g. "Amends") before they are probed as documents.
	LinkPattern string `yaml:"link_pattern"`
}

// Candidate is a direct document URL template.
type Candidate struct {
	Kind     string `yaml:"kind"`
	Template string `yaml:"template"`
	Priority int    `yaml:"priority"`
}

// Checkpoint is a structured page probed when no direct candidate succeeds.
// ParserKind "links" enables link scraping on the page body.
type Checkpoint struct {
	Kind       string `yaml:"kind"`
	Template   string `yaml:"template"`
	ParserKind string `yaml:"parser_kind"`
	Priority   int    `yaml:"priority"`
}

// ExpandTemplate substitutes the {year} and {bill} placeholders.
func ExpandTemplate(template, year, bill string) string {
	out := strings.ReplaceAll(template, "{year}", year)
	return strings.ReplaceAll(out, "{bill}", bill)
}

// IsSPAShell reports whether the page body looks like an application shell.
func (p SourceProfile) IsSPAShell(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range p.SPAMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func (p SourceProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.BaseURLs) == 0 {
		return fmt.Errorf("profile %s: at least one base_url is required", p.Name)
	}
	for _, c := range p.Candidates {
		if c.Kind != DocKindPDF && c.Kind != DocKindHTML {
			return fmt.Errorf("profile %s: unknown candidate kind %q", p.Name, c.Kind)
		}
	}
	return nil
}

// SortedCandidates returns candidates in ascending priority order.
func (p SourceProfile) SortedCandidates() []Candidate {
	out := append([]Candidate(nil), p.Candidates...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// SortedCheckpoints returns checkpoints in ascending priority order.
func (p SourceProfile) SortedCheckpoints() []Checkpoint {
	out := append([]Checkpoint(nil), p.Checkpoints...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// DefaultProfiles returns the built-in profile set. The Wyoming Legislature
// profile mirrors how wyoleg.gov publishes bill PDFs and amendment pages.
func DefaultProfiles() map[string]SourceProfile {
	return map[string]SourceProfile{
		"wyoleg": {
			Name:     "wyoleg",
			BaseURLs: []string{"https://wyoleg.gov", "https://www.wyoleg.gov"},
			Candidates: []Candidate{
				{Kind: DocKindPDF, Template: "/{year}/Introduced/{bill}.pdf", Priority: 1},
				{Kind: DocKindPDF, Template: "/{year}/Enroll/{bill}.pdf", Priority: 2},
				{Kind: DocKindPDF, Template: "/{year}/Digest/{bill}.pdf", Priority: 3},
				{Kind: DocKindPDF, Template: "/{year}/Fiscal/{bill}.pdf", Priority: 4},
			},
			Checkpoints: []Checkpoint{
				{Kind: DocKindHTML, Template: "/Legislation/{year}/{bill}", ParserKind: "page", Priority: 10},
				{Kind: DocKindHTML, Template: "/Legislation/Amendment/{year}?billNumber={bill}", ParserKind: "links", Priority: 20},
			},
			SPAMarkers:  []string{"<app-root", "ng-version"},
			LinkPattern: "Amends",
		},
	}
}

// LoadProfiles reads source profiles from a YAML file and merges them over
// the built-in defaults. Profiles sharing a name replace the default.
func LoadProfiles(path string) (map[string]SourceProfile, error) {
	profiles := DefaultProfiles()
	if strings.TrimSpace(path) == "" {
		return profiles, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}

	var doc struct {
		Profiles []SourceProfile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse profiles file: %w", err)
	}

	for _, p := range doc.Profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}
