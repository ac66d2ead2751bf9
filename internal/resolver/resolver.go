package resolver

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/this-is-us/civicd/config"
	"github.com/this-is-us/civicd/internal/helpers"
	"github.com/this-is-us/civicd/internal/store"
)

// Resolution methods recorded on results and cache rows.
const (
	ViaDirect         = "direct"
	ViaCheckpoint     = "checkpoint"
	ViaCheckpointLink = "checkpoint_link"
)

// maxProbeBody bounds how much of a page body is read while probing.
const maxProbeBody = 1 << 20

// Attempt records one probe for diagnostics. Every URL tried during a
// resolution shows up here regardless of outcome.
type Attempt struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is a successful document resolution.
type Result struct {
	URL         string
	Kind        string
	ContentType string
	ResolvedVia string
	Attempts    []Attempt
}

// ErrNotFound is returned with the attempt trail when no candidate or
// checkpoint yields a document.
type ErrNotFound struct {
	Profile  string
	Bill     string
	Attempts []Attempt
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("no document resolved for %s bill %s after %d attempts", e.Profile, e.Bill, len(e.Attempts))
}

// DocumentCache is the slice of the store the resolver needs.
type DocumentCache interface {
	GetDocumentSource(ctx context.Context, itemID, kind string) (store.DocumentSource, bool, error)
	UpsertDocumentSource(ctx context.Context, doc store.DocumentSource) error
}

// Resolver locates bill documents by probing profile candidate URLs and,
// failing that, scraping checkpoint pages for document links.
type Resolver struct {
	logger   *log.Logger
	client   *http.Client
	profiles map[string]config.SourceProfile
	cache    DocumentCache
	cacheTTL time.Duration
}

// New builds a Resolver. cache may be nil to disable write-through caching.
func New(logger *log.Logger, cfg config.ResolverConfig, profiles map[string]config.SourceProfile, cache DocumentCache) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Resolver{
		logger:   logger,
		client:   &http.Client{Timeout: timeout},
		profiles: profiles,
		cache:    cache,
		cacheTTL: ttl,
	}
}

// ResolveCached resolves through the document cache keyed on the civic item.
// A fresh cache row short-circuits the network entirely, including negative
// rows that record an unresolvable bill.
func (r *Resolver) ResolveCached(ctx context.Context, itemID, profileName, year, bill string) (Result, error) {
	if r.cache != nil {
		cached, ok, err := r.cache.GetDocumentSource(ctx, itemID, config.DocKindPDF)
		if err != nil {
			r.logger.Printf("document cache read failed for %s: %v", itemID, err)
		} else if ok && time.Since(cached.CheckedAt) < r.cacheTTL {
			if cached.URL == "" {
				return Result{}, &ErrNotFound{Profile: profileName, Bill: bill}
			}
			return Result{
				URL:         cached.URL,
				Kind:        cached.Kind,
				ContentType: cached.ContentType,
				ResolvedVia: cached.ResolvedVia,
			}, nil
		}
	}

	res, err := r.Resolve(ctx, profileName, year, bill)
	if err == nil {
		documentsResolved.WithLabelValues(res.ResolvedVia).Inc()
	}
	if r.cache != nil {
		doc := store.DocumentSource{CivicItemID: itemID, Kind: config.DocKindPDF, CheckedAt: time.Now().UTC()}
		if err == nil {
			doc.URL = res.URL
			doc.ContentType = res.ContentType
			doc.ResolvedVia = res.ResolvedVia
		} else {
			doc.LastError = err.Error()
		}
		if _, isNotFound := err.(*ErrNotFound); err == nil || isNotFound {
			if cacheErr := r.cache.UpsertDocumentSource(ctx, doc); cacheErr != nil {
				r.logger.Printf("document cache write failed for %s: %v", itemID, cacheErr)
			}
		}
	}
	return res, err
}

// Resolve probes a profile's candidates in priority order across its base
// URLs, then falls back to checkpoint pages.
func (r *Resolver) Resolve(ctx context.Context, profileName, year, bill string) (Result, error) {
	profile, ok := r.profiles[profileName]
	if !ok {
		return Result{}, fmt.Errorf("unknown source profile %q", profileName)
	}

	var attempts []Attempt

	for _, cand := range profile.SortedCandidates() {
		for _, base := range profile.BaseURLs {
			target := strings.TrimRight(base, "/") + config.ExpandTemplate(cand.Template, year, bill)
			attempt, contentType, okProbe := r.probeDocument(ctx, target, cand.Kind)
			attempts = append(attempts, attempt)
			if okProbe {
				return Result{
					URL:         target,
					Kind:        cand.Kind,
					ContentType: contentType,
					ResolvedVia: ViaDirect,
					Attempts:    attempts,
				}, nil
			}
		}
	}

	for _, cp := range profile.SortedCheckpoints() {
		for _, base := range profile.BaseURLs {
			target := strings.TrimRight(base, "/") + config.ExpandTemplate(cp.Template, year, bill)
			res, cpAttempts, found := r.probeCheckpoint(ctx, profile, cp, target)
			attempts = append(attempts, cpAttempts...)
			if found {
				res.Attempts = attempts
				return res, nil
			}
		}
	}

	return Result{}, &ErrNotFound{Profile: profileName, Bill: bill, Attempts: attempts}
}

// probeDocument checks one candidate URL. HEAD goes first; servers that
// reject or mishandle HEAD get a GET escalation. The expected kind decides
// which content types count as a hit: html candidates accept HTML pages,
// everything else requires a binary document type.
func (r *Resolver) probeDocument(ctx context.Context, target, kind string) (Attempt, string, bool) {
	attempt := Attempt{Method: http.MethodHead, URL: target}

	resp, err := r.do(ctx, http.MethodHead, target)
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		attempt.Status = resp.StatusCode
		if resp.StatusCode == http.StatusOK {
			ct := resp.Header.Get("Content-Type")
			if acceptedContentType(kind, ct) {
				return attempt, ct, true
			}
		}
		if resp.StatusCode == http.StatusNotFound {
			return attempt, "", false
		}
	} else {
		attempt.Error = err.Error()
	}

	attempt.Method = http.MethodGet
	resp, err = r.do(ctx, http.MethodGet, target)
	if err != nil {
		attempt.Error = err.Error()
		return attempt, "", false
	}
	defer resp.Body.Close()
	io.CopyN(io.Discard, resp.Body, maxProbeBody)
	attempt.Status = resp.StatusCode
	attempt.Error = ""
	if resp.StatusCode != http.StatusOK {
		return attempt, "", false
	}
	ct := resp.Header.Get("Content-Type")
	if !acceptedContentType(kind, ct) {
		attempt.Error = fmt.Sprintf("unexpected content type %q", ct)
		return attempt, "", false
	}
	return attempt, ct, true
}

func acceptedContentType(kind, ct string) bool {
	if kind == config.DocKindHTML {
		return helpers.IsHTMLContentType(ct)
	}
	return helpers.IsProbablyBinary(ct)
}

// probeCheckpoint fetches a structured page and, for link-parsing
// checkpoints, follows document links discovered in the body.
func (r *Resolver) probeCheckpoint(ctx context.Context, profile config.SourceProfile, cp config.Checkpoint, target string) (Result, []Attempt, bool) {
	attempt := Attempt{Method: http.MethodGet, URL: target}

	resp, err := r.do(ctx, http.MethodGet, target)
	if err != nil {
		attempt.Error = err.Error()
		return Result{}, []Attempt{attempt}, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	resp.Body.Close()
	attempt.Status = resp.StatusCode
	if err != nil {
		attempt.Error = err.Error()
		return Result{}, []Attempt{attempt}, false
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, []Attempt{attempt}, false
	}

	html := string(body)
	if profile.IsSPAShell(html) {
		attempt.Error = "application shell without content"
		return Result{}, []Attempt{attempt}, false
	}

	if cp.ParserKind != "links" {
		ct := resp.Header.Get("Content-Type")
		if helpers.IsHTMLContentType(ct) {
			return Result{
				URL:         target,
				Kind:        config.DocKindHTML,
				ContentType: ct,
				ResolvedVia: ViaCheckpoint,
			}, []Attempt{attempt}, true
		}
		attempt.Error = fmt.Sprintf("unexpected content type %q", ct)
		return Result{}, []Attempt{attempt}, false
	}

	attempts := []Attempt{attempt}
	for _, href := range r.documentLinks(profile, html) {
		abs, err := helpers.ResolveRelative(target, href)
		if err != nil {
			continue
		}
		linkAttempt, ct, ok := r.probeDocument(ctx, abs, config.DocKindPDF)
		attempts = append(attempts, linkAttempt)
		if ok {
			return Result{
				URL:         abs,
				Kind:        config.DocKindPDF,
				ContentType: ct,
				ResolvedVia: ViaCheckpointLink,
			}, attempts, true
		}
	}
	return Result{}, attempts, false
}

// documentLinks extracts hrefs matching the profile link pattern that point
// at PDF documents.
func (r *Resolver) documentLinks(profile config.SourceProfile, html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		r.logger.Printf("checkpoint parse failed: %v", err)
		return nil
	}

	var out []string
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		if profile.LinkPattern != "" && !strings.Contains(href, profile.LinkPattern) {
			return
		}
		if !strings.HasSuffix(strings.ToLower(href), ".pdf") {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		out = append(out, href)
	})
	return out
}

func (r *Resolver) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "civicd/1.0 (+document resolver)")
	return r.client.Do(req)
}
