package textsource

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/this-is-us/civicd/config"
	"github.com/this-is-us/civicd/internal/helpers"
	"github.com/this-is-us/civicd/internal/resolver"
	"github.com/this-is-us/civicd/internal/store"
)

// Source labels describing where bill text came from, in descending order
// of authority.
const (
	SourceStructured = "structured"
	SourceTextURL    = "text_url"
	SourceDocument   = "document"
	SourceAbstract   = "abstract"
	SourceTitleOnly  = "title_only"
	SourceNone       = "none"
)

// NoteNoText marks an item for which every strategy came up empty.
const NoteNoText = "no_text_available"

// Text is the outcome of the acquisition ladder. Source is always set;
// Content may be empty only when Source is "none".
type Text struct {
	Content   string
	Source    string
	Note      string
	Truncated bool
}

// Authoritative reports whether the text is a faithful rendering of the
// bill itself rather than a thin stand-in.
func (t Text) Authoritative() bool {
	switch t.Source {
	case SourceStructured, SourceTextURL, SourceDocument:
		return true
	}
	return false
}

// DocResolver is the slice of the resolver the ladder needs.
type DocResolver interface {
	ResolveCached(ctx context.Context, itemID, profileName, year, bill string) (resolver.Result, error)
}

// BinaryExtractor turns a binary document URL into plain text. A nil
// extractor disables the document strategy.
type BinaryExtractor interface {
	ExtractText(ctx context.Context, url string) (string, error)
}

// Ladder acquires the best available text for a bill by walking a fixed
// strategy order: stored structured text, the bill info feed, the item's
// text URL, a resolved binary document, the abstract feed, and finally the
// bare title. Acquire never fails; exhaustion yields Source "none".
type Ladder struct {
	logger    *log.Logger
	cfg       config.LadderConfig
	client    *http.Client
	resolver  DocResolver
	extractor BinaryExtractor
	profile   string
}

// New builds a Ladder. resolver and extractor may be nil, which disables
// the document strategy.
func New(logger *log.Logger, cfg config.LadderConfig, docResolver DocResolver, extractor BinaryExtractor, profile string) *Ladder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg = cfg.Normalize()
	return &Ladder{
		logger:    logger,
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.FetchTimeout},
		resolver:  docResolver,
		extractor: extractor,
		profile:   profile,
	}
}

// Acquire walks the ladder for one bill.
func (l *Ladder) Acquire(ctx context.Context, item store.CivicItem) Text {
	if text := l.fromStructured(ctx, item); text != nil {
		return *text
	}
	if text := l.fromTextURL(ctx, item); text != nil {
		return *text
	}
	if text := l.fromDocument(ctx, item); text != nil {
		return *text
	}
	if text := l.fromAbstract(ctx, item); text != nil {
		return *text
	}
	// A summary too short for the abstract rung still beats giving up.
	for _, fallback := range []string{item.Title, item.Summary} {
		if s := strings.TrimSpace(fallback); s != "" {
			return Text{Content: s, Source: SourceTitleOnly}
		}
	}
	return Text{Source: SourceNone, Note: NoteNoText}
}

// fromStructured prefers text already stored on the item, then the bill
// info feed's structured fields.
func (l *Ladder) fromStructured(ctx context.Context, item store.CivicItem) *Text {
	if stored := strings.TrimSpace(item.FullText); len(stored) >= l.cfg.MinTextChars {
		return l.accept(stored, SourceStructured)
	}

	if l.cfg.BillInfoEndpoint == "" {
		return nil
	}
	info, err := l.FetchBillInfo(ctx, item.Session, item.BillNumber)
	if err != nil {
		l.logger.Printf("bill info fetch failed for %s: %v", item.BillNumber, err)
		return nil
	}
	combined := info.CombinedText()
	if len(combined) < l.cfg.MinTextChars {
		return nil
	}
	return l.accept(combined, SourceStructured)
}

// fromTextURL fetches the item's text URL and extracts readable content.
func (l *Ladder) fromTextURL(ctx context.Context, item store.CivicItem) *Text {
	target := strings.TrimSpace(item.TextURL)
	if target == "" {
		return nil
	}

	content, err := l.fetchReadable(ctx, target)
	if err != nil {
		l.logger.Printf("text url fetch failed for %s: %v", item.BillNumber, err)
		return nil
	}
	if len(content) < l.cfg.MinTextChars {
		return nil
	}
	return l.accept(content, SourceTextURL)
}

// fromDocument resolves a binary document and runs it through the
// extractor. The threshold is higher here because extraction output from
// scanned documents is often garbage.
func (l *Ladder) fromDocument(ctx context.Context, item store.CivicItem) *Text {
	if l.resolver == nil || l.extractor == nil {
		return nil
	}

	res, err := l.resolver.ResolveCached(ctx, item.ID, l.profile, item.Session, item.BillNumber)
	if err != nil {
		return nil
	}
	if res.Kind != config.DocKindPDF {
		return nil
	}

	content, err := l.extractor.ExtractText(ctx, res.URL)
	if err != nil {
		l.logger.Printf("document extraction failed for %s: %v", item.BillNumber, err)
		return nil
	}
	content = helpers.NormalizeWhitespace(content)
	if len(content) < l.cfg.MinDocumentChars {
		return nil
	}
	return l.accept(content, SourceDocument)
}

// fromAbstract uses the item's stored summary, then the abstract feed.
func (l *Ladder) fromAbstract(ctx context.Context, item store.CivicItem) *Text {
	if summary := strings.TrimSpace(item.Summary); len(summary) >= l.cfg.MinAbstractChars {
		return l.accept(summary, SourceAbstract)
	}

	if l.cfg.AbstractEndpoint == "" {
		return nil
	}
	abstract, err := l.fetchAbstract(ctx, item)
	if err != nil {
		l.logger.Printf("abstract fetch failed for %s: %v", item.BillNumber, err)
		return nil
	}
	if len(abstract) < l.cfg.MinAbstractChars {
		return nil
	}
	return l.accept(abstract, SourceAbstract)
}

// accept caps the text and wraps it with its source label.
func (l *Ladder) accept(content, source string) *Text {
	text := Text{Content: content, Source: source}
	if len(content) > l.cfg.MaxTextChars {
		text.Content = helpers.Truncate(content, l.cfg.MaxTextChars)
		text.Truncated = true
	}
	return &text
}
