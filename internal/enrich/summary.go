package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/this-is-us/civicd/internal/helpers"
	"github.com/this-is-us/civicd/internal/store"
	"github.com/this-is-us/civicd/internal/textsource"
	"github.com/this-is-us/civicd/provider"
)

// Reason codes recorded when a summary could not be produced. They travel
// in the summary note column so downstream consumers can tell an outage
// from a bill that genuinely has nothing to summarize.
const (
	ReasonAPIError       = "api_error"
	ReasonParseError     = "parse_error"
	ReasonException      = "exception"
	ReasonEmptySummary   = "empty_summary"
	ReasonNeedMoreText   = "need_more_text"
	ReasonAmbiguousTitle = "ambiguous_title"
)

// Display limits applied to model output regardless of what comes back.
const (
	maxSummaryChars       = 500
	maxKeyPointChars      = 200
	maxKeyPointsFull      = 3
	maxKeyPointsTitleOnly = 2
)

// SummaryNotice builds the disclosure line attached to AI summaries on
// outward-facing surfaces. Empty when the summary has no generation
// timestamp.
func SummaryNotice(generatedAt *time.Time) string {
	if generatedAt == nil {
		return ""
	}
	return fmt.Sprintf("Generated by AI using draft bill language from the Wyoming Legislature as of %s. Bills can be amended before final passage.",
		generatedAt.UTC().Format("2006-01-02"))
}

// Summary is a validated generation outcome. A failed or declined
// generation has empty content and a reason code in Note; both shapes are
// persisted so reruns can tell a cached miss from never-attempted.
type Summary struct {
	PlainSummary string
	KeyPoints    []string
	Note         string
}

// Empty reports whether generation produced no usable summary.
func (s Summary) Empty() bool { return s.PlainSummary == "" }

// SummaryStore is the slice of the store the generator needs.
type SummaryStore interface {
	SaveSummary(ctx context.Context, itemID string, rec store.SummaryRecord) error
}

// SummaryGenerator produces and persists plain-language bill summaries.
type SummaryGenerator struct {
	logger   *log.Logger
	provider provider.Provider
	model    string
	store    SummaryStore
	maxAge   time.Duration
}

// NewSummaryGenerator builds a generator. maxAge controls how long a stored
// summary is reused before regeneration; zero means stored summaries never
// expire.
func NewSummaryGenerator(logger *log.Logger, p provider.Provider, model string, st SummaryStore, maxAge time.Duration) *SummaryGenerator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &SummaryGenerator{logger: logger, provider: p, model: model, store: st, maxAge: maxAge}
}

// EnsureSummary returns the stored summary when it is still fresh,
// otherwise generates and persists a new one. Persistence failures surface;
// generation failures do not, they persist as a downgraded summary.
func (g *SummaryGenerator) EnsureSummary(ctx context.Context, item store.CivicItem, text textsource.Text) (Summary, error) {
	if item.AISummary != "" && item.AIGeneratedAt != nil {
		if g.maxAge <= 0 || time.Since(*item.AIGeneratedAt) < g.maxAge {
			return Summary{PlainSummary: item.AISummary, KeyPoints: item.AIKeyPoints, Note: item.AISummaryNote}, nil
		}
	}

	summary := g.Generate(ctx, item, text)
	rec := store.SummaryRecord{
		PlainSummary:  summary.PlainSummary,
		KeyPoints:     summary.KeyPoints,
		Note:          summary.Note,
		Source:        text.Source,
		Authoritative: text.Authoritative() && !summary.Empty(),
		GeneratedAt:   time.Now().UTC(),
	}
	if err := g.store.SaveSummary(ctx, item.ID, rec); err != nil {
		return summary, fmt.Errorf("persist summary for %s: %w", item.ID, err)
	}
	return summary, nil
}

// Generate runs one summary generation. It never returns an error; every
// failure mode downgrades to an empty summary carrying a reason code.
func (g *SummaryGenerator) Generate(ctx context.Context, item store.CivicItem, text textsource.Text) Summary {
	summary := g.generate(ctx, item, text)
	if summary.Empty() {
		if summary.Note != "" {
			summaryFailures.WithLabelValues(summary.Note).Inc()
		}
	} else {
		summariesGenerated.WithLabelValues(text.Source).Inc()
	}
	return summary
}

func (g *SummaryGenerator) generate(ctx context.Context, item store.CivicItem, text textsource.Text) Summary {
	switch text.Source {
	case textsource.SourceNone:
		return Summary{Note: ReasonNeedMoreText}
	case textsource.SourceTitleOnly:
		return g.generateFromTitle(ctx, item, text)
	}
	return g.generateFromText(ctx, item, text)
}

func (g *SummaryGenerator) generateFromText(ctx context.Context, item store.CivicItem, text textsource.Text) Summary {
	system := `You are a legislative analyst writing for the general public. You receive the text of a state bill and produce a neutral plain-language summary.

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "plain_summary": "two to four sentences in plain language",
  "key_points": ["up to three short bullet points"],
  "note": "ok"
}
Set note to "need_more_text" if the provided text is too thin to summarize responsibly, or "mismatch_topic" if the text clearly does not belong to the bill named in the header. Otherwise set note to "ok". Do not include any other text or explanation. Do not editorialize or speculate about intent.`

	user := BuildUserPrompt(item, text.Content)

	raw, err := g.provider.Complete(ctx, system, user, g.model)
	if err != nil {
		return g.failed(item, err)
	}
	return g.validate(raw, maxKeyPointsFull)
}

// generateFromTitle runs the cautious prompt used when only the bill title
// or a one-line official summary survived the text ladder. The model is
// told to decline rather than guess.
func (g *SummaryGenerator) generateFromTitle(ctx context.Context, item store.CivicItem, text textsource.Text) Summary {
	system := `You are a legislative analyst. Only the TITLE of a state bill is available; its text could not be retrieved. Write a single cautious sentence describing what the bill appears to concern, based strictly on the title. Never invent provisions.

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{
  "plain_summary": "one cautious sentence, or empty string",
  "key_points": ["at most two short points"],
  "note": ""
}
If the title is too vague to say anything, return an empty plain_summary and set note to "ambiguous_title".`

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = strings.TrimSpace(text.Content)
	}
	user := fmt.Sprintf("Bill: %s %s (%s)\nTitle: %s", item.BillNumber, item.Session, item.Jurisdiction, title)

	raw, err := g.provider.Complete(ctx, system, user, g.model)
	if err != nil {
		return g.failed(item, err)
	}
	return g.validate(raw, maxKeyPointsTitleOnly)
}

// BuildUserPrompt assembles the user half of the summary exchange.
func BuildUserPrompt(item store.CivicItem, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bill: %s\n", item.BillNumber)
	fmt.Fprintf(&b, "Session: %s\n", item.Session)
	fmt.Fprintf(&b, "Jurisdiction: %s\n", item.Jurisdiction)
	if item.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", item.Title)
	}
	fmt.Fprintf(&b, "\nBILL TEXT:\n%s\n", text)
	return b.String()
}

func (g *SummaryGenerator) failed(item store.CivicItem, err error) Summary {
	reason := ReasonException
	if provider.IsAPIError(err) {
		reason = ReasonAPIError
	}
	g.logger.Printf("summary generation failed for %s: %v", item.BillNumber, err)
	return Summary{Note: reason}
}

// validate parses the model response and applies the display limits.
func (g *SummaryGenerator) validate(raw string, maxPoints int) Summary {
	jsonStr, err := helpers.ExtractJSON(raw)
	if err != nil {
		return Summary{Note: ReasonParseError}
	}

	var payload struct {
		PlainSummary string   `json:"plain_summary"`
		KeyPoints    []string `json:"key_points"`
		Note         string   `json:"note"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return Summary{Note: ReasonParseError}
	}

	plain := strings.TrimSpace(payload.PlainSummary)
	note := strings.TrimSpace(payload.Note)
	if strings.EqualFold(note, "ok") {
		note = ""
	}
	if plain == "" {
		// An empty summary must always carry a failure reason, whatever
		// note the model chose to send back.
		if note == "" {
			note = ReasonEmptySummary
		}
		return Summary{Note: note}
	}

	summary := Summary{PlainSummary: helpers.Truncate(plain, maxSummaryChars), Note: note}
	for _, point := range payload.KeyPoints {
		point = strings.TrimSpace(point)
		if point == "" {
			continue
		}
		summary.KeyPoints = append(summary.KeyPoints, helpers.Truncate(point, maxKeyPointChars))
		if len(summary.KeyPoints) == maxPoints {
			break
		}
	}
	return summary
}
