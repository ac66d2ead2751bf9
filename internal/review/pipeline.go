package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/this-is-us/civicd/config"
	"github.com/this-is-us/civicd/internal/enrich"
	"github.com/this-is-us/civicd/internal/helpers"
	"github.com/this-is-us/civicd/internal/store"
	"github.com/this-is-us/civicd/internal/textsource"
	"github.com/this-is-us/civicd/provider"
)

// Store is the slice of the persistence layer the pipeline needs.
type Store interface {
	GetCivicItem(ctx context.Context, id string) (store.CivicItem, bool, error)
	SetStatus(ctx context.Context, itemID, status string) error
	SponsorCount(ctx context.Context, itemID string) (int, error)
	UpsertVerification(ctx context.Context, rec store.VerificationRecord, caps store.Capabilities) error
}

// Outcome is the result of one full review pass.
type Outcome struct {
	ItemID           string
	Status           string
	StructuralIssues []string
	AIIssues         []string
	Confidence       float64
	TextSource       string
	Summary          enrich.Summary
	Topics           enrich.TaggingResult
}

// Pipeline runs the review flow for one bill: acquire text, enrich,
// structurally verify, optionally cross-check with a secondary model, and
// record the verdicts.
type Pipeline struct {
	logger    *log.Logger
	cfg       config.ReviewConfig
	store     Store
	caps      store.Capabilities
	ladder    *textsource.Ladder
	summaries *enrich.SummaryGenerator
	tagger    *enrich.TopicTagger
	provider  provider.Provider
	miniModel string
}

// New builds a Pipeline.
func New(logger *log.Logger, cfg config.ReviewConfig, st Store, caps store.Capabilities,
	ladder *textsource.Ladder, summaries *enrich.SummaryGenerator, tagger *enrich.TopicTagger,
	p provider.Provider, miniModel string) *Pipeline {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{
		logger:    logger,
		cfg:       cfg.Normalize(),
		store:     st,
		caps:      caps,
		ladder:    ladder,
		summaries: summaries,
		tagger:    tagger,
		provider:  p,
		miniModel: miniModel,
	}
}

// Review runs the pipeline for one item. Enrichment failures never abort
// the review; they degrade to flags and notes. Only store access errors
// propagate.
func (p *Pipeline) Review(ctx context.Context, itemID string) (Outcome, error) {
	item, ok, err := p.store.GetCivicItem(ctx, itemID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load civic item: %w", err)
	}
	if !ok {
		return Outcome{}, fmt.Errorf("civic item %s not found", itemID)
	}

	outcome := Outcome{ItemID: itemID}

	sponsorCount := -1
	if p.caps.SponsorsTable {
		// Without sponsor data sponsorCount stays -1 and the check
		// cannot fail the item.
		if sponsorCount, err = p.store.SponsorCount(ctx, itemID); err != nil {
			return outcome, fmt.Errorf("count sponsors: %w", err)
		}
	}

	outcome.StructuralIssues = CheckStructural(item, sponsorCount, p.cfg)

	structural := store.VerificationRecord{
		CivicItemID: itemID,
		CheckType:   store.CheckTypeStructural,
		Status:      store.VerificationStatusOK,
		Confidence:  1,
	}
	if len(outcome.StructuralIssues) > 0 {
		structural.Status = store.VerificationStatusFlagged
		structural.StatusReason = outcome.StructuralIssues[0]
		structural.Issues = outcome.StructuralIssues
		structural.Confidence = 0
	}
	structural.IsWyoming = passedCheck(outcome.StructuralIssues, ReasonWrongJurisdiction)
	structural.HasSummary = passedCheck(outcome.StructuralIssues, ReasonMissingSummaryOrText)
	if sponsorCount >= 0 {
		structural.HasWyomingSponsor = sql.NullBool{Bool: sponsorCount > 0, Valid: true}
	}
	structural.StructuralOK = sql.NullBool{Bool: len(outcome.StructuralIssues) == 0, Valid: true}
	if err := p.store.UpsertVerification(ctx, structural, p.caps); err != nil {
		return outcome, fmt.Errorf("record structural verification: %w", err)
	}
	verificationsRecorded.WithLabelValues(store.CheckTypeStructural, structural.Status).Inc()

	aiFlagged := false
	switch {
	case len(outcome.StructuralIssues) == 0 && item.AISummary == "":
		// Structurally sound with no AI fields yet: generate, tag and
		// cross-check. Rerunning on an already-enriched bill makes no
		// model calls at all.
		flagged, err := p.enrich(ctx, item, &outcome)
		if err != nil {
			return outcome, err
		}
		aiFlagged = flagged
	case item.AISummary != "":
		outcome.Summary = enrich.Summary{
			PlainSummary: item.AISummary,
			KeyPoints:    item.AIKeyPoints,
			Note:         item.AISummaryNote,
		}
		outcome.TextSource = item.AISummarySource
	}

	if len(outcome.StructuralIssues) > 0 || aiFlagged {
		outcome.Status = store.VerificationStatusFlagged
	} else {
		outcome.Status = store.VerificationStatusOK
	}

	itemStatus := store.ItemStatusApproved
	if outcome.Status == store.VerificationStatusFlagged {
		itemStatus = store.ItemStatusFlagged
	}
	if err := p.store.SetStatus(ctx, itemID, itemStatus); err != nil {
		return outcome, fmt.Errorf("set item status: %w", err)
	}

	return outcome, nil
}

// passedCheck reports as a stored boolean whether the named structural
// check came back clean.
func passedCheck(issues []string, reason string) sql.NullBool {
	for _, issue := range issues {
		if issue == reason {
			return sql.NullBool{Bool: false, Valid: true}
		}
	}
	return sql.NullBool{Bool: true, Valid: true}
}

// enrich runs the generation side effects for one structurally sound bill
// and, when configured, the secondary cross-check. It reports whether the
// cross-check flagged the bill. Generation failures degrade to notes; only
// persistence errors return.
func (p *Pipeline) enrich(ctx context.Context, item store.CivicItem, outcome *Outcome) (bool, error) {
	text := p.ladder.Acquire(ctx, item)
	outcome.TextSource = text.Source

	summary, err := p.summaries.EnsureSummary(ctx, item, text)
	if err != nil {
		return false, err
	}
	outcome.Summary = summary
	item.AISummary = summary.PlainSummary
	item.AISummaryNote = summary.Note

	if p.tagger != nil && text.Content != "" {
		topics, tagErr := p.tagger.TagClosedVocab(ctx, item, text.Content)
		if tagErr != nil {
			p.logger.Printf("topic tagging failed for %s: %v", item.BillNumber, tagErr)
		} else {
			outcome.Topics = topics
		}
	}

	if !p.cfg.CrossCheck || p.provider == nil || summary.Empty() {
		return false, nil
	}

	check, checkErr := p.crossCheck(ctx, item, summary, outcome.Topics)
	if checkErr != nil {
		p.logger.Printf("cross-check failed for %s: %v", item.BillNumber, checkErr)
		return false, nil
	}
	outcome.AIIssues = check.Issues
	outcome.Confidence = check.Confidence
	aiFlagged := !check.TopicMatch || !check.SummarySafe

	aiRec := store.VerificationRecord{
		CivicItemID: item.ID,
		CheckType:   store.CheckTypeAI,
		Status:      store.VerificationStatusOK,
		Issues:      check.Issues,
		Confidence:  check.Confidence,
	}
	if aiFlagged {
		aiRec.Status = store.VerificationStatusFlagged
		if !check.TopicMatch {
			aiRec.StatusReason = ReasonMismatchTopic
		} else if len(check.Issues) > 0 {
			aiRec.StatusReason = check.Issues[0]
		}
	}
	if err := p.store.UpsertVerification(ctx, aiRec, p.caps); err != nil {
		return aiFlagged, fmt.Errorf("record ai verification: %w", err)
	}
	verificationsRecorded.WithLabelValues(store.CheckTypeAI, aiRec.Status).Inc()
	return aiFlagged, nil
}

type crossCheckResult struct {
	TopicMatch  bool     `json:"topic_match"`
	SummarySafe bool     `json:"summary_safe"`
	Issues      []string `json:"issues"`
	Confidence  float64  `json:"confidence"`
}

// crossCheck asks the secondary model whether the generated summary and
// tags are consistent with the bill's own title and abstract.
func (p *Pipeline) crossCheck(ctx context.Context, item store.CivicItem, summary enrich.Summary, topics enrich.TaggingResult) (crossCheckResult, error) {
	system := `You audit machine-generated legislative summaries. Given a bill's title and abstract, its generated summary and its assigned topics, judge whether the summary faithfully reflects the bill and whether the topics fit.

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{
  "topic_match": true,
  "summary_safe": true,
  "issues": ["short descriptions of any problems"],
  "confidence": 0.0
}`

	var topicSlugs []string
	for _, a := range topics.Assigned {
		topicSlugs = append(topicSlugs, a.Slug)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Bill: %s (%s, %s)\nTitle: %s\n", item.BillNumber, item.Session, item.Jurisdiction, item.Title)
	if item.Summary != "" {
		fmt.Fprintf(&b, "Official abstract: %s\n", item.Summary)
	}
	fmt.Fprintf(&b, "Assigned topics: %s\n", strings.Join(topicSlugs, ", "))
	fmt.Fprintf(&b, "Generated summary: %s\n", summary.PlainSummary)
	fmt.Fprintf(&b, "Key points: %s\n", strings.Join(summary.KeyPoints, "; "))

	raw, err := p.provider.Complete(ctx, system, b.String(), p.miniModel)
	if err != nil {
		return crossCheckResult{}, err
	}
	jsonStr, err := helpers.ExtractJSON(raw)
	if err != nil {
		return crossCheckResult{}, err
	}
	var result crossCheckResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return crossCheckResult{}, err
	}
	result.Confidence = enrich.ClampConfidence(result.Confidence)
	return result, nil
}
