package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/this-is-us/civicd/internal/helpers"
	"github.com/this-is-us/civicd/internal/store"
	"github.com/this-is-us/civicd/provider"
)

// CanonicalTopics is the closed tagging vocabulary. The model may only
// assign these slugs; anything else it proposes lands in other_flags for
// open-vocabulary handling.
var CanonicalTopics = map[string]string{
	"property-tax-relief":    "Property Tax Relief",
	"water-rights":           "Water Rights",
	"education-funding":      "Education Funding",
	"energy-permitting":      "Energy Permitting",
	"public-safety-fentanyl": "Public Safety & Fentanyl",
	"housing-land-use":       "Housing & Land Use",
}

// TopicAssignment is one validated closed-vocabulary tag. Snippet is the
// passage the model cited as the trigger, when it gave one.
type TopicAssignment struct {
	Slug       string
	Label      string
	Confidence float64
	Snippet    string
}

// TaggingResult is what one closed-vocabulary pass produced.
type TaggingResult struct {
	Assigned   []TopicAssignment
	OtherFlags []string
	Removed    int64
}

// TopicStore is the slice of the store the taggers need.
type TopicStore interface {
	UpsertHotTopic(ctx context.Context, topic store.HotTopic) (store.HotTopic, error)
	CountTopicLinks(ctx context.Context, itemID, topicID string) (int, error)
	CountOpenVocabLinks(ctx context.Context, itemID string) (int, error)
	InsertTopicLink(ctx context.Context, link store.HotTopicLink) error
	DeleteStaleTopicLinks(ctx context.Context, itemID, method string, keepSlugs []string) (int64, error)
	ListTopicsForItem(ctx context.Context, itemID string) ([]store.HotTopic, []store.HotTopicLink, error)
}

// TopicTagger assigns hot-topic tags to bills.
type TopicTagger struct {
	logger   *log.Logger
	provider provider.Provider
	model    string
	store    TopicStore
}

// NewTopicTagger builds a tagger.
func NewTopicTagger(logger *log.Logger, p provider.Provider, model string, st TopicStore) *TopicTagger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &TopicTagger{logger: logger, provider: p, model: model, store: st}
}

// TagClosedVocab asks the model which canonical topics apply and persists
// the validated links. Link writes are idempotent and tags the model no
// longer assigns are removed.
func (t *TopicTagger) TagClosedVocab(ctx context.Context, item store.CivicItem, text string) (TaggingResult, error) {
	assignments, flags, err := t.classify(ctx, item, text)
	if err != nil {
		return TaggingResult{}, err
	}

	result := TaggingResult{OtherFlags: flags}
	keepSlugs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		topic, err := t.store.UpsertHotTopic(ctx, store.HotTopic{
			Session: item.Session,
			Slug:    a.Slug,
			Label:   a.Label,
			Status:  store.TopicStatusActive,
		})
		if err != nil {
			return result, fmt.Errorf("upsert topic %s: %w", a.Slug, err)
		}
		n, err := t.store.CountTopicLinks(ctx, item.ID, topic.ID)
		if err != nil {
			return result, fmt.Errorf("count links for %s: %w", a.Slug, err)
		}
		if n == 0 {
			if err := t.store.InsertTopicLink(ctx, store.HotTopicLink{
				CivicItemID:    item.ID,
				TopicID:        topic.ID,
				Confidence:     a.Confidence,
				Method:         store.TopicMethodClosedVocab,
				TriggerSnippet: a.Snippet,
			}); err != nil {
				return result, fmt.Errorf("link topic %s: %w", a.Slug, err)
			}
			topicsTagged.WithLabelValues(store.TopicMethodClosedVocab).Inc()
		}
		keepSlugs = append(keepSlugs, a.Slug)
		result.Assigned = append(result.Assigned, a)
	}

	removed, err := t.store.DeleteStaleTopicLinks(ctx, item.ID, store.TopicMethodClosedVocab, keepSlugs)
	if err != nil {
		return result, fmt.Errorf("prune stale tags: %w", err)
	}
	result.Removed = removed
	return result, nil
}

// classify runs the model and validates its output against the vocabulary.
func (t *TopicTagger) classify(ctx context.Context, item store.CivicItem, text string) ([]TopicAssignment, []string, error) {
	slugs := make([]string, 0, len(CanonicalTopics))
	for slug := range CanonicalTopics {
		slugs = append(slugs, slug)
	}

	system := fmt.Sprintf(`You classify state legislation against a fixed list of topics. The only valid topic slugs are: %s.

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{
  "topics": [{"slug": "one of the valid slugs", "confidence": 0.0, "trigger_snippet": "short quote from the bill that prompted the tag"}],
  "other_flags": ["short phrases for themes outside the list"]
}
Assign a topic only when the bill substantively concerns it and your confidence is at least 0.50; weaker matches belong in other_flags as short phrases instead. An empty topics array is a valid answer.`, strings.Join(slugs, ", "))

	user := BuildUserPrompt(item, text)

	raw, err := t.provider.Complete(ctx, system, user, t.model)
	if err != nil {
		return nil, nil, fmt.Errorf("topic classification: %w", err)
	}

	jsonStr, err := helpers.ExtractJSON(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("topic classification response: %w", err)
	}

	var payload struct {
		Topics []struct {
			Slug           string  `json:"slug"`
			Confidence     float64 `json:"confidence"`
			TriggerSnippet string  `json:"trigger_snippet"`
		} `json:"topics"`
		OtherFlags []string `json:"other_flags"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return nil, nil, fmt.Errorf("topic classification parse: %w", err)
	}

	var out []TopicAssignment
	seen := map[string]struct{}{}
	for _, tp := range payload.Topics {
		slug := strings.ToLower(strings.TrimSpace(tp.Slug))
		label, ok := CanonicalTopics[slug]
		if !ok {
			t.logger.Printf("model proposed unknown topic slug %q for %s", tp.Slug, item.BillNumber)
			continue
		}
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		out = append(out, TopicAssignment{
			Slug:       slug,
			Label:      label,
			Confidence: ClampConfidence(tp.Confidence),
			Snippet:    helpers.Truncate(strings.TrimSpace(tp.TriggerSnippet), maxKeyPointChars),
		})
	}

	var flags []string
	for _, f := range payload.OtherFlags {
		if f = strings.TrimSpace(f); f != "" {
			flags = append(flags, f)
		}
	}
	return out, flags, nil
}

// BuildCitizenPrompt constructs a prompt a citizen can paste into any LLM
// to get a plain-language explanation of how a bill relates to a topic.
// No model call is made.
func BuildCitizenPrompt(billNumber, topicLabel string) string {
	return fmt.Sprintf(`You are a civic educator explaining Wyoming legislation to a regular citizen.

Bill: %s
Topic: %s

Explain how this bill relates to %q in clear, everyday language. Describe the main changes the bill proposes, what problem it tries to solve, and how it might affect daily life for Wyoming residents. Avoid legal jargon; use simple examples if needed.`, billNumber, topicLabel, topicLabel)
}

// ClampConfidence bounds a model-reported score to [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
