package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/this-is-us/civicd/internal/helpers"
	"github.com/this-is-us/civicd/internal/store"
)

// Open-vocabulary tag outcomes.
const (
	TagCreated  = "created"
	TagExisting = "existing"
)

// Label and slug constraints for the open vocabulary.
const (
	minLabelChars = 3
	maxLabelChars = 40
)

var labelRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 &'-]*$`)
var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// OpenTag is one persisted open-vocabulary tag with its write outcome.
type OpenTag struct {
	Slug       string
	Label      string
	Confidence float64
	Status     string
}

// Slugify derives a URL-safe topic slug from a label.
func Slugify(label string) string {
	slug := slugStripRe.ReplaceAllString(strings.ToLower(label), "-")
	return strings.Trim(slug, "-")
}

// ValidLabel reports whether a proposed open-vocabulary label is usable.
func ValidLabel(label string) bool {
	n := len(strings.TrimSpace(label))
	if n < minLabelChars || n > maxLabelChars {
		return false
	}
	return labelRe.MatchString(strings.TrimSpace(label))
}

// TagOpenVocab merges model-proposed topics over heuristic candidates,
// capped at the candidate limit, and persists them. The pass is idempotent
// at the bill level: when the bill already has open-vocabulary links, the
// stored tags are reported as existing and no model call or write happens.
// Closed-vocabulary links do not satisfy the check; the closed pass running
// first must not suppress this one.
func (t *TopicTagger) TagOpenVocab(ctx context.Context, item store.CivicItem, text string) ([]OpenTag, error) {
	linked, err := t.store.CountOpenVocabLinks(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("count existing links: %w", err)
	}
	if linked > 0 {
		return t.existingTags(ctx, item.ID)
	}

	heuristic := CandidateTopics(text)
	aiTopics, err := t.proposeTopics(ctx, item, text, heuristic)
	if err != nil {
		t.logger.Printf("open topic proposal failed for %s, using heuristic only: %v", item.BillNumber, err)
	}

	merged := mergeTopics(aiTopics, heuristic)

	out := make([]OpenTag, 0, len(merged))
	for _, candidate := range merged {
		slug := candidate.Key
		if slug == "" {
			slug = Slugify(candidate.Label)
		}
		if slug == "" {
			continue
		}
		topic, err := t.store.UpsertHotTopic(ctx, store.HotTopic{
			Session:     item.Session,
			Slug:        slug,
			Label:       candidate.Label,
			Description: candidate.Description,
			ParentSlug:  candidate.Parent,
			Status:      store.TopicStatusDraft,
		})
		if err != nil {
			return out, fmt.Errorf("upsert open topic %s: %w", slug, err)
		}
		if err := t.store.InsertTopicLink(ctx, store.HotTopicLink{
			CivicItemID: item.ID,
			TopicID:     topic.ID,
			Confidence:  candidate.Confidence,
			Method:      candidate.Method,
		}); err != nil {
			return out, fmt.Errorf("link open topic %s: %w", slug, err)
		}
		topicsTagged.WithLabelValues(candidate.Method).Inc()
		out = append(out, OpenTag{Slug: slug, Label: candidate.Label, Confidence: candidate.Confidence, Status: TagCreated})
	}
	return out, nil
}

// existingTags reports the bill's stored open-vocabulary links without
// side effects.
func (t *TopicTagger) existingTags(ctx context.Context, itemID string) ([]OpenTag, error) {
	topics, links, err := t.store.ListTopicsForItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list existing topics: %w", err)
	}
	out := make([]OpenTag, 0, len(topics))
	for i, topic := range topics {
		if links[i].Method == store.TopicMethodClosedVocab {
			continue
		}
		out = append(out, OpenTag{
			Slug:       topic.Slug,
			Label:      topic.Label,
			Confidence: links[i].Confidence,
			Status:     TagExisting,
		})
	}
	return out, nil
}

type openCandidate struct {
	Key         string
	Label       string
	Description string
	Parent      string
	Confidence  float64
	Method      string
}

// mergeTopics prefers model proposals, backfilling with heuristic
// candidates up to the cap. Duplicate keys collapse onto the first entry.
func mergeTopics(aiTopics []openCandidate, heuristic []string) []openCandidate {
	out := make([]openCandidate, 0, maxCandidateTopics)
	seen := map[string]struct{}{}

	add := func(c openCandidate) {
		if len(out) >= maxCandidateTopics {
			return
		}
		if c.Key == "" {
			c.Key = Slugify(c.Label)
		}
		if c.Key == "" {
			return
		}
		if _, dup := seen[c.Key]; dup {
			return
		}
		seen[c.Key] = struct{}{}
		out = append(out, c)
	}

	for _, c := range aiTopics {
		add(c)
	}
	for _, label := range heuristic {
		add(openCandidate{Label: label, Confidence: 0.3, Method: store.TopicMethodHeuristic})
	}
	return out
}

// proposeTopics asks the model for free-form topic objects, seeded with the
// heuristic candidates, and validates every proposal.
func (t *TopicTagger) proposeTopics(ctx context.Context, item store.CivicItem, text string, seeds []string) ([]openCandidate, error) {
	system := fmt.Sprintf(`You extract the policy themes of a state bill as topic objects.

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{
  "topics": [{"key": "slug-form-key", "label": "Short Topic Label", "description": "one sentence describing the topic", "parent": "optional broader topic key", "confidence": 0.0}]
}
Labels are %d to %d characters, Title Case, letters, digits, spaces, ampersands, hyphens and apostrophes only. At most %d topics.`, minLabelChars, maxLabelChars, maxCandidateTopics)

	user := BuildUserPrompt(item, text)
	if len(seeds) > 0 {
		user += fmt.Sprintf("\nCandidate themes extracted from the text: %s\nRefine, replace or extend these as the bill warrants.\n", strings.Join(seeds, ", "))
	}

	raw, err := t.provider.Complete(ctx, system, user, t.model)
	if err != nil {
		return nil, err
	}
	jsonStr, err := helpers.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Topics []struct {
			Key         string  `json:"key"`
			Label       string  `json:"label"`
			Description string  `json:"description"`
			Parent      string  `json:"parent"`
			Confidence  float64 `json:"confidence"`
		} `json:"topics"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return nil, err
	}

	var out []openCandidate
	for _, tp := range payload.Topics {
		label := strings.TrimSpace(tp.Label)
		if !ValidLabel(label) {
			t.logger.Printf("model proposed invalid topic label %q for %s", tp.Label, item.BillNumber)
			continue
		}
		out = append(out, openCandidate{
			Key:         Slugify(tp.Key),
			Label:       label,
			Description: strings.TrimSpace(tp.Description),
			Parent:      Slugify(tp.Parent),
			Confidence:  ClampConfidence(tp.Confidence),
			Method:      store.TopicMethodAI,
		})
	}
	return out, nil
}
