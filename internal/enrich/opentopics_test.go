package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/this-is-us/civicd/internal/store"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Property Tax Relief":      "property-tax-relief",
		"Housing & Land Use":       "housing-land-use",
		"  Grid -- Reliability  ":  "grid-reliability",
		"Ranchers' Water Rights":   "ranchers-water-rights",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidLabel(t *testing.T) {
	valid := []string{"Water Rights", "K-12 Funding", "Housing & Land Use"}
	for _, l := range valid {
		if !ValidLabel(l) {
			t.Errorf("expected %q valid", l)
		}
	}
	invalid := []string{"ab", strings.Repeat("x", 41), "weird|chars", "<script>"}
	for _, l := range invalid {
		if ValidLabel(l) {
			t.Errorf("expected %q invalid", l)
		}
	}
}

func TestTagOpenVocabMergesAIOverHeuristic(t *testing.T) {
	p := &stubProvider{response: `{"topics":[{"key":"grid-reliability","label":"Grid Reliability","description":"Bills about keeping the electric grid dependable.","confidence":0.85},{"label":"x","confidence":0.9}]}`}
	st := newFakeTopicStore()
	tagger := NewTopicTagger(nil, p, "gpt-4o", st)

	text := strings.Repeat("transmission siting permits for transmission siting corridors ", 3)
	tags, err := tagger.TagOpenVocab(context.Background(), testItem, text)
	if err != nil {
		t.Fatalf("TagOpenVocab: %v", err)
	}
	if len(tags) == 0 || tags[0].Slug != "grid-reliability" {
		t.Fatalf("expected AI proposal first, got %+v", tags)
	}
	for _, tag := range tags {
		if tag.Slug == "x" {
			t.Error("invalid label should have been dropped")
		}
	}
	if len(tags) > maxCandidateTopics {
		t.Errorf("expected at most %d tags, got %d", maxCandidateTopics, len(tags))
	}
	// Heuristic candidates backfill behind the AI proposal.
	var sawHeuristic bool
	for _, tag := range tags[1:] {
		if tag.Slug == "transmission-siting" {
			sawHeuristic = true
		}
	}
	if !sawHeuristic {
		t.Errorf("expected heuristic candidate in %+v", tags)
	}
	grid := st.topics["grid-reliability"]
	if grid.Status != store.TopicStatusDraft {
		t.Errorf("open-vocabulary topic should start as draft, got %q", grid.Status)
	}
	if grid.Description == "" {
		t.Error("expected proposal description persisted")
	}
}

func TestTagOpenVocabIdempotent(t *testing.T) {
	p := &stubProvider{response: `{"topics":[{"label":"Grid Reliability","confidence":0.85}]}`}
	st := newFakeTopicStore()
	tagger := NewTopicTagger(nil, p, "gpt-4o", st)

	first, err := tagger.TagOpenVocab(context.Background(), testItem, "short text")
	if err != nil {
		t.Fatal(err)
	}
	if first[0].Status != TagCreated {
		t.Errorf("expected created on first pass, got %s", first[0].Status)
	}

	second, err := tagger.TagOpenVocab(context.Background(), testItem, "short text")
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Status != TagExisting {
		t.Errorf("expected existing on rerun, got %s", second[0].Status)
	}

	var gridLinks int
	for _, l := range st.links[testItem.ID] {
		if l.TopicID == "id-grid-reliability" {
			gridLinks++
		}
	}
	if gridLinks != 1 {
		t.Errorf("expected a single link, got %d", gridLinks)
	}
}

func TestTagOpenVocabRunsAfterClosedVocabPass(t *testing.T) {
	p := &stubProvider{response: `{"topics":[{"key":"grid-reliability","label":"Grid Reliability","confidence":0.85}]}`}
	st := newFakeTopicStore()
	tagger := NewTopicTagger(nil, p, "gpt-4o", st)

	curated, err := st.UpsertHotTopic(context.Background(), store.HotTopic{Slug: "property-tax-relief", Label: "Property Tax Relief"})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.InsertTopicLink(context.Background(), store.HotTopicLink{
		CivicItemID: testItem.ID,
		TopicID:     curated.ID,
		Confidence:  0.9,
		Method:      store.TopicMethodClosedVocab,
	}); err != nil {
		t.Fatal(err)
	}

	tags, err := tagger.TagOpenVocab(context.Background(), testItem, "short text")
	if err != nil {
		t.Fatalf("TagOpenVocab: %v", err)
	}
	if p.calls == 0 {
		t.Fatal("closed-vocabulary links must not suppress the open pass")
	}
	if len(tags) == 0 || tags[0].Status != TagCreated {
		t.Fatalf("expected created open tags, got %+v", tags)
	}
	for _, tag := range tags {
		if tag.Slug == "property-tax-relief" {
			t.Errorf("closed-vocabulary link reported as an open tag: %+v", tags)
		}
	}
}

func TestTagOpenVocabSurvivesModelFailure(t *testing.T) {
	p := &stubProvider{err: errors.New("model down")}
	st := newFakeTopicStore()
	tagger := NewTopicTagger(nil, p, "gpt-4o", st)

	text := strings.Repeat("water rights adjudication water rights adjudication ", 3)
	tags, err := tagger.TagOpenVocab(context.Background(), testItem, text)
	if err != nil {
		t.Fatalf("TagOpenVocab: %v", err)
	}
	if len(tags) == 0 {
		t.Fatal("expected heuristic tags despite model failure")
	}
	for _, tag := range tags {
		topic := st.topics[tag.Slug]
		if topic.Slug == "" {
			t.Errorf("tag %q not persisted", tag.Slug)
		}
	}
}

func TestMergeTopicsDeduplicatesBySlug(t *testing.T) {
	merged := mergeTopics(
		[]openCandidate{{Label: "Water Rights", Confidence: 0.9, Method: store.TopicMethodAI}},
		[]string{"Water Rights", "Education Funding"},
	)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged topics, got %d", len(merged))
	}
	if merged[0].Method != store.TopicMethodAI {
		t.Errorf("AI proposal should win the duplicate slug")
	}
}
