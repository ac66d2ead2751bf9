package enrich

import (
	"context"
	"strings"
	"testing"
	"time"

	openai_provider "github.com/this-is-us/civicd/provider/openai"

	"github.com/this-is-us/civicd/internal/store"
	"github.com/this-is-us/civicd/internal/textsource"
)

type stubProvider struct {
	response   string
	err        error
	lastSystem string
	lastUser   string
	calls      int
}

func (s *stubProvider) Complete(_ context.Context, system, user, _ string) (string, error) {
	s.calls++
	s.lastSystem = system
	s.lastUser = user
	return s.response, s.err
}

type fakeSummaryStore struct {
	saved  map[string]store.SummaryRecord
	failed error
}

func newFakeSummaryStore() *fakeSummaryStore {
	return &fakeSummaryStore{saved: map[string]store.SummaryRecord{}}
}

func (f *fakeSummaryStore) SaveSummary(_ context.Context, itemID string, rec store.SummaryRecord) error {
	if f.failed != nil {
		return f.failed
	}
	f.saved[itemID] = rec
	return nil
}

var testItem = store.CivicItem{
	ID:           "item-1",
	Source:       "lso",
	Jurisdiction: "WY",
	BillNumber:   "HB0045",
	Session:      "2024",
	Chamber:      "house",
	Title:        "Property tax relief",
}

func fullText() textsource.Text {
	return textsource.Text{Content: "AN ACT relating to ad valorem taxation...", Source: textsource.SourceTextURL}
}

func TestGenerateValidSummary(t *testing.T) {
	p := &stubProvider{response: `{"plain_summary":"Caps residential property tax growth at four percent per year.","key_points":["4% cap","primary residences only","expires 2030","extra point beyond cap"]}`}
	g := NewSummaryGenerator(nil, p, "gpt-4o", newFakeSummaryStore(), 0)

	s := g.Generate(context.Background(), testItem, fullText())
	if s.Empty() {
		t.Fatalf("expected summary, got note %q", s.Note)
	}
	if len(s.KeyPoints) != 3 {
		t.Errorf("expected key points capped at 3, got %d", len(s.KeyPoints))
	}
	if !strings.Contains(p.lastUser, "HB0045") || !strings.Contains(p.lastUser, "BILL TEXT:") {
		t.Errorf("prompt missing bill context: %q", p.lastUser)
	}
	if !strings.Contains(p.lastSystem, `"note"`) || !strings.Contains(p.lastSystem, "need_more_text") || !strings.Contains(p.lastSystem, "mismatch_topic") {
		t.Errorf("full-text prompt missing note guidance: %q", p.lastSystem)
	}
}

func TestGenerateClearsOKNote(t *testing.T) {
	p := &stubProvider{response: `{"plain_summary":"Caps residential property tax growth.","key_points":[],"note":"ok"}`}
	g := NewSummaryGenerator(nil, p, "gpt-4o", newFakeSummaryStore(), 0)

	s := g.Generate(context.Background(), testItem, fullText())
	if s.Empty() {
		t.Fatalf("expected summary, got note %q", s.Note)
	}
	if s.Note != "" {
		t.Errorf("expected the ok token dropped, got note %q", s.Note)
	}
}

func TestGenerateTruncatesLongSummary(t *testing.T) {
	long := strings.Repeat("word ", 200)
	p := &stubProvider{response: `{"plain_summary":"` + long + `","key_points":[]}`}
	g := NewSummaryGenerator(nil, p, "gpt-4o", newFakeSummaryStore(), 0)

	s := g.Generate(context.Background(), testItem, fullText())
	if got := len([]rune(s.PlainSummary)); got != 500 {
		t.Errorf("expected 500 chars, got %d", got)
	}
}

func TestGenerateFencedResponse(t *testing.T) {
	p := &stubProvider{response: "```json\n{\"plain_summary\":\"A summary.\",\"key_points\":[\"one\"]}\n```"}
	g := NewSummaryGenerator(nil, p, "gpt-4o", newFakeSummaryStore(), 0)

	s := g.Generate(context.Background(), testItem, fullText())
	if s.PlainSummary != "A summary." {
		t.Errorf("unexpected summary %q", s.PlainSummary)
	}
}

func TestGenerateReasonCodes(t *testing.T) {
	cases := []struct {
		name     string
		provider *stubProvider
		want     string
	}{
		{"api error", &stubProvider{err: &openai_provider.APIError{StatusCode: 429}}, ReasonAPIError},
		{"transport error", &stubProvider{err: context.DeadlineExceeded}, ReasonException},
		{"unparseable", &stubProvider{response: "I cannot help with that."}, ReasonParseError},
		{"empty summary", &stubProvider{response: `{"plain_summary":"","key_points":[]}`}, ReasonEmptySummary},
		{"model note wins", &stubProvider{response: `{"plain_summary":"","key_points":[],"note":"ambiguous_title"}`}, ReasonAmbiguousTitle},
		{"empty summary with ok note", &stubProvider{response: `{"plain_summary":"","key_points":[],"note":"ok"}`}, ReasonEmptySummary},
		{"declined for thin text", &stubProvider{response: `{"plain_summary":"","key_points":[],"note":"need_more_text"}`}, ReasonNeedMoreText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewSummaryGenerator(nil, tc.provider, "gpt-4o", newFakeSummaryStore(), 0)
			s := g.Generate(context.Background(), testItem, fullText())
			if !s.Empty() {
				t.Fatalf("expected empty summary, got %q", s.PlainSummary)
			}
			if s.Note != tc.want {
				t.Errorf("got note %q want %q", s.Note, tc.want)
			}
		})
	}
}

func TestGenerateTitleOnlyUsesCautiousPrompt(t *testing.T) {
	p := &stubProvider{response: `{"plain_summary":"The bill appears to concern property taxation.","key_points":["titled property tax relief","no text available"]}`}
	g := NewSummaryGenerator(nil, p, "gpt-4o", newFakeSummaryStore(), 0)

	s := g.Generate(context.Background(), testItem, textsource.Text{Content: "Property tax relief", Source: textsource.SourceTitleOnly})
	if s.Empty() {
		t.Fatalf("expected summary, got note %q", s.Note)
	}
	if len(s.KeyPoints) != 2 {
		t.Errorf("title-only key points capped at 2, got %d", len(s.KeyPoints))
	}
	if !strings.Contains(p.lastSystem, "TITLE") {
		t.Errorf("expected title-only prompt, got %q", p.lastSystem)
	}
}

func TestGenerateNoTextSkipsModel(t *testing.T) {
	p := &stubProvider{response: `{"plain_summary":"should not be called"}`}
	g := NewSummaryGenerator(nil, p, "gpt-4o", newFakeSummaryStore(), 0)

	s := g.Generate(context.Background(), testItem, textsource.Text{Source: textsource.SourceNone, Note: textsource.NoteNoText})
	if p.calls != 0 {
		t.Error("expected no model call without any text")
	}
	if s.Note != ReasonNeedMoreText {
		t.Errorf("got note %q", s.Note)
	}
}

func TestEnsureSummaryReturnsCached(t *testing.T) {
	p := &stubProvider{response: `{"plain_summary":"fresh"}`}
	st := newFakeSummaryStore()
	g := NewSummaryGenerator(nil, p, "gpt-4o", st, 0)

	generated := time.Now().Add(-time.Hour)
	item := testItem
	item.AISummary = "stored summary"
	item.AIKeyPoints = []string{"stored point"}
	item.AIGeneratedAt = &generated

	s, err := g.EnsureSummary(context.Background(), item, fullText())
	if err != nil {
		t.Fatalf("EnsureSummary: %v", err)
	}
	if s.PlainSummary != "stored summary" || p.calls != 0 {
		t.Errorf("expected cached summary without model call, got %+v calls=%d", s, p.calls)
	}
}

func TestEnsureSummaryRegeneratesStale(t *testing.T) {
	p := &stubProvider{response: `{"plain_summary":"fresh summary text"}`}
	st := newFakeSummaryStore()
	g := NewSummaryGenerator(nil, p, "gpt-4o", st, time.Hour)

	generated := time.Now().Add(-48 * time.Hour)
	item := testItem
	item.AISummary = "stale"
	item.AIGeneratedAt = &generated

	s, err := g.EnsureSummary(context.Background(), item, fullText())
	if err != nil {
		t.Fatalf("EnsureSummary: %v", err)
	}
	if s.PlainSummary != "fresh summary text" || p.calls != 1 {
		t.Errorf("expected regeneration, got %+v calls=%d", s, p.calls)
	}
	rec, ok := st.saved[item.ID]
	if !ok {
		t.Fatal("expected regenerated summary persisted")
	}
	if rec.Source != textsource.SourceTextURL || !rec.Authoritative {
		t.Errorf("summary provenance not persisted: %+v", rec)
	}
}

func TestEnsureSummaryPersistsDowngradedOutcome(t *testing.T) {
	p := &stubProvider{err: &openai_provider.APIError{StatusCode: 500}}
	st := newFakeSummaryStore()
	g := NewSummaryGenerator(nil, p, "gpt-4o", st, 0)

	s, err := g.EnsureSummary(context.Background(), testItem, fullText())
	if err != nil {
		t.Fatalf("EnsureSummary: %v", err)
	}
	if !s.Empty() || s.Note != ReasonAPIError {
		t.Fatalf("expected downgraded summary, got %+v", s)
	}
	rec := st.saved[testItem.ID]
	if rec.Note != ReasonAPIError || rec.PlainSummary != "" {
		t.Errorf("downgrade not persisted: %+v", rec)
	}
	if rec.Authoritative {
		t.Error("downgraded summary must not be marked authoritative")
	}
}
