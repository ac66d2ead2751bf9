package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/this-is-us/civicd/config"
	"github.com/this-is-us/civicd/internal/store"
)

func testProfile(baseURL string) map[string]config.SourceProfile {
	return map[string]config.SourceProfile{
		"wyoleg": {
			Name:     "wyoleg",
			BaseURLs: []string{baseURL},
			Candidates: []config.Candidate{
				{Kind: config.DocKindPDF, Template: "/{year}/Introduced/{bill}.pdf", Priority: 1},
				{Kind: config.DocKindPDF, Template: "/{year}/Enroll/{bill}.pdf", Priority: 2},
			},
			Checkpoints: []config.Checkpoint{
				{Kind: config.DocKindHTML, Template: "/Legislation/{year}/{bill}", ParserKind: "page", Priority: 10},
				{Kind: config.DocKindHTML, Template: "/Legislation/Amendment/{year}?billNumber={bill}", ParserKind: "links", Priority: 20},
			},
			SPAMarkers:  []string{"<app-root", "ng-version"},
			LinkPattern: "Amends",
		},
	}
}

func newTestResolver(t *testing.T, baseURL string, cache DocumentCache) *Resolver {
	t.Helper()
	return New(nil, config.ResolverConfig{Timeout: 5 * time.Second, CacheTTL: time.Hour}, testProfile(baseURL), cache)
}

func TestResolveDirectCandidate(t *testing.T) {
	var sawHead bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/2024/Introduced/HB0045.pdf" {
			if r.Method == http.MethodHead {
				sawHead = true
			}
			w.Header().Set("Content-Type", "application/pdf")
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	res, err := r.Resolve(context.Background(), "wyoleg", "2024", "HB0045")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !sawHead {
		t.Error("expected HEAD probe before GET")
	}
	if res.ResolvedVia != ViaDirect || res.Kind != config.DocKindPDF {
		t.Errorf("unexpected result %+v", res)
	}
	if res.URL != srv.URL+"/2024/Introduced/HB0045.pdf" {
		t.Errorf("unexpected url %s", res.URL)
	}
}

func TestResolveEscalatesHeadToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2024/Introduced/HB0045.pdf" {
			http.NotFound(w, r)
			return
		}
		// Server that rejects HEAD but serves GET.
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	res, err := r.Resolve(context.Background(), "wyoleg", "2024", "HB0045")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ResolvedVia != ViaDirect {
		t.Errorf("unexpected via %s", res.ResolvedVia)
	}
}

func TestResolveRejectsHTMLErrorPageForPDFCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Misbehaving server returns 200 HTML for everything.
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>not here</body></html>"))
	}))
	defer srv.Close()

	profiles := testProfile(srv.URL)
	p := profiles["wyoleg"]
	p.Checkpoints = nil
	profiles["wyoleg"] = p

	r := New(nil, config.ResolverConfig{Timeout: 5 * time.Second}, profiles, nil)
	_, err := r.Resolve(context.Background(), "wyoleg", "2024", "HB0045")
	notFound, ok := err.(*ErrNotFound)
	if !ok {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(notFound.Attempts) == 0 {
		t.Error("expected attempt diagnostics")
	}
}

func TestResolveDirectHTMLCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2024/Digest/HB0045.htm" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>SECTION 1. The property tax refund program is expanded.</body></html>"))
	}))
	defer srv.Close()

	profiles := testProfile(srv.URL)
	p := profiles["wyoleg"]
	p.Candidates = []config.Candidate{
		{Kind: config.DocKindHTML, Template: "/{year}/Digest/{bill}.htm", Priority: 1},
	}
	p.Checkpoints = nil
	profiles["wyoleg"] = p

	r := New(nil, config.ResolverConfig{Timeout: 5 * time.Second}, profiles, nil)
	res, err := r.Resolve(context.Background(), "wyoleg", "2024", "HB0045")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ResolvedVia != ViaDirect || res.Kind != config.DocKindHTML {
		t.Errorf("unexpected result %+v", res)
	}
	if res.ContentType != "text/html; charset=utf-8" {
		t.Errorf("unexpected content type %q", res.ContentType)
	}
}

func TestResolveCheckpointPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Legislation/2024/HB0045" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html><body><h1>HB0045</h1><p>AN ACT relating to taxation.</p></body></html>"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	res, err := r.Resolve(context.Background(), "wyoleg", "2024", "HB0045")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ResolvedVia != ViaCheckpoint || res.Kind != config.DocKindHTML {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestResolveRejectsSPAShell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Legislation/2024/HB0045" {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html ng-version="15.2.0"><body><app-root></app-root></body></html>`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	_, err := r.Resolve(context.Background(), "wyoleg", "2024", "HB0045")
	if _, ok := err.(*ErrNotFound); !ok {
		t.Fatalf("expected ErrNotFound for shell-only page, got %v", err)
	}
}

func TestResolveAmendmentLinks(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/Legislation/Amendment/2024", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("billNumber") != "HB0045" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>
			<a href="/docs/other.pdf">Other</a>
			<a href="/2024/Amends/HB0045H2001.pdf">HB0045H2001</a>
		</body></html>`))
	})
	mux.HandleFunc("/2024/Amends/HB0045H2001.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/", http.NotFound)

	r := newTestResolver(t, srv.URL, nil)
	res, err := r.Resolve(context.Background(), "wyoleg", "2024", "HB0045")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ResolvedVia != ViaCheckpointLink {
		t.Errorf("unexpected via %s", res.ResolvedVia)
	}
	if res.URL != srv.URL+"/2024/Amends/HB0045H2001.pdf" {
		t.Errorf("unexpected url %s", res.URL)
	}
}

type fakeCache struct {
	byKey map[string]store.DocumentSource
	puts  int
}

func newFakeCache() *fakeCache { return &fakeCache{byKey: map[string]store.DocumentSource{}} }

func (f *fakeCache) GetDocumentSource(_ context.Context, itemID, kind string) (store.DocumentSource, bool, error) {
	doc, ok := f.byKey[itemID+"/"+kind]
	return doc, ok, nil
}

func (f *fakeCache) UpsertDocumentSource(_ context.Context, doc store.DocumentSource) error {
	f.puts++
	f.byKey[doc.CivicItemID+"/"+doc.Kind] = doc
	return nil
}

func TestResolveCachedWritesThrough(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path == "/2024/Introduced/HB0045.pdf" {
			w.Header().Set("Content-Type", "application/pdf")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cache := newFakeCache()
	r := newTestResolver(t, srv.URL, cache)

	first, err := r.ResolveCached(context.Background(), "item-1", "wyoleg", "2024", "HB0045")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if cache.puts != 1 {
		t.Errorf("expected one cache write, got %d", cache.puts)
	}

	hitsAfterFirst := hits
	second, err := r.ResolveCached(context.Background(), "item-1", "wyoleg", "2024", "HB0045")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if hits != hitsAfterFirst {
		t.Errorf("expected cache hit to skip network, saw %d extra requests", hits-hitsAfterFirst)
	}
	if second.URL != first.URL {
		t.Errorf("cache returned different url %s vs %s", second.URL, first.URL)
	}
}

func TestResolveCachedStoresNegativeResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	cache := newFakeCache()
	r := newTestResolver(t, srv.URL, cache)

	if _, err := r.ResolveCached(context.Background(), "item-1", "wyoleg", "2024", "HB0045"); err == nil {
		t.Fatal("expected resolution failure")
	}
	doc, ok, _ := cache.GetDocumentSource(context.Background(), "item-1", config.DocKindPDF)
	if !ok || doc.URL != "" {
		t.Errorf("expected negative cache row, got %+v ok=%v", doc, ok)
	}
	if doc.LastError == "" {
		t.Error("expected the failure recorded on the cache row")
	}

	// Second call short-circuits on the cached miss.
	if _, err := r.ResolveCached(context.Background(), "item-1", "wyoleg", "2024", "HB0045"); err == nil {
		t.Fatal("expected cached failure")
	}
	if cache.puts != 1 {
		t.Errorf("expected no second cache write, got %d", cache.puts)
	}
}
