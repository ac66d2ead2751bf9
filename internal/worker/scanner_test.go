package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/this-is-us/civicd/config"
	"github.com/this-is-us/civicd/internal/review"
	"github.com/this-is-us/civicd/internal/store"
	"github.com/this-is-us/civicd/internal/textsource"
)

type fakeScanStore struct {
	mu       sync.Mutex
	items    []store.CivicItem
	listErr  error
	filter   store.ListFilter
	scanned  []string
	sponsors map[string][]store.Sponsor
}

func (f *fakeScanStore) ListPendingBills(ctx context.Context, filter store.ListFilter) ([]store.CivicItem, error) {
	f.filter = filter
	return f.items, f.listErr
}

func (f *fakeScanStore) MarkScanned(ctx context.Context, itemID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned = append(f.scanned, itemID)
	return nil
}

func (f *fakeScanStore) ReplaceSponsors(ctx context.Context, itemID string, sponsors []store.Sponsor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sponsors == nil {
		f.sponsors = map[string][]store.Sponsor{}
	}
	f.sponsors[itemID] = sponsors
	return nil
}

type fakeReviewer struct {
	mu       sync.Mutex
	outcomes map[string]review.Outcome
	errs     map[string]error
	reviewed []string
}

func (f *fakeReviewer) Review(ctx context.Context, itemID string) (review.Outcome, error) {
	f.mu.Lock()
	f.reviewed = append(f.reviewed, itemID)
	f.mu.Unlock()
	if err := f.errs[itemID]; err != nil {
		return review.Outcome{}, err
	}
	return f.outcomes[itemID], nil
}

type fakeSponsorSource struct {
	info textsource.BillInfo
	err  error
}

func (f *fakeSponsorSource) FetchBillInfo(ctx context.Context, session, bill string) (textsource.BillInfo, error) {
	return f.info, f.err
}

type fakeLeaser struct {
	mu    sync.Mutex
	deny  map[string]bool
	held  map[string]string
	freed []string
}

func (f *fakeLeaser) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny[key] {
		return false, nil
	}
	if f.held == nil {
		f.held = map[string]string{}
	}
	f.held[key] = owner
	return true, nil
}

func (f *fakeLeaser) Release(ctx context.Context, key, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freed = append(f.freed, key)
	return nil
}

func pendingItems() []store.CivicItem {
	return []store.CivicItem{
		{ID: "a", BillNumber: "HB 45", Session: "2024", Status: store.ItemStatusPending},
		{ID: "b", BillNumber: "SF 12", Session: "2024", Status: store.ItemStatusPending},
		{ID: "c", BillNumber: "HB 99", Session: "2024", Status: store.ItemStatusFlagged},
	}
}

func TestScanOnceReviewsBatch(t *testing.T) {
	st := &fakeScanStore{items: pendingItems()}
	rv := &fakeReviewer{outcomes: map[string]review.Outcome{
		"a": {Status: store.VerificationStatusOK},
		"b": {Status: store.VerificationStatusFlagged},
		"c": {Status: store.VerificationStatusOK},
	}}

	s := NewScanner(nil, config.ScanConfig{Concurrency: 2, RescanDays: 7}, st, rv, nil, store.Capabilities{}, nil)
	report, err := s.ScanOnce(context.Background(), ScanOptions{Sources: []string{"lso"}, Session: "2024"})
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	if report.Listed != 3 || report.Reviewed != 3 || report.Flagged != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 3 listed, 3 reviewed, 1 flagged", report)
	}
	if report.RunID == "" {
		t.Error("missing run id")
	}
	if len(st.scanned) != 3 {
		t.Errorf("scanned = %v, want all three items marked", st.scanned)
	}
	if st.filter.Session != "2024" || len(st.filter.Sources) != 1 {
		t.Errorf("filter = %+v, want the scan options carried through", st.filter)
	}
	if st.filter.RescanCutoff.IsZero() {
		t.Error("rescan cutoff not set")
	}
}

func TestScanOnceIsolatesFailures(t *testing.T) {
	st := &fakeScanStore{items: pendingItems()}
	rv := &fakeReviewer{
		outcomes: map[string]review.Outcome{
			"a": {Status: store.VerificationStatusOK},
			"c": {Status: store.VerificationStatusOK},
		},
		errs: map[string]error{"b": errors.New("provider down")},
	}

	s := NewScanner(nil, config.ScanConfig{}, st, rv, nil, store.Capabilities{}, nil)
	report, err := s.ScanOnce(context.Background(), ScanOptions{})
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	if report.Reviewed != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v, want 2 reviewed and 1 failed", report)
	}
	for _, id := range st.scanned {
		if id == "b" {
			t.Error("failed item marked scanned")
		}
	}
}

func TestScanOnceSkipsLeasedItems(t *testing.T) {
	st := &fakeScanStore{items: pendingItems()}
	rv := &fakeReviewer{outcomes: map[string]review.Outcome{
		"a": {Status: store.VerificationStatusOK},
		"c": {Status: store.VerificationStatusOK},
	}}
	leaser := &fakeLeaser{deny: map[string]bool{"civicd:scan:lease:b": true}}

	s := NewScanner(nil, config.ScanConfig{}, st, rv, nil, store.Capabilities{}, leaser)
	report, err := s.ScanOnce(context.Background(), ScanOptions{})
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	if report.Skipped != 1 || report.Reviewed != 2 {
		t.Fatalf("report = %+v, want 1 skipped and 2 reviewed", report)
	}
	for _, id := range rv.reviewed {
		if id == "b" {
			t.Error("leased item was reviewed")
		}
	}
	if len(leaser.freed) != 2 {
		t.Errorf("released %d leases, want 2", len(leaser.freed))
	}
}

func TestScanOnceRefreshesSponsors(t *testing.T) {
	st := &fakeScanStore{items: pendingItems()[:1]}
	rv := &fakeReviewer{outcomes: map[string]review.Outcome{"a": {Status: store.VerificationStatusOK}}}
	src := &fakeSponsorSource{info: textsource.BillInfo{Sponsors: []store.Sponsor{
		{Name: "Rep. Smith", Role: "primary", Chamber: "house", District: "HD-12"},
	}}}

	s := NewScanner(nil, config.ScanConfig{}, st, rv, src, store.Capabilities{SponsorsTable: true}, nil)
	if _, err := s.ScanOnce(context.Background(), ScanOptions{}); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	if got := st.sponsors["a"]; len(got) != 1 || got[0].Name != "Rep. Smith" {
		t.Fatalf("sponsors = %+v, want the feed roster persisted", got)
	}
}

func TestScanOnceSponsorRefreshSkippedWithoutTable(t *testing.T) {
	st := &fakeScanStore{items: pendingItems()[:1]}
	rv := &fakeReviewer{outcomes: map[string]review.Outcome{"a": {Status: store.VerificationStatusOK}}}
	src := &fakeSponsorSource{info: textsource.BillInfo{Sponsors: []store.Sponsor{{Name: "Rep. Smith"}}}}

	s := NewScanner(nil, config.ScanConfig{}, st, rv, src, store.Capabilities{}, nil)
	if _, err := s.ScanOnce(context.Background(), ScanOptions{}); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if len(st.sponsors) != 0 {
		t.Errorf("sponsors persisted without the table: %+v", st.sponsors)
	}
}

func TestScanOnceSponsorFeedFailureIsBestEffort(t *testing.T) {
	st := &fakeScanStore{items: pendingItems()[:1]}
	rv := &fakeReviewer{outcomes: map[string]review.Outcome{"a": {Status: store.VerificationStatusOK}}}
	src := &fakeSponsorSource{err: errors.New("feed down")}

	s := NewScanner(nil, config.ScanConfig{}, st, rv, src, store.Capabilities{SponsorsTable: true}, nil)
	report, err := s.ScanOnce(context.Background(), ScanOptions{})
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if report.Reviewed != 1 {
		t.Fatalf("report = %+v, want the review to proceed", report)
	}
}

func TestNewRunnerRejectsBadSchedule(t *testing.T) {
	if _, err := NewRunner(nil, nil, "not a cron line", ScanOptions{}); err == nil {
		t.Fatal("expected a parse error")
	}
}
