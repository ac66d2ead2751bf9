package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/this-is-us/civicd/config"
	"github.com/this-is-us/civicd/internal/review"
	"github.com/this-is-us/civicd/internal/store"
	"github.com/this-is-us/civicd/internal/textsource"
)

var (
	billsScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicd_scan_bills_total",
		Help: "Bills handled by the scanner, by result.",
	}, []string{"result"})

	scanRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civicd_scan_runs_total",
		Help: "Completed scanner runs.",
	})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "civicd_scan_duration_seconds",
		Help:    "Wall time of a full scanner run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// ScanStore is the slice of the persistence layer the scanner needs.
type ScanStore interface {
	ListPendingBills(ctx context.Context, f store.ListFilter) ([]store.CivicItem, error)
	MarkScanned(ctx context.Context, itemID string, at time.Time) error
	ReplaceSponsors(ctx context.Context, itemID string, sponsors []store.Sponsor) error
}

// Reviewer runs the full review flow for one bill.
type Reviewer interface {
	Review(ctx context.Context, itemID string) (review.Outcome, error)
}

// SponsorSource fetches structured bill metadata including sponsors.
type SponsorSource interface {
	FetchBillInfo(ctx context.Context, session, bill string) (textsource.BillInfo, error)
}

// Leaser grants short-lived exclusive claims on a bill so concurrent
// scanner processes do not review the same item twice. A nil Leaser
// disables claiming.
type Leaser interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// ScanOptions narrow one scanner run.
type ScanOptions struct {
	Sources []string
	Session string
	Force   bool
	Limit   int
}

// ScanReport summarizes one scanner run.
type ScanReport struct {
	RunID    string        `json:"run_id"`
	Listed   int           `json:"listed"`
	Reviewed int           `json:"reviewed"`
	Flagged  int           `json:"flagged"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Scanner walks the pending bills and runs each through review. One bill's
// failure never stops the batch.
type Scanner struct {
	logger   *log.Logger
	cfg      config.ScanConfig
	store    ScanStore
	reviewer Reviewer
	sponsors SponsorSource
	caps     store.Capabilities
	leaser   Leaser
	leaseTTL time.Duration
}

// NewScanner builds a Scanner. sponsors and leaser may be nil.
func NewScanner(logger *log.Logger, cfg config.ScanConfig, st ScanStore, reviewer Reviewer, sponsors SponsorSource, caps store.Capabilities, leaser Leaser) *Scanner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Scanner{
		logger:   logger,
		cfg:      cfg.Normalize(),
		store:    st,
		reviewer: reviewer,
		sponsors: sponsors,
		caps:     caps,
		leaser:   leaser,
		leaseTTL: 10 * time.Minute,
	}
}

// ScanOnce lists the bills due for review and processes them with bounded
// concurrency. Items rescanned within the rescan window are excluded
// unless opts.Force is set.
func (s *Scanner) ScanOnce(ctx context.Context, opts ScanOptions) (ScanReport, error) {
	started := time.Now()
	runID := uuid.NewString()

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	filter := store.ListFilter{
		Sources:      opts.Sources,
		Session:      opts.Session,
		Statuses:     []string{store.ItemStatusPending, store.ItemStatusFlagged},
		RescanCutoff: started.Add(-time.Duration(s.cfg.RescanDays) * 24 * time.Hour),
		Force:        opts.Force,
		Limit:        limit,
	}

	items, err := s.store.ListPendingBills(ctx, filter)
	if err != nil {
		return ScanReport{RunID: runID}, fmt.Errorf("list pending bills: %w", err)
	}

	report := ScanReport{RunID: runID, Listed: len(items)}
	s.logger.Printf("scan %s: %d bills due", runID, len(items))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, item := range items {
		item := item
		g.Go(func() error {
			result := s.scanOne(gctx, runID, item)
			mu.Lock()
			switch result {
			case scanReviewed:
				report.Reviewed++
			case scanFlagged:
				report.Reviewed++
				report.Flagged++
			case scanSkipped:
				report.Skipped++
			case scanFailed:
				report.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Elapsed = time.Since(started)
	scanRuns.Inc()
	scanDuration.Observe(report.Elapsed.Seconds())
	s.logger.Printf("scan %s done: reviewed=%d flagged=%d skipped=%d failed=%d in %s",
		runID, report.Reviewed, report.Flagged, report.Skipped, report.Failed, report.Elapsed.Round(time.Millisecond))
	return report, nil
}

type scanResult int

const (
	scanReviewed scanResult = iota
	scanFlagged
	scanSkipped
	scanFailed
)

func (s *Scanner) scanOne(ctx context.Context, runID string, item store.CivicItem) scanResult {
	if s.leaser != nil {
		key := "civicd:scan:lease:" + item.ID
		ok, err := s.leaser.Acquire(ctx, key, runID, s.leaseTTL)
		if err != nil {
			s.logger.Printf("scan %s: lease %s: %v", runID, item.BillNumber, err)
		} else if !ok {
			billsScanned.WithLabelValues("skipped").Inc()
			return scanSkipped
		} else {
			defer func() {
				if err := s.leaser.Release(ctx, key, runID); err != nil {
					s.logger.Printf("scan %s: release lease %s: %v", runID, item.BillNumber, err)
				}
			}()
		}
	}

	s.refreshSponsors(ctx, item)

	outcome, err := s.reviewer.Review(ctx, item.ID)
	if err != nil {
		s.logger.Printf("scan %s: review %s: %v", runID, item.BillNumber, err)
		billsScanned.WithLabelValues("failed").Inc()
		return scanFailed
	}

	if err := s.store.MarkScanned(ctx, item.ID, time.Now().UTC()); err != nil {
		s.logger.Printf("scan %s: mark scanned %s: %v", runID, item.BillNumber, err)
	}

	billsScanned.WithLabelValues("reviewed").Inc()
	if outcome.Status == store.VerificationStatusFlagged {
		return scanFlagged
	}
	return scanReviewed
}

// refreshSponsors replaces stored sponsors with the feed's current roster.
// Best effort: the structural sponsor check falls back to whatever rows
// already exist.
func (s *Scanner) refreshSponsors(ctx context.Context, item store.CivicItem) {
	if s.sponsors == nil || !s.caps.SponsorsTable {
		return
	}
	info, err := s.sponsors.FetchBillInfo(ctx, item.Session, item.BillNumber)
	if err != nil {
		s.logger.Printf("sponsor refresh %s: %v", item.BillNumber, err)
		return
	}
	if len(info.Sponsors) == 0 {
		return
	}
	if err := s.store.ReplaceSponsors(ctx, item.ID, info.Sponsors); err != nil {
		s.logger.Printf("sponsor refresh %s: persist: %v", item.BillNumber, err)
	}
}
