package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Runner triggers scanner runs on a cron schedule.
type Runner struct {
	logger   *log.Logger
	scanner  *Scanner
	schedule *cronexpr.Expression
	opts     ScanOptions
}

// NewRunner parses the cron schedule and builds a Runner.
func NewRunner(logger *log.Logger, scanner *Scanner, schedule string, opts ScanOptions) (*Runner, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse scan schedule %q: %w", schedule, err)
	}
	return &Runner{logger: logger, scanner: scanner, schedule: expr, opts: opts}, nil
}

// Start blocks, running a scan at each scheduled tick until the context is
// cancelled. A failed run is logged and the schedule continues.
func (r *Runner) Start(ctx context.Context) error {
	for {
		next := r.schedule.Next(time.Now())
		if next.IsZero() {
			return fmt.Errorf("scan schedule yields no future run")
		}
		r.logger.Printf("next scan at %s", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if _, err := r.scanner.ScanOnce(ctx, r.opts); err != nil {
			r.logger.Printf("scheduled scan failed: %v", err)
		}
	}
}
