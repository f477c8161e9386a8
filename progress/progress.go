// Package progress renders aggregate run progress from job results.
package progress

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/couchrepl/couchrepl/log"
	"github.com/couchrepl/couchrepl/sched"
)

// PrintInterval is how often the in-flight progress line is logged.
const PrintInterval = 5 * time.Second

// Reporter observes job results and logs aggregate progress. It has no
// effect on the replication logic.
type Reporter struct {
	total int
	quiet bool

	completed atomic.Int64
	docs      atomic.Int64

	startedAt time.Time
	cancel    context.CancelFunc
}

// NewReporter creates a reporter for a run over total databases.
func NewReporter(total int, quiet bool) *Reporter {
	return &Reporter{
		total:     total,
		quiet:     quiet,
		startedAt: time.Now(),
	}
}

// Start begins periodic progress logging until Finish or ctx cancellation.
func (r *Reporter) Start(ctx context.Context) {
	if r.quiet {
		return
	}

	log.New("progress").Infof("Replication started at %s",
		r.startedAt.UTC().Format(time.RFC3339))

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.loop(ctx)
}

func (r *Reporter) loop(ctx context.Context) {
	lg := log.New("progress")

	t := time.NewTicker(PrintInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-t.C:
		}

		completed := r.completed.Load()
		if completed >= int64(r.total) {
			return
		}

		lg.Infof("Progress: %d/%d databases completed", completed, r.total)
	}
}

// OnResult records a terminal job result. Safe to hook into the scheduler's
// aggregation point.
func (r *Reporter) OnResult(res sched.Result) {
	r.completed.Add(1)
	r.docs.Add(res.DocsWritten)
}

// Finish stops the periodic logging and prints the final summary.
func (r *Reporter) Finish(summary *sched.Summary) {
	if r.cancel != nil {
		r.cancel()
	}

	if r.quiet {
		return
	}

	lg := log.New("progress")

	for _, res := range summary.Failures {
		lg.Errorf(res.Err, "Database %q: %s", res.Database, res.Outcome)
	}

	if summary.ContinuousFailed > 0 {
		lg.Warnf("Continuous replication setup failed for %d databases "+
			"(initial sync completed)", summary.ContinuousFailed)
	}

	elapsed := summary.Elapsed().Round(time.Second)
	lg.With(log.Elapsed(elapsed)).
		Infof("Replication of %d databases took %s: %d succeeded, %d failed, %d cancelled, "+
			"%s documents written",
			summary.Total, elapsed,
			summary.Succeeded, summary.Failed, summary.Cancelled,
			humanize.Comma(r.docs.Load()))
}
