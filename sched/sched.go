/*
Package sched dispatches replication jobs across a bounded worker pool and
aggregates their results.

The pool holds at most Concurrency jobs in flight. Databases are dispatched in
selection order; a job failure never cancels its siblings. Results funnel
through a single aggregation point into the run summary as they arrive.
*/
package sched

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchrepl/couchrepl/cluster"
	"github.com/couchrepl/couchrepl/errors"
	"github.com/couchrepl/couchrepl/log"
	"github.com/couchrepl/couchrepl/metrics"
)

// Summary aggregates the outcome of a whole run. It is built incrementally as
// job results arrive and finalized once every database reached a terminal
// state. The summary owns the final exit status.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int

	// ContinuousFailed counts databases whose one-shot succeeded but whose
	// continuous setup failed. It never affects Ok.
	ContinuousFailed int

	// Failures holds the terminal results of the databases that did not succeed.
	Failures []Result

	StartedAt  time.Time
	FinishedAt time.Time
}

// Ok reports whether every selected database replicated successfully.
func (s *Summary) Ok() bool {
	return s.Failed == 0 && s.Cancelled == 0
}

// Elapsed returns the total run duration.
func (s *Summary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// OnResultFunc observes each terminal job result as it is aggregated.
type OnResultFunc func(Result)

// Options configures a scheduler.
type Options struct {
	// Concurrency is the worker pool size. Must be at least 1.
	Concurrency int
	// Permanent enables the continuous phase after each successful one-shot.
	Permanent bool
}

// Scheduler fans replication jobs out over a bounded worker pool.
type Scheduler struct {
	driver Replicator
	source *cluster.Endpoint
	target *cluster.Endpoint

	concurrency int
	permanent   bool

	onResult OnResultFunc
}

// New creates a scheduler. The driver is the cluster client whose /_replicate
// API issues the calls; either side can drive the same transfer.
func New(driver Replicator, source, target *cluster.Endpoint, options Options) (*Scheduler, error) {
	if options.Concurrency < 1 {
		return nil, errors.Errorf("concurrency must be at least 1, got %d", options.Concurrency)
	}

	return &Scheduler{
		driver:      driver,
		source:      source,
		target:      target,
		concurrency: options.Concurrency,
		permanent:   options.Permanent,
		onResult:    func(Result) {},
	}, nil
}

// SetOnResult sets the observer invoked for each terminal result. Must be
// called before Run.
func (s *Scheduler) SetOnResult(f OnResultFunc) {
	if f == nil {
		f = func(Result) {}
	}

	s.onResult = f
}

// Run replicates every database and returns the finalized summary. It blocks
// until all databases reach a terminal state. Cancelling ctx stops dispatch
// of pending databases; in-flight jobs are abandoned and reported as cancelled.
func (s *Scheduler) Run(ctx context.Context, databases []string) *Summary {
	lg := log.New("sched")
	lg.Infof("Replicating %d databases with concurrency %d", len(databases), s.concurrency)

	metrics.SetDatabasesSelected(len(databases))

	summary := &Summary{
		Total:     len(databases),
		StartedAt: time.Now(),
	}

	// Pending databases in selection order. Buffered and closed up front so
	// workers drain it FIFO and see every name, including after shutdown.
	pending := make(chan string, len(databases))
	for _, db := range databases {
		pending <- db
	}
	close(pending)

	results := make(chan Result)

	var active atomic.Int64

	grp := &errgroup.Group{}
	for range s.concurrency {
		grp.Go(func() error {
			for db := range pending {
				j := newJob(db, s.driver, s.source, s.target, s.permanent)

				metrics.SetReplicationsActive(int(active.Add(1)))
				res := j.run(ctx)
				metrics.SetReplicationsActive(int(active.Add(-1)))

				results <- res
			}

			return nil
		})
	}

	go func() {
		grp.Wait() //nolint:errcheck
		close(results)
	}()

	// Single aggregation point: summary counts and observers are updated here
	// only, as terminal states arrive.
	for res := range results {
		s.aggregate(summary, res)
	}

	summary.FinishedAt = time.Now()

	lg.With(log.Elapsed(summary.Elapsed())).
		Infof("Run finished: %d succeeded, %d failed, %d cancelled",
			summary.Succeeded, summary.Failed, summary.Cancelled)

	return summary
}

func (s *Scheduler) aggregate(summary *Summary, res Result) {
	switch res.Outcome {
	case OutcomeSucceeded:
		summary.Succeeded++
		metrics.IncReplicationsSucceeded()

	case OutcomeFailed:
		summary.Failed++
		summary.Failures = append(summary.Failures, res)
		metrics.IncReplicationsFailed()

	case OutcomeCancelled:
		summary.Cancelled++
		summary.Failures = append(summary.Failures, res)
	}

	if res.ContinuousErr != nil {
		summary.ContinuousFailed++
	}

	s.onResult(res)
}
