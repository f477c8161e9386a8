package sched

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchrepl/couchrepl/cluster"
	"github.com/couchrepl/couchrepl/config"
	"github.com/couchrepl/couchrepl/errors"
	"github.com/couchrepl/couchrepl/log"
	"github.com/couchrepl/couchrepl/metrics"
)

// State represents the lifecycle of a replication job.
type State string

const (
	// StatePending indicates the job has not been dispatched yet.
	StatePending State = "pending"
	// StateReplicating indicates the one-shot replication call is in flight.
	StateReplicating State = "replicating"
	// StateSucceeded indicates the one-shot replication completed.
	StateSucceeded State = "succeeded"
	// StateFailed indicates the job failed. Terminal; the operator re-runs to retry.
	StateFailed State = "failed"
	// StateContinuousEstablished indicates a standing continuous replication
	// was set up after the one-shot completed.
	StateContinuousEstablished State = "continuous"
)

// Outcome is the terminal result of a job.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Replicator issues a /_replicate call. Implemented by [cluster.Client].
type Replicator interface {
	Replicate(ctx context.Context, req *cluster.ReplicateRequest) (*cluster.ReplicateResult, error)
}

// Result is the terminal record of one database's replication. Produced
// exactly once per database per run.
type Result struct {
	Database string
	Outcome  Outcome
	// Err holds the failure detail verbatim when Outcome is not succeeded.
	Err error

	// ContinuousEstablished reports whether a continuous replication was set
	// up after the one-shot. ContinuousErr holds the setup failure, which
	// does not affect Outcome.
	ContinuousEstablished bool
	ContinuousErr         error

	DocsWritten int64
	Elapsed     time.Duration
}

// job drives a single database through one-shot and optional continuous
// replication. One job occupies one worker slot for its whole duration.
type job struct {
	database string
	driver   Replicator

	source *cluster.Endpoint
	target *cluster.Endpoint

	permanent bool

	state State
}

func newJob(database string, driver Replicator, source, target *cluster.Endpoint, permanent bool) *job {
	return &job{
		database:  database,
		driver:    driver,
		source:    source,
		target:    target,
		permanent: permanent,
		state:     StatePending,
	}
}

// run executes the job and returns its terminal result.
func (j *job) run(ctx context.Context) Result {
	lg := log.New("job").With(log.Str("db", j.database))

	rv := Result{Database: j.database}

	if ctx.Err() != nil {
		// Shutdown before dispatch: report without issuing any call.
		j.state = StateFailed
		rv.Outcome = OutcomeCancelled
		rv.Err = ctx.Err()

		return rv
	}

	j.state = StateReplicating
	lg.Info("Starting replication")

	startedAt := time.Now()
	res, err := j.replicateWithRetry(ctx)
	rv.Elapsed = time.Since(startedAt)

	if err != nil {
		j.state = StateFailed
		rv.Err = err

		if errors.Is(err, context.Canceled) {
			rv.Outcome = OutcomeCancelled
			lg.Warn("Replication abandoned on shutdown")
		} else {
			rv.Outcome = OutcomeFailed
			lg.Error(err, "Replication failed")
		}

		return rv
	}

	j.state = StateSucceeded
	rv.Outcome = OutcomeSucceeded
	rv.DocsWritten = res.DocsWritten()

	metrics.ObserveReplicationDuration(rv.Elapsed)
	lg.With(log.Elapsed(rv.Elapsed)).
		Infof("Replication completed: %d documents written", rv.DocsWritten)

	if !j.permanent {
		return rv
	}

	lg.Info("Setting up continuous replication")

	_, err = j.driver.Replicate(ctx, &cluster.ReplicateRequest{
		Source:     j.source,
		Target:     j.target,
		Database:   j.database,
		Continuous: true,
	})
	if err != nil {
		// The initial sync completed: the database outcome stays succeeded,
		// but the missing continuous replication is surfaced in the summary.
		rv.ContinuousErr = err
		metrics.IncContinuousSetupFailed()
		lg.Error(err, "Continuous replication setup failed")

		return rv
	}

	j.state = StateContinuousEstablished
	rv.ContinuousEstablished = true
	lg.Info("Continuous replication established")

	return rv
}

// replicateWithRetry issues the one-shot call, retrying transient failures a
// bounded number of times.
func (j *job) replicateWithRetry(ctx context.Context) (*cluster.ReplicateResult, error) {
	req := &cluster.ReplicateRequest{
		Source:   j.source,
		Target:   j.target,
		Database: j.database,
	}

	var res *cluster.ReplicateResult

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = config.RetryInitialInterval
	bo.MaxInterval = config.RetryMaxInterval

	operation := func() error {
		var err error

		res, err = j.driver.Replicate(ctx, req)
		if err == nil {
			return nil
		}

		if cluster.IsTransient(err) {
			metrics.IncTransientRetries()
			log.New("job").With(log.Str("db", j.database)).
				Warnf("Transient error, will retry: %s", err.Error())

			return err
		}

		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, config.MaxTransientRetries), ctx))
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return res, nil
}
