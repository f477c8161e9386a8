package sched_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchrepl/couchrepl/cluster"
	"github.com/couchrepl/couchrepl/errors"
	"github.com/couchrepl/couchrepl/sched"
)

func testEndpoints(t *testing.T) (*cluster.Endpoint, *cluster.Endpoint) {
	t.Helper()

	source, err := cluster.ParseEndpoint("http://source:5984")
	require.NoError(t, err)

	target, err := cluster.ParseEndpoint("http://target:5984")
	require.NoError(t, err)

	return source, target
}

func TestNew(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)

	_, err := sched.New(&fakeReplicator{}, source, target, sched.Options{Concurrency: 0})
	require.Error(t, err)

	_, err = sched.New(&fakeReplicator{}, source, target, sched.Options{Concurrency: 1})
	require.NoError(t, err)
}

func TestRunAllSucceed(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)
	driver := &fakeReplicator{docsWritten: 10}

	s, err := sched.New(driver, source, target, sched.Options{Concurrency: 2})
	require.NoError(t, err)

	summary := s.Run(t.Context(), []string{"db1", "db2", "db3"})

	assert.True(t, summary.Ok())
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Cancelled)
	assert.Empty(t, summary.Failures)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestRunFailureDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)
	driver := &fakeReplicator{
		errFor: map[string]error{
			"db2": &cluster.NotFoundError{Database: "db2"},
		},
	}

	s, err := sched.New(driver, source, target, sched.Options{Concurrency: 1})
	require.NoError(t, err)

	summary := s.Run(t.Context(), []string{"db1", "db2", "db3"})

	assert.False(t, summary.Ok())
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "db2", summary.Failures[0].Database)
	assert.Equal(t, sched.OutcomeFailed, summary.Failures[0].Outcome)

	var nfe *cluster.NotFoundError
	assert.ErrorAs(t, summary.Failures[0].Err, &nfe)

	// db3 was still replicated after db2 failed.
	assert.Equal(t, []string{"db1", "db2", "db3"}, driver.oneShotOrder())
}

func TestRunConcurrencyBound(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)
	driver := &fakeReplicator{delay: 25 * time.Millisecond}

	s, err := sched.New(driver, source, target, sched.Options{Concurrency: 3})
	require.NoError(t, err)

	databases := []string{"db1", "db2", "db3", "db4", "db5", "db6", "db7", "db8"}
	summary := s.Run(t.Context(), databases)

	assert.Equal(t, len(databases), summary.Succeeded)
	assert.LessOrEqual(t, driver.maxActive, 3)
	assert.Greater(t, driver.maxActive, 1)
}

func TestRunDispatchOrder(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)
	driver := &fakeReplicator{}

	s, err := sched.New(driver, source, target, sched.Options{Concurrency: 1})
	require.NoError(t, err)

	databases := []string{"zeta", "alpha", "mid", "last"}
	s.Run(t.Context(), databases)

	assert.Equal(t, databases, driver.oneShotOrder())
}

func TestRunPermanent(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)
	driver := &fakeReplicator{}

	s, err := sched.New(driver, source, target, sched.Options{Concurrency: 1, Permanent: true})
	require.NoError(t, err)

	var results []sched.Result
	s.SetOnResult(func(res sched.Result) { results = append(results, res) })

	summary := s.Run(t.Context(), []string{"db1", "db2"})

	assert.True(t, summary.Ok())
	assert.Zero(t, summary.ContinuousFailed)

	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.ContinuousEstablished)
		assert.NoError(t, res.ContinuousErr)
	}

	// One-shot then continuous for each database.
	assert.Equal(t, []replicateCall{
		{Database: "db1"},
		{Database: "db1", Continuous: true},
		{Database: "db2"},
		{Database: "db2", Continuous: true},
	}, driver.calls)
}

func TestRunPermanentSetupFailure(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)
	setupErr := errors.New("replicator db unavailable")
	driver := &fakeReplicator{
		continuousErrFor: map[string]error{"db1": setupErr},
	}

	s, err := sched.New(driver, source, target, sched.Options{Concurrency: 1, Permanent: true})
	require.NoError(t, err)

	var results []sched.Result
	s.SetOnResult(func(res sched.Result) { results = append(results, res) })

	summary := s.Run(t.Context(), []string{"db1"})

	// The initial sync completed: the run still succeeds.
	assert.True(t, summary.Ok())
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.ContinuousFailed)

	require.Len(t, results, 1)
	assert.Equal(t, sched.OutcomeSucceeded, results[0].Outcome)
	assert.False(t, results[0].ContinuousEstablished)
	assert.ErrorIs(t, results[0].ContinuousErr, setupErr)
}

func TestRunTransientRetry(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)
	driver := &fakeReplicator{
		transientFor: map[string]int{"db1": 1},
	}

	s, err := sched.New(driver, source, target, sched.Options{Concurrency: 1})
	require.NoError(t, err)

	summary := s.Run(t.Context(), []string{"db1"})

	assert.True(t, summary.Ok())
	assert.Equal(t, []string{"db1", "db1"}, driver.oneShotOrder())
}

func TestRunTransientExhausted(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)
	driver := &fakeReplicator{
		transientFor: map[string]int{"db1": 100},
	}

	s, err := sched.New(driver, source, target, sched.Options{Concurrency: 1})
	require.NoError(t, err)

	summary := s.Run(t.Context(), []string{"db1"})

	assert.False(t, summary.Ok())
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.True(t, cluster.IsTransient(summary.Failures[0].Err))
}

func TestRunCancelledBeforeDispatch(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)
	driver := &fakeReplicator{}

	s, err := sched.New(driver, source, target, sched.Options{Concurrency: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	summary := s.Run(ctx, []string{"db1", "db2", "db3"})

	assert.False(t, summary.Ok())
	assert.Equal(t, 3, summary.Cancelled)
	assert.Zero(t, summary.Succeeded)
	assert.Empty(t, driver.calls)
}

func TestRunCancelledMidFlight(t *testing.T) {
	t.Parallel()

	source, target := testEndpoints(t)
	driver := &fakeReplicator{delay: 5 * time.Second}

	s, err := sched.New(driver, source, target, sched.Options{Concurrency: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	summary := s.Run(ctx, []string{"db1", "db2"})

	assert.False(t, summary.Ok())
	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, 2, summary.Cancelled)
}
