package sched_test

import (
	"context"
	"sync"
	"time"

	"github.com/couchrepl/couchrepl/cluster"
)

type replicateCall struct {
	Database   string
	Continuous bool
}

// fakeReplicator records calls and serves scripted responses per database.
type fakeReplicator struct {
	mu sync.Mutex

	calls     []replicateCall
	active    int
	maxActive int

	// delay holds every call open, to observe concurrency.
	delay time.Duration

	// errFor fails the one-shot call for a database.
	errFor map[string]error
	// continuousErrFor fails the continuous call for a database.
	continuousErrFor map[string]error
	// transientFor fails the one-shot this many times before succeeding.
	transientFor map[string]int

	docsWritten int64
}

func (f *fakeReplicator) Replicate(ctx context.Context, req *cluster.ReplicateRequest) (*cluster.ReplicateResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, replicateCall{Database: req.Database, Continuous: req.Continuous})
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if req.Continuous {
		if err := f.continuousErrFor[req.Database]; err != nil {
			return nil, err
		}

		return &cluster.ReplicateResult{Ok: true, LocalID: "cont-" + req.Database}, nil
	}

	if n := f.transientFor[req.Database]; n > 0 {
		f.transientFor[req.Database] = n - 1

		return nil, &cluster.TransientError{Err: context.DeadlineExceeded}
	}

	if err := f.errFor[req.Database]; err != nil {
		return nil, err
	}

	return &cluster.ReplicateResult{
		Ok:      true,
		History: []cluster.ReplicationHistory{{DocsWritten: f.docsWritten}},
	}, nil
}

func (f *fakeReplicator) oneShotOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var order []string
	for _, c := range f.calls {
		if !c.Continuous {
			order = append(order, c.Database)
		}
	}

	return order
}
