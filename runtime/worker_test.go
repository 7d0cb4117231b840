package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/ferret/engine"
	"github.com/justapithecus/ferret/store"
	"github.com/justapithecus/ferret/types"
)

type stubQueue struct {
	mu   sync.Mutex
	runs []*types.Run
}

func (q *stubQueue) DequeueRun(ctx context.Context, owner string) (*types.Run, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.runs) == 0 {
		return nil, store.ErrNotFound
	}
	run := q.runs[0]
	q.runs = q.runs[1:]
	run.Status = types.RunStatusRunning
	run.LeaseOwner = owner
	return run, nil
}

func TestWorkerConsumesQueuedRuns(t *testing.T) {
	f := newFixture()
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{okResult(types.EngineHTTP, 1)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineHTTP: httpEng}, nil)

	queue := &stubQueue{runs: []*types.Run{f.run, testRun(f.job)}}
	w, err := NewWorker(WorkerOptions{
		Queue:        queue,
		Executor:     exec,
		Owner:        "worker-test",
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if len(f.store.completed) != 2 {
		t.Fatalf("completed runs: %d", len(f.store.completed))
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	f := newFixture()
	exec := f.executor(t, map[types.Engine]engine.Engine{
		types.EngineHTTP: &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{okResult(types.EngineHTTP, 1)}},
	}, nil)

	w, err := NewWorker(WorkerOptions{
		Queue:        &stubQueue{},
		Executor:     exec,
		Owner:        "worker-test",
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestNewWorkerValidates(t *testing.T) {
	if _, err := NewWorker(WorkerOptions{}); err == nil {
		t.Fatal("a worker without a queue should be rejected")
	}
	f := newFixture()
	exec := f.executor(t, map[types.Engine]engine.Engine{
		types.EngineHTTP: &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{okResult(types.EngineHTTP, 1)}},
	}, nil)
	if _, err := NewWorker(WorkerOptions{Queue: &stubQueue{}, Executor: exec}); err == nil {
		t.Fatal("a worker without an owner should be rejected")
	}
}
