package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/ferret/log"
	"github.com/justapithecus/ferret/metrics"
	"github.com/justapithecus/ferret/store"
	"github.com/justapithecus/ferret/types"
)

// sweepInterval is how often the worker expires overdue interventions.
const sweepInterval = time.Minute

// Dequeuer leases queued runs for a worker.
type Dequeuer interface {
	DequeueRun(ctx context.Context, owner string) (*types.Run, error)
}

// Sweeper expires overdue intervention tasks. May be nil.
type Sweeper interface {
	ExpireSweep(ctx context.Context) (int64, error)
}

// WorkerOptions wires a Worker.
type WorkerOptions struct {
	Queue    Dequeuer
	Executor *Executor
	Sweeper  Sweeper
	Metrics  *metrics.Collector

	Owner        string
	Concurrency  int
	PollInterval time.Duration

	Logger *log.SugaredLogger
}

// Worker consumes queued runs until its context is cancelled.
type Worker struct {
	opts WorkerOptions
}

// NewWorker builds a worker from options, applying defaults.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Queue == nil || opts.Executor == nil {
		return nil, fmt.Errorf("runtime: queue and executor are required")
	}
	if opts.Owner == "" {
		return nil, fmt.Errorf("runtime: worker owner is required")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop().Sugar()
	}
	return &Worker{opts: opts}, nil
}

// Run blocks until ctx is cancelled, consuming runs on Concurrency
// goroutines and sweeping expired interventions in the background.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}
	if w.opts.Sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.sweep(ctx)
		}()
	}
	wg.Wait()
}

// consume polls the queue, executing one run at a time.
func (w *Worker) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		run, err := w.opts.Queue.DequeueRun(ctx, w.opts.Owner)
		if errors.Is(err, store.ErrNotFound) {
			if !sleep(ctx, w.opts.PollInterval) {
				return
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.opts.Logger.Errorf("dequeue: %v", err)
			if !sleep(ctx, w.opts.PollInterval) {
				return
			}
			continue
		}

		w.opts.Metrics.IncRunStarted()
		if err := w.opts.Executor.Execute(ctx, run); err != nil {
			w.opts.Logger.Errorf("run %s: %v", run.ID, err)
		}
	}
}

// sweep periodically expires overdue intervention tasks.
func (w *Worker) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.opts.Sweeper.ExpireSweep(ctx)
			if err != nil {
				w.opts.Logger.Errorf("intervention sweep: %v", err)
				continue
			}
			w.opts.Metrics.AddInterventionsExpired(n)
		}
	}
}

// sleep waits for d, returning false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
