package docroute

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/petrijr/docroute/internal/taskqueue"
	"github.com/petrijr/docroute/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a Worker
// to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := docroute.NewLocalRunner()
//	docroute.NewModel("review").Node("a").Start().Stop().MustRegister(runner.Engine)
//
//	// Synchronous run (no queue/worker involved):
//	route, err := docroute.Start(ctx, runner.Engine, "review")
//
//	// Asynchronous run:
//	_ = runner.StartWorkers(ctx, 2)
//	_ = runner.StartAsync(ctx, "review")
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory route engine used by this runner.
	Engine Engine

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine,
// in-memory queue, and a Worker with default config.
func NewLocalRunner() *LocalRunner {
	return NewLocalRunnerWithOptions(Options{}, worker.Config{})
}

// NewLocalRunnerWithOptions constructs a LocalRunner whose engine uses the
// given collaborators and whose worker uses cfg.
func NewLocalRunnerWithOptions(opts Options, cfg worker.Config) *LocalRunner {
	eng := NewInMemoryEngineWithOptions(opts)
	q := taskqueue.NewInMemoryQueue(1024)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: worker.NewWithConfig(eng, q, cfg),
		logger: logger,
	}
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("docroute: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(id int) {
			defer r.wg.Done()

			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						if ctx.Err() != nil {
							return
						}
					}
					// The worker already logged the task; keep the loop alive.
					r.logger.DebugContext(ctx, "local_runner_task_error",
						slog.Int("worker", id),
						slog.Any("error", err),
					)
					continue
				}
				if !processed && ctx.Err() != nil {
					return
				}
			}
		}(i)
	}

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// StartAsync enqueues the start of a route from the given model. The model
// must already be registered on LocalRunner.Engine.
func (r *LocalRunner) StartAsync(ctx context.Context, modelID string, docs ...DocumentRef) error {
	return r.Worker.EnqueueStart(ctx, modelID, docs)
}

// CompleteTaskAsync enqueues the completion of a suspended node's task.
// The actor defaults to the principal of ctx.
func (r *LocalRunner) CompleteTaskAsync(ctx context.Context, routeID, nodeID string, result TaskResult) error {
	if result.Actor == "" {
		result.Actor = PrincipalFromContext(ctx)
	}
	return r.Worker.EnqueueCompletion(ctx, routeID, nodeID, result)
}

// CancelAsync enqueues the cancellation of a route.
func (r *LocalRunner) CancelAsync(ctx context.Context, routeID string) error {
	return r.Worker.EnqueueCancel(ctx, routeID)
}
