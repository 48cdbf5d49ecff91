package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/docroute/internal/taskqueue"
	"github.com/petrijr/docroute/pkg/api"
)

// Config controls retry behaviour and logging of a Worker.
type Config struct {
	// MaxAttempts is the total number of deliveries of a task, including
	// the first one. Values below 1 mean 1 (no retries).
	MaxAttempts int

	// Backoff is the delay before the first retry. It doubles with every
	// further attempt, up to MaxBackoff.
	Backoff time.Duration

	// MaxBackoff caps the retry delay. Zero means 30s.
	MaxBackoff time.Duration

	// Logger receives task failures and retries. Nil means slog.Default().
	Logger *slog.Logger
}

// Worker pulls route triggers from a Queue and applies them to an Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	cfg    Config
	logger *slog.Logger
}

// New creates a Worker that does not retry failed tasks.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a Worker with the given retry policy.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine: engine,
		queue:  queue,
		cfg:    cfg,
		logger: logger,
	}
}

// EnqueueStart enqueues the creation and first run of a route.
func (w *Worker) EnqueueStart(ctx context.Context, modelID string, docs []api.DocumentRef) error {
	return w.EnqueueStartAt(ctx, modelID, docs, time.Time{})
}

// EnqueueStartAt enqueues a route start that is not processed before at.
func (w *Worker) EnqueueStartAt(ctx context.Context, modelID string, docs []api.DocumentRef, at time.Time) error {
	return w.enqueue(ctx, taskqueue.Task{
		Type:      taskqueue.TaskTypeStartRoute,
		ModelID:   modelID,
		Documents: docs,
		NotBefore: at,
	})
}

// EnqueueRun enqueues a resume of routeID.
func (w *Worker) EnqueueRun(ctx context.Context, routeID string) error {
	return w.enqueue(ctx, taskqueue.Task{
		Type:    taskqueue.TaskTypeRunRoute,
		RouteID: routeID,
	})
}

// EnqueueRunNode enqueues the re-entry of a single node.
func (w *Worker) EnqueueRunNode(ctx context.Context, routeID, nodeID string) error {
	return w.enqueue(ctx, taskqueue.Task{
		Type:    taskqueue.TaskTypeRunNode,
		RouteID: routeID,
		NodeID:  nodeID,
	})
}

// EnqueueCompletion enqueues the completion of a suspended node's task.
func (w *Worker) EnqueueCompletion(ctx context.Context, routeID, nodeID string, result api.TaskResult) error {
	return w.enqueue(ctx, taskqueue.Task{
		Type:    taskqueue.TaskTypeCompleteTask,
		RouteID: routeID,
		NodeID:  nodeID,
		Result:  result,
	})
}

// EnqueueCancel enqueues the cancellation of a route.
func (w *Worker) EnqueueCancel(ctx context.Context, routeID string) error {
	return w.enqueue(ctx, taskqueue.Task{
		Type:    taskqueue.TaskTypeCancelRoute,
		RouteID: routeID,
	})
}

// enqueue records the principal of ctx on t so that it is bound again
// when the task runs.
func (w *Worker) enqueue(ctx context.Context, t taskqueue.Task) error {
	t.Principal = api.PrincipalFromContext(ctx)
	return w.queue.Enqueue(ctx, t)
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained; err is the dequeue error
//     (typically ctx cancellation).
//   - processed == true, err == nil: the task succeeded or a retry was
//     scheduled.
//   - processed == true, err != nil: the task failed for good.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	runCtx := api.WithPrincipal(ctx, task.Principal)
	route, runErr := w.handle(runCtx, task)
	if runErr == nil {
		return true, nil
	}

	if !Retryable(runErr) || task.Attempts+1 >= w.cfg.MaxAttempts {
		w.logger.ErrorContext(ctx, "task_failed",
			slog.String("task_id", task.ID),
			slog.String("type", string(task.Type)),
			slog.String("route_id", task.RouteID),
			slog.Int("attempts", task.Attempts+1),
			slog.Any("error", runErr),
		)
		return true, runErr
	}

	retry := w.retryTask(ctx, *task, route)
	if err := w.queue.Enqueue(ctx, retry); err != nil {
		return true, errors.Join(runErr, fmt.Errorf("schedule retry: %w", err))
	}
	w.logger.WarnContext(ctx, "task_retry_scheduled",
		slog.String("task_id", task.ID),
		slog.String("type", string(retry.Type)),
		slog.String("route_id", retry.RouteID),
		slog.Int("attempt", retry.Attempts),
		slog.Time("not_before", retry.NotBefore),
		slog.Any("error", runErr),
	)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, t *taskqueue.Task) (*api.Route, error) {
	switch t.Type {
	case taskqueue.TaskTypeStartRoute:
		return w.engine.Start(ctx, t.ModelID, t.Documents)
	case taskqueue.TaskTypeRunRoute:
		return w.engine.Run(ctx, t.RouteID)
	case taskqueue.TaskTypeRunNode:
		return w.engine.RunNode(ctx, t.RouteID, t.NodeID)
	case taskqueue.TaskTypeCompleteTask:
		return w.engine.CompleteTask(ctx, t.RouteID, t.NodeID, t.Result)
	case taskqueue.TaskTypeCancelRoute:
		return w.engine.Cancel(ctx, t.RouteID)
	default:
		// Mark as processed but return an error so this isn't silently ignored.
		return nil, fmt.Errorf("%w: unknown task type %q", taskqueue.ErrInvalidTask, t.Type)
	}
}

// retryTask derives the next delivery of a failed task. A start that
// already created its route is retried as a resume of that route so that
// no second instance is created. A completion that was recorded before
// the failure is retried as a re-entry of its node, since the node no
// longer accepts the completion itself.
func (w *Worker) retryTask(ctx context.Context, t taskqueue.Task, route *api.Route) taskqueue.Task {
	switch {
	case t.Type == taskqueue.TaskTypeStartRoute && route != nil:
		t.Type = taskqueue.TaskTypeRunRoute
		t.RouteID = route.ID
	case t.Type == taskqueue.TaskTypeCompleteTask && w.completionRecorded(ctx, t.RouteID, t.NodeID):
		t.Type = taskqueue.TaskTypeRunNode
		t.Result = api.TaskResult{}
	}
	t.Attempts++
	t.NotBefore = time.Now().Add(w.backoff(t.Attempts))
	return t
}

// completionRecorded reports whether the stored node has taken its
// completion. The stored copy is read because a failed save may leave the
// in-memory route ahead of the store.
func (w *Worker) completionRecorded(ctx context.Context, routeID, nodeID string) bool {
	r, err := w.engine.GetRoute(ctx, routeID)
	if err != nil {
		w.logger.WarnContext(ctx, "task_route_unavailable",
			slog.String("route_id", routeID),
			slog.Any("error", err),
		)
		return false
	}
	n, ok := r.Node(nodeID)
	if !ok {
		return false
	}
	return n.State != api.NodeSuspended || n.TaskCompleted
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.Backoff
	for i := 1; i < attempt && d < w.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > w.cfg.MaxBackoff {
		d = w.cfg.MaxBackoff
	}
	return d
}

// Retryable reports whether a failed task may succeed when delivered again:
// chain and guard failures and save conflicts are retried, malformed
// routes and rejected triggers are not.
func Retryable(err error) bool {
	if api.IsDefinitionError(err) {
		return false
	}
	return api.IsExecutionError(err) || api.IsConcurrencyError(err)
}
