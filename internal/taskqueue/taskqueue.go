package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/docroute/pkg/api"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	TaskTypeStartRoute   TaskType = "start-route"
	TaskTypeRunRoute     TaskType = "run-route"
	TaskTypeRunNode      TaskType = "run-node"
	TaskTypeCompleteTask TaskType = "complete-task"
	TaskTypeCancelRoute  TaskType = "cancel-route"
)

var ErrInvalidTask = errors.New("invalid task")

// Task is an external trigger waiting to be applied to the engine.
type Task struct {
	ID   string
	Type TaskType

	// For start-route tasks
	ModelID   string
	Documents []api.DocumentRef

	// For every other task type
	RouteID string

	// For run-node and complete-task tasks
	NodeID string
	Result api.TaskResult

	// Principal is bound into the execution context when the task runs.
	Principal string

	// Attempts counts failed deliveries so far.
	Attempts int

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time
}

// Validate checks that the fields required by the task type are set.
func (t Task) Validate() error {
	switch t.Type {
	case TaskTypeStartRoute:
		if t.ModelID == "" {
			return errors.Join(ErrInvalidTask, errors.New("start-route needs a model id"))
		}
	case TaskTypeRunRoute, TaskTypeCancelRoute:
		if t.RouteID == "" {
			return errors.Join(ErrInvalidTask, errors.New(string(t.Type)+" needs a route id"))
		}
	case TaskTypeRunNode, TaskTypeCompleteTask:
		if t.RouteID == "" || t.NodeID == "" {
			return errors.Join(ErrInvalidTask, errors.New(string(t.Type)+" needs a route id and a node id"))
		}
	default:
		return errors.Join(ErrInvalidTask, errors.New("unknown task type "+string(t.Type)))
	}
	return nil
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

// prepare validates t and fills in its id and enqueue time.
func prepare(t *Task, now time.Time) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.EnqueuedAt = now
	if t.NotBefore.IsZero() {
		t.NotBefore = now
	}
	return nil
}
