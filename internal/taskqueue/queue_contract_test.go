package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/docroute/pkg/api"
)

// runQueueContract exercises the behaviour every Queue implementation
// shares. newQueue must return an empty queue.
func runQueueContract(t *testing.T, newQueue func(t *testing.T) Queue) {
	t.Run("FIFOForImmediateTasks", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		for _, id := range []string{"r1", "r2", "r3"} {
			require.NoError(t, q.Enqueue(ctx, Task{Type: TaskTypeRunRoute, RouteID: id}))
		}
		require.Equal(t, 3, q.Len())

		for _, want := range []string{"r1", "r2", "r3"} {
			got := dequeueWithin(t, q, time.Second)
			require.Equal(t, want, got.RouteID)
		}
		require.Equal(t, 0, q.Len())
	})

	t.Run("PreservesTaskFields", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		in := Task{
			Type:    TaskTypeCompleteTask,
			RouteID: "route-1",
			NodeID:  "approve",
			Result: api.TaskResult{
				Button: "approve",
				Variables: api.Variables{
					"amount": 1250.5,
					"due":    due,
					"note":   "ok",
				},
				Actor: "alice",
			},
			Principal: "alice",
			Attempts:  2,
		}
		require.NoError(t, q.Enqueue(ctx, in))

		got := dequeueWithin(t, q, time.Second)
		require.NotEmpty(t, got.ID)
		require.False(t, got.EnqueuedAt.IsZero())
		require.Equal(t, TaskTypeCompleteTask, got.Type)
		require.Equal(t, "approve", got.NodeID)
		require.Equal(t, "approve", got.Result.Button)
		require.Equal(t, "alice", got.Result.Actor)
		require.Equal(t, "alice", got.Principal)
		require.Equal(t, 2, got.Attempts)
		require.Equal(t, 1250.5, got.Result.Variables["amount"])
		require.Equal(t, "ok", got.Result.Variables["note"])
		gotDue, ok := got.Result.Variables["due"].(time.Time)
		require.True(t, ok)
		require.True(t, due.Equal(gotDue))
	})

	t.Run("StartTaskCarriesDocuments", func(t *testing.T) {
		q := newQueue(t)
		docs := []api.DocumentRef{{Repository: "invoices", ID: "inv-7"}}
		require.NoError(t, q.Enqueue(context.Background(), Task{
			ID:        "fixed-id",
			Type:      TaskTypeStartRoute,
			ModelID:   "invoice-approval",
			Documents: docs,
		}))

		got := dequeueWithin(t, q, time.Second)
		require.Equal(t, "fixed-id", got.ID)
		require.Equal(t, "invoice-approval", got.ModelID)
		require.Equal(t, docs, got.Documents)
	})

	t.Run("NotBeforeDelaysDelivery", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		require.NoError(t, q.Enqueue(ctx, Task{
			Type:      TaskTypeRunRoute,
			RouteID:   "later",
			NotBefore: time.Now().Add(300 * time.Millisecond),
		}))
		require.NoError(t, q.Enqueue(ctx, Task{Type: TaskTypeRunRoute, RouteID: "now"}))

		first := dequeueWithin(t, q, time.Second)
		require.Equal(t, "now", first.RouteID)

		start := time.Now()
		second := dequeueWithin(t, q, 3*time.Second)
		require.Equal(t, "later", second.RouteID)
		require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("DequeueHonorsContext", func(t *testing.T) {
		q := newQueue(t)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		task, err := q.Dequeue(ctx)
		require.Nil(t, task)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("RejectsInvalidTasks", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		require.ErrorIs(t, q.Enqueue(ctx, Task{Type: TaskTypeStartRoute}), ErrInvalidTask)
		require.ErrorIs(t, q.Enqueue(ctx, Task{Type: TaskTypeRunNode, RouteID: "r"}), ErrInvalidTask)
		require.ErrorIs(t, q.Enqueue(ctx, Task{Type: "archive", RouteID: "r"}), ErrInvalidTask)
		require.Equal(t, 0, q.Len())
	})
}

func dequeueWithin(t *testing.T, q Queue, d time.Duration) *Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}
