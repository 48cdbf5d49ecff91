package taskqueue

import (
	"context"
	"sync"
	"time"
)

// InMemoryQueue is a Queue held in process memory. Tasks are delivered in
// enqueue order once their NotBefore time has passed. It is safe for
// concurrent use.
type InMemoryQueue struct {
	mu       sync.Mutex
	tasks    []Task
	capacity int
	changed  chan struct{}
}

// NewInMemoryQueue creates a new queue with the given capacity.
// For tests and small deployments, a modest capacity (e.g. 1024) is fine.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

// Enqueue blocks while the queue is full.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if err := prepare(&t, time.Now()); err != nil {
		return err
	}
	for {
		q.mu.Lock()
		if len(q.tasks) < q.capacity {
			q.tasks = append(q.tasks, t)
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		now := time.Now()
		var earliest time.Time
		for i, t := range q.tasks {
			if !t.NotBefore.After(now) {
				q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
				q.broadcast()
				q.mu.Unlock()
				return &t, nil
			}
			if earliest.IsZero() || t.NotBefore.Before(earliest) {
				earliest = t.NotBefore
			}
		}
		wait := q.changed
		q.mu.Unlock()

		var (
			tmr   *time.Timer
			timer <-chan time.Time
		)
		if !earliest.IsZero() {
			tmr = time.NewTimer(earliest.Sub(now))
			timer = tmr.C
		}
		select {
		case <-wait:
		case <-timer:
		case <-ctx.Done():
			stopTimer(tmr)
			return nil, ctx.Err()
		}
		stopTimer(tmr)
	}
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// broadcast wakes every waiter. Callers hold q.mu.
func (q *InMemoryQueue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
