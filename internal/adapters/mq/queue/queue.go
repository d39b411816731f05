// Package queue holds recompute tasks waiting for a worker.
//
// The in-memory implementation is a bounded buffered channel; a full queue
// rejects rather than blocks so callers can report back-pressure.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/devpulse/pkg/metrics"
)

const defaultCapacity = 1024

// Task is one unit of background work, normally a scope recompute.
type Task struct {
	ID         string
	Scope      string
	EnqueuedAt time.Time
	// Run performs the work. It must honour ctx cancellation.
	Run func(ctx context.Context) error
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a task. It returns false if the queue is full or closed.
	Enqueue(ctx context.Context, t Task) bool

	// Dequeue returns a channel receiving tasks as they become available.
	// The channel is closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Task

	// Len returns the number of queued tasks.
	Len(ctx context.Context) int

	// Close stops accepting tasks.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	tasks    chan Task
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a queue with the given options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.tasks = make(chan Task, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a task without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	select {
	case q.tasks <- t:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.tasks))
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives tasks until the queue is closed
// or ctx is done.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Task {
	out := make(chan Task)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-q.tasks:
				if !ok {
					return
				}
				select {
				case out <- t:
					metrics.RecordQueueDequeue()
					metrics.UpdateQueueSize(len(q.tasks))
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of queued tasks.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.tasks)
	metrics.UpdateQueueSize(size)
	return size
}

// Close stops accepting tasks; queued tasks are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.tasks)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
