// Package worker runs queued recompute tasks on a bounded pool.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/devpulse/internal/adapters/mq/queue"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

const (
	defaultWorkerCount  = 5
	poolShutdownTimeout = 30 * time.Second
)

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Task
}

// Worker processes tasks until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing tasks.
type InMemoryWorker struct {
	queue Queue
	name  string

	shutdown chan struct{}
	done     chan struct{}

	processed *atomic.Int64
	logger    logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		processed: &atomic.Int64{},
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			if err := w.process(ctx, t); err != nil {
				w.logger.Error(ctx, "task failed",
					logger.String("task_id", t.ID), logger.Scope(t.Scope), logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker once its current task returns.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, t queue.Task) (err error) {
	start := time.Now()
	metrics.AddWorkerActive(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.ID, r)
		}
		metrics.AddWorkerActive(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
		w.processed.Add(1)
		if err != nil {
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", "task_error")
		}
	}()

	if t.Run == nil {
		return fmt.Errorf("task %s has no body", t.ID)
	}
	return t.Run(ctx)
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	cancel    context.CancelFunc
	processed atomic.Int64
	logger    logger.Logger
}

// NewPool creates a pool; workerCount < 1 selects the default of five.
func NewPool(workerCount int, q Queue) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		w := NewInMemoryWorker(q, WithName("worker-"+strconv.Itoa(i)))
		w.processed = &p.processed
		p.workers[i] = w
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start starts all workers. Cancelling ctx, or Shutdown, cancels the
// context handed to running tasks.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the number of tasks run so far.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Shutdown closes the queue, cancels running tasks and waits for workers.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	if p.cancel != nil {
		p.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
		}
	}
	return nil
}
