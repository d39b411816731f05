// Package refresh decides when a scope is recomputed and what callers are
// served meanwhile: cached values are returned immediately, stale ones
// trigger exactly one background recompute, and a cold scope waits for its
// first result.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/devpulse/internal/adapters/mq/queue"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

const (
	defaultTTL    = 15 * time.Minute
	defaultFamily = "snapshot"
)

var (
	// ErrClosed is returned once the coordinator has shut down.
	ErrClosed = errors.New("coordinator closed")
	// ErrCancelled is returned to waiters of a cancelled recompute.
	ErrCancelled = errors.New("recompute cancelled")
)

// ComputeFunc recomputes a scope. A result returned after ctx is cancelled
// is discarded.
type ComputeFunc[T any] func(ctx context.Context, scope string) (T, error)

// Submitter hands tasks to a worker pool.
type Submitter interface {
	Enqueue(ctx context.Context, t queue.Task) bool
}

// View is what a caller is served.
type View[T any] struct {
	Value      T         `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
	Stale      bool      `json:"stale"`
	Refreshing bool      `json:"refreshing"`
}

// Ack acknowledges a forced refresh.
type Ack struct {
	TaskID string `json:"task_id"`
	Scope  string `json:"scope"`
	// Joined is true when an in-flight recompute was reused.
	Joined bool `json:"joined"`
}

// Task is a cancellable handle on one in-flight recompute.
type Task[T any] struct {
	ID    string
	Scope string

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	value  T
	err    error
}

// Done is closed when the task finishes.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Cancel aborts the recompute; its result will be discarded.
func (t *Task[T]) Cancel() { t.cancel() }

// Wait blocks until the task finishes or ctx is done.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("waiting for %s: %w", t.Scope, ctx.Err())
	}
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	ttl    time.Duration
	family string
	submit Submitter
	now    func() time.Time
	log    logger.Logger
}

// WithTTL sets how long a cached value is fresh.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithFamily sets the cache family the coordinator writes.
func WithFamily(family string) Option {
	return func(o *options) {
		if family != "" {
			o.family = family
		}
	}
}

// WithSubmitter runs recomputes on a worker pool instead of a goroutine each.
func WithSubmitter(s Submitter) Option {
	return func(o *options) { o.submit = s }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Coordinator enforces one in-flight recompute per scope.
type Coordinator[T any] struct {
	cache   *Cache[T]
	compute ComputeFunc[T]
	opts    options

	base     context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	inflight map[string]*Task[T]
	closed   bool
}

// New creates a Coordinator writing into cache.
func New[T any](cache *Cache[T], compute ComputeFunc[T], opts ...Option) *Coordinator[T] {
	o := options{ttl: defaultTTL, family: defaultFamily, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("refresh")
	}
	base, stop := context.WithCancel(context.Background())
	return &Coordinator[T]{
		cache:    cache,
		compute:  compute,
		opts:     o,
		base:     base,
		stop:     stop,
		inflight: make(map[string]*Task[T]),
	}
}

func (c *Coordinator[T]) key(scope string) Key { return Key{Scope: scope, Family: c.opts.family} }

// Get serves the cached value for scope. A stale value is returned at once
// while one background recompute is scheduled; a cold scope waits for the
// first computation.
func (c *Coordinator[T]) Get(ctx context.Context, scope string) (View[T], error) {
	if e, ok := c.cache.Load(c.key(scope)); ok {
		v := View[T]{Value: e.Value, ComputedAt: e.ComputedAt}
		if e.Stale(c.opts.now()) {
			metrics.RecordCacheStale()
			c.schedule(scope)
			v.Stale, v.Refreshing = true, true
			c.opts.log.Debug(ctx, "serving stale value", logger.Scope(scope),
				logger.Time("computed_at", e.ComputedAt))
			return v, nil
		}
		metrics.RecordCacheHit()
		v.Refreshing = c.InFlight(scope)
		return v, nil
	}

	metrics.RecordCacheMiss()
	t, _ := c.schedule(scope)
	if _, err := t.Wait(ctx); err != nil {
		return View[T]{}, err
	}
	e, ok := c.cache.Load(c.key(scope))
	if !ok {
		// Deleted between the write and this read.
		return View[T]{}, fmt.Errorf("%s: %w", scope, ErrCancelled)
	}
	return View[T]{Value: e.Value, ComputedAt: e.ComputedAt}, nil
}

// Peek returns the cached entry without scheduling anything.
func (c *Coordinator[T]) Peek(scope string) (*Entry[T], bool) {
	return c.cache.Load(c.key(scope))
}

// Refresh forces a recompute regardless of TTL, joining one already in flight.
func (c *Coordinator[T]) Refresh(_ context.Context, scope string) (Ack, error) {
	t, joined := c.schedule(scope)
	select {
	case <-t.done:
		if errors.Is(t.err, ErrClosed) {
			return Ack{}, t.err
		}
	default:
	}
	return Ack{TaskID: t.ID, Scope: scope, Joined: joined}, nil
}

// RefreshWait forces a recompute like Refresh and blocks until the task it
// scheduled or joined finishes, returning that task's own result.
func (c *Coordinator[T]) RefreshWait(ctx context.Context, scope string) (T, error) {
	t, _ := c.schedule(scope)
	return t.Wait(ctx)
}

// Task returns the in-flight task for scope, if any.
func (c *Coordinator[T]) Task(scope string) (*Task[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.inflight[scope]
	return t, ok
}

// InFlight reports whether scope has a recompute running or queued.
func (c *Coordinator[T]) InFlight(scope string) bool {
	_, ok := c.Task(scope)
	return ok
}

// Pending returns the number of in-flight recomputes.
func (c *Coordinator[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Sweep schedules every scope that is missing or stale.
func (c *Coordinator[T]) Sweep(_ context.Context, scopes []string) int {
	now := c.opts.now()
	n := 0
	for _, s := range scopes {
		if e, ok := c.cache.Load(c.key(s)); ok && !e.Stale(now) {
			continue
		}
		if _, joined := c.schedule(s); !joined {
			n++
		}
	}
	return n
}

// schedule returns the scope's in-flight task, creating and submitting one
// if none exists. The check and insert happen under one lock.
func (c *Coordinator[T]) schedule(scope string) (*Task[T], bool) {
	c.mu.Lock()
	if t, ok := c.inflight[scope]; ok {
		c.mu.Unlock()
		metrics.RecordSingleFlightJoin()
		return t, true
	}
	ctx, cancel := context.WithCancel(c.base)
	t := &Task[T]{ID: uuid.NewString(), Scope: scope, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	if c.closed {
		c.mu.Unlock()
		var zero T
		c.finish(t, zero, ErrClosed)
		return t, false
	}
	c.inflight[scope] = t
	c.mu.Unlock()

	run := queue.Task{ID: t.ID, Scope: scope, Run: func(wctx context.Context) error { return c.run(wctx, t) }}
	if c.opts.submit == nil {
		go func() { _ = run.Run(context.Background()) }()
		return t, false
	}
	if !c.opts.submit.Enqueue(ctx, run) {
		var zero T
		c.finish(t, zero, fmt.Errorf("scheduling %s: %w", scope, queue.ErrFull))
	}
	return t, false
}

func (c *Coordinator[T]) run(wctx context.Context, t *Task[T]) error {
	stop := context.AfterFunc(wctx, t.cancel)
	defer stop()
	var zero T
	if err := t.ctx.Err(); err != nil {
		c.finish(t, zero, fmt.Errorf("%s: %w", t.Scope, ErrCancelled))
		return nil
	}

	start := time.Now()
	value, err := c.compute(t.ctx, t.Scope)
	metrics.RecordRecomputeLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	if err != nil {
		if t.ctx.Err() != nil {
			err = fmt.Errorf("%s: %w: %w", t.Scope, ErrCancelled, err)
			metrics.RecordRecomputeCancelled()
		} else {
			metrics.RecordRecomputeError()
			c.opts.log.Warn(t.ctx, "recompute failed", logger.Scope(t.Scope), logger.Error(err))
		}
		c.finish(t, zero, err)
		return err
	}

	// Commit only if nobody cancelled the task meanwhile.
	c.mu.Lock()
	if t.ctx.Err() != nil {
		c.mu.Unlock()
		metrics.RecordRecomputeCancelled()
		c.finish(t, zero, fmt.Errorf("%s: %w", t.Scope, ErrCancelled))
		return nil
	}
	c.cache.Store(&Entry[T]{Key: c.key(t.Scope), Value: value, ComputedAt: c.opts.now(), TTL: c.opts.ttl})
	c.mu.Unlock()

	c.finish(t, value, nil)
	c.opts.log.Debug(t.ctx, "recompute finished", logger.Scope(t.Scope),
		logger.String("task_id", t.ID), logger.Duration("took", time.Since(start)))
	return nil
}

// finish publishes the outcome once and releases the scope.
func (c *Coordinator[T]) finish(t *Task[T], value T, err error) {
	t.once.Do(func() {
		c.mu.Lock()
		if c.inflight[t.Scope] == t {
			delete(c.inflight, t.Scope)
		}
		c.mu.Unlock()
		t.value, t.err = value, err
		t.cancel()
		close(t.done)
	})
}

// Delete drops the scope's cache entries and cancels its in-flight recompute.
func (c *Coordinator[T]) Delete(scope string) {
	c.mu.Lock()
	t := c.inflight[scope]
	if t != nil {
		t.cancel()
	}
	c.cache.DeleteScope(scope)
	c.mu.Unlock()
	if t != nil {
		var zero T
		c.finish(t, zero, fmt.Errorf("%s: %w", scope, ErrCancelled))
	}
}

// Shutdown cancels every in-flight recompute and rejects new ones. Waiters
// receive ErrCancelled; partial results are never cached.
func (c *Coordinator[T]) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	tasks := make([]*Task[T], 0, len(c.inflight))
	for _, t := range c.inflight {
		tasks = append(tasks, t)
	}
	c.mu.Unlock()

	c.stop()
	var zero T
	for _, t := range tasks {
		c.finish(t, zero, fmt.Errorf("%s: %w", t.Scope, ErrCancelled))
		metrics.RecordRecomputeCancelled()
	}
	c.opts.log.Info(ctx, "coordinator stopped", logger.Int("cancelled", len(tasks)))
	return nil
}
