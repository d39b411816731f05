// Package source collects raw activity events for a scope's repositories.
// Each repository is fetched under its own timeout; a failing repository
// degrades the result to partial instead of failing the batch.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultRate        = 10
	defaultBurst       = 5
	defaultConcurrency = 4
)

// Fetcher returns the raw events of one repository since a point in time.
// It may return events together with an error when only part of the range
// could be read.
type Fetcher interface {
	Fetch(ctx context.Context, repo string, since time.Time) ([]model.RawEvent, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, repo string, since time.Time) ([]model.RawEvent, error)

func (f FetcherFunc) Fetch(ctx context.Context, repo string, since time.Time) ([]model.RawEvent, error) {
	return f(ctx, repo, since)
}

// Failure describes a repository that contributed partially or not at all.
type Failure struct {
	Repo   string `json:"repo"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Result is the outcome of one collection.
type Result struct {
	// Batches holds one batch per repository that returned events.
	Batches [][]model.RawEvent
	// Failures lists degraded repositories, ordered by name.
	Failures []Failure
}

// Partial reports whether any repository degraded.
func (r Result) Partial() bool { return len(r.Failures) > 0 }

// PartialRepos returns the degraded repository names.
func (r Result) PartialRepos() []string {
	out := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		out[i] = f.Repo
	}
	return out
}

// Err joins the failures under model.ErrDataFetchPartial, or nil.
func (r Result) Err() error {
	if !r.Partial() {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %s: %w", f.Repo, f.Reason, f.Err))
	}
	return fmt.Errorf("%w: %w", model.ErrDataFetchPartial, errors.Join(errs...))
}

// Option configures a Collector.
type Option func(*Collector)

// WithTimeout sets the per-repository fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit bounds provider calls per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Collector) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithConcurrency bounds parallel repository fetches per collection.
func WithConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.log = l
		}
	}
}

// Collector fans out over repositories. Concurrent collections asking for
// the same repository and start time share one provider call.
type Collector struct {
	fetcher     Fetcher
	timeout     time.Duration
	limiter     *rate.Limiter
	concurrency int
	flight      singleflight.Group
	log         logger.Logger
}

// NewCollector creates a Collector over f.
func NewCollector(f Fetcher, opts ...Option) *Collector {
	c := &Collector{
		fetcher:     f,
		timeout:     defaultTimeout,
		limiter:     rate.NewLimiter(defaultRate, defaultBurst),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("source")
	}
	return c
}

type fetched struct {
	events []model.RawEvent
	err    error
}

// Collect fetches every repository. It fails only when ctx is cancelled;
// per-repository problems are reported in Result.Failures.
func (c *Collector) Collect(ctx context.Context, repos []string, since time.Time) (Result, error) {
	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, repo := range repos {
		g.Go(func() error {
			events, failure := c.fetchRepo(gctx, repo, since)
			mu.Lock()
			defer mu.Unlock()
			if len(events) > 0 {
				res.Batches = append(res.Batches, events)
			}
			if failure != nil {
				res.Failures = append(res.Failures, *failure)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("collect cancelled: %w", err)
	}
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Repo < res.Failures[j].Repo })
	return res, nil
}

func (c *Collector) fetchRepo(ctx context.Context, repo string, since time.Time) ([]model.RawEvent, *Failure) {
	key := fmt.Sprintf("%s|%d", repo, since.Unix())
	ch := c.flight.DoChan(key, func() (any, error) {
		// Shared by every caller, so it outlives any single one of them.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		if err := c.limiter.Wait(fctx); err != nil {
			return fetched{err: err}, nil
		}
		start := time.Now()
		events, err := c.fetcher.Fetch(fctx, repo, since)
		metrics.RecordFetchLatency(float64(time.Since(start).Milliseconds()))
		if err == nil && fctx.Err() != nil {
			err = fctx.Err()
		}
		return fetched{events: events, err: err}, nil
	})

	var out fetched
	select {
	case r := <-ch:
		if r.Shared {
			metrics.RecordSingleFlightJoin()
		}
		out = r.Val.(fetched)
	case <-ctx.Done():
		return nil, &Failure{Repo: repo, Reason: "cancelled", Err: ctx.Err()}
	}
	if out.err == nil {
		return out.events, nil
	}

	reason := "error"
	if errors.Is(out.err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	metrics.RecordFetchPartial(reason)
	c.log.Warn(ctx, "repository fetch degraded",
		logger.String("repo", repo), logger.String("reason", reason),
		logger.Int("events", len(out.events)), logger.Error(out.err))
	return out.events, &Failure{Repo: repo, Reason: reason, Err: out.err}
}
