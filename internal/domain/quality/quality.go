// Package quality computes review coverage, commit sizing, work patterns and
// collaboration metrics for a window of canonical events.
package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

// Commit size bucket edges in changed lines.
const (
	smallBelow = 50
	largeAbove = 200
)

// Engine computes quality, productivity and collaboration metrics.
type Engine struct {
	windowDays     int
	loc            *time.Location
	lateNightStart int
	lateNightEnd   int
	log            logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWindow sets the rolling window length in days.
func WithWindow(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.windowDays = days
		}
	}
}

// WithLocation sets the zone for weekday and hour bucketing.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithLateNight sets the late-night hours; start is inclusive, end exclusive,
// and the range wraps midnight when start > end.
func WithLateNight(start, end int) Option {
	return func(e *Engine) {
		e.lateNightStart, e.lateNightEnd = start, end
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		windowDays:     28,
		loc:            time.UTC,
		lateNightStart: 22,
		lateNightEnd:   6,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Get().Named("quality")
	}
	return e
}

// Report bundles the three metric groups.
type Report struct {
	Quality       model.QualityMetrics
	Productivity  model.ProductivityMetrics
	Collaboration model.CollaborationMetrics
}

// Compute evaluates the window ending at now.
func (e *Engine) Compute(ctx context.Context, events []model.CanonicalEvent, now time.Time) Report {
	start := now.Add(-time.Duration(e.windowDays) * 24 * time.Hour)
	w := collect(events, start, now)

	var r Report
	e.guard(ctx, "review_coverage", func() { r.Quality.ReviewCoverage = reviewCoverage(w) }, func(error) {
		r.Quality.ReviewCoverage = model.ReviewCoverage{Status: model.StatusError}
	})
	e.guard(ctx, "commit_sizes", func() { r.Quality.CommitSizes = commitSizes(w) }, func(error) {
		r.Quality.CommitSizes = model.CommitSizes{Status: model.StatusError}
	})
	e.guard(ctx, "productivity", func() { r.Productivity = e.productivity(w) }, func(error) {
		r.Productivity = model.ProductivityMetrics{Status: model.StatusError}
	})
	e.guard(ctx, "collaboration", func() { r.Collaboration = collaboration(w) }, func(error) {
		r.Collaboration = model.CollaborationMetrics{Status: model.StatusError, ResponseStatus: model.StatusError}
	})

	metrics.RecordMetricStatus("review_coverage", string(r.Quality.ReviewCoverage.Status))
	metrics.RecordMetricStatus("commit_sizes", string(r.Quality.CommitSizes.Status))
	metrics.RecordMetricStatus("productivity", string(r.Productivity.Status))
	metrics.RecordMetricStatus("collaboration", string(r.Collaboration.Status))
	return r
}

func (e *Engine) guard(ctx context.Context, name string, fn func(), onErr func(error)) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("%w: %s: %v", model.ErrComputation, name, rec)
			e.log.Error(ctx, "metric computation failed", logger.String("metric", name), logger.Error(err))
			metrics.RecordErrorByComponent("quality", name)
			onErr(err)
		}
	}()
	fn()
}

type pr struct {
	opened  model.CanonicalEvent
	reviews []model.CanonicalEvent
}

// window holds the events of one window grouped for the calculators.
type window struct {
	commits []model.CanonicalEvent
	prs     map[model.PRKey]*pr
	reviews []model.CanonicalEvent
	authors map[model.PRKey]string
}

func collect(events []model.CanonicalEvent, start, end time.Time) *window {
	w := &window{prs: make(map[model.PRKey]*pr), authors: make(map[model.PRKey]string)}
	in := func(t time.Time) bool { return !t.Before(start) && t.Before(end) }

	// Authors come from every open event so reviews of older PRs still know them.
	for _, ev := range events {
		if k, ok := ev.PR(); ok && ev.Kind == model.KindPROpen {
			if _, seen := w.authors[k]; !seen {
				w.authors[k] = ev.Actor
			}
		}
	}
	for _, ev := range events {
		switch ev.Kind {
		case model.KindCommit:
			if in(ev.Timestamp) {
				w.commits = append(w.commits, ev)
			}
		case model.KindPROpen:
			k, _ := ev.PR()
			if _, dup := w.prs[k]; !dup && in(ev.Timestamp) {
				w.prs[k] = &pr{opened: ev}
			}
		case model.KindReview:
			if in(ev.Timestamp) {
				w.reviews = append(w.reviews, ev)
			}
		}
	}
	// Reviews after the window still count toward coverage of PRs opened in it.
	for _, ev := range events {
		if ev.Kind != model.KindReview {
			continue
		}
		k, _ := ev.PR()
		if p, ok := w.prs[k]; ok && !ev.Timestamp.Before(p.opened.Timestamp) {
			p.reviews = append(p.reviews, ev)
		}
	}
	return w
}

func reviewCoverage(w *window) model.ReviewCoverage {
	if len(w.prs) == 0 {
		return model.ReviewCoverage{Status: model.StatusInsufficient}
	}
	rc := model.ReviewCoverage{Status: model.StatusOK, PRs: len(w.prs)}
	for _, p := range w.prs {
		if len(p.reviews) > 0 {
			rc.Reviewed++
		}
	}
	rc.Pct = float64(rc.Reviewed) / float64(rc.PRs) * 100
	return rc
}

func commitSizes(w *window) model.CommitSizes {
	cs := model.CommitSizes{}
	var lines, files []float64
	for _, c := range w.commits {
		if len(c.Files) > 0 {
			files = append(files, float64(len(c.Files)))
		}
		if c.Size == nil {
			continue
		}
		n := *c.Size
		lines = append(lines, float64(n))
		switch {
		case n < smallBelow:
			cs.Small++
		case n > largeAbove:
			cs.Large++
		default:
			cs.Medium++
		}
	}
	cs.FileSamples = len(files)
	cs.AvgFilesPerCommit = stats.Mean(files)
	cs.Sized = len(lines)
	if cs.Sized == 0 {
		cs.Status = model.StatusInsufficient
		return cs
	}
	cs.Status = model.StatusOK
	total := float64(cs.Sized)
	cs.SmallPct = float64(cs.Small) / total * 100
	cs.MediumPct = float64(cs.Medium) / total * 100
	cs.LargePct = float64(cs.Large) / total * 100
	cs.AvgLines = stats.Mean(lines)
	return cs
}

// Bucket reports the size bucket of a commit with n changed lines.
func Bucket(n int) string {
	switch {
	case n < smallBelow:
		return "small"
	case n > largeAbove:
		return "large"
	}
	return "medium"
}
