package dora

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

const (
	defaultWindowDays = 28
	defaultLookback   = 14 * 24 * time.Hour
	defaultHorizon    = 14 * 24 * time.Hour
	day               = 24 * time.Hour
	week              = 7 * day

	trendUp   = 1.2
	trendDown = 0.8
	smaPeriod = 4
)

// Engine computes DORA metrics.
type Engine struct {
	windowDays int
	lookback   time.Duration
	horizon    time.Duration
	lexicon    []Category
	log        logger.Logger
}

// New creates an Engine with the default window, lookback and lexicon.
func New(opts ...Option) *Engine {
	e := &Engine{
		windowDays: defaultWindowDays,
		lookback:   defaultLookback,
		horizon:    defaultHorizon,
		lexicon:    DefaultLexicon(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Get().Named("dora")
	}
	return e
}

// Window returns the window length.
func (e *Engine) Window() time.Duration { return time.Duration(e.windowDays) * day }

// Compute evaluates all four metrics for the window ending at now.
// events must be time-ordered.
func (e *Engine) Compute(ctx context.Context, events []model.CanonicalEvent, now time.Time) model.DORAMetrics {
	end := now
	start := end.Add(-e.Window())
	out := model.DORAMetrics{WindowStart: start, WindowEnd: end}
	idx := buildIndex(events)

	if !idx.anyIn(start, end) {
		out.LeadTime = model.LeadTime{Status: model.StatusInsufficient, Trend: insufficientTrend()}
		out.DeploymentFrequency = model.DeploymentFrequency{Status: model.StatusInsufficient, Trend: insufficientTrend()}
		out.ChangeFailureRate = model.ChangeFailureRate{Status: model.StatusInsufficient}
		out.MTTR = model.MTTR{Status: model.StatusInsufficient}
		e.record(out)
		return out
	}

	guard(ctx, e.log, "lead_time", func() { out.LeadTime = e.leadTime(idx, start, end) }, func(err error) {
		out.LeadTime = model.LeadTime{Status: model.StatusError, Error: err.Error(), Trend: insufficientTrend()}
	})
	guard(ctx, e.log, "deployment_frequency", func() { out.DeploymentFrequency = e.deploymentFrequency(idx, start, end) }, func(err error) {
		out.DeploymentFrequency = model.DeploymentFrequency{Status: model.StatusError, Error: err.Error(), Trend: insufficientTrend()}
	})

	var failures []failure
	guard(ctx, e.log, "change_failure_rate", func() {
		out.ChangeFailureRate, failures = e.changeFailureRate(idx, start, end)
	}, func(err error) {
		out.ChangeFailureRate = model.ChangeFailureRate{Status: model.StatusError, Error: err.Error()}
	})
	switch out.ChangeFailureRate.Status {
	case model.StatusOK:
		guard(ctx, e.log, "mttr", func() { out.MTTR = e.mttr(idx, failures) }, func(err error) {
			out.MTTR = model.MTTR{Status: model.StatusError, Error: err.Error()}
		})
	case model.StatusError:
		out.MTTR = model.MTTR{Status: model.StatusError, Error: "failure classification unavailable"}
	default:
		out.MTTR = model.MTTR{Status: model.StatusInsufficient}
	}

	e.record(out)
	return out
}

func (e *Engine) record(m model.DORAMetrics) {
	metrics.RecordMetricStatus("lead_time", string(m.LeadTime.Status))
	metrics.RecordMetricStatus("deployment_frequency", string(m.DeploymentFrequency.Status))
	metrics.RecordMetricStatus("change_failure_rate", string(m.ChangeFailureRate.Status))
	metrics.RecordMetricStatus("mttr", string(m.MTTR.Status))
}

// guard runs fn and turns a panic into a contained ErrComputation for one metric.
func guard(ctx context.Context, log logger.Logger, name string, fn func(), onErr func(error)) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %s: %v", model.ErrComputation, name, r)
			log.Error(ctx, "metric computation failed", logger.String("metric", name), logger.Error(err))
			metrics.RecordErrorByComponent("dora", name)
			onErr(err)
		}
	}()
	fn()
}

func insufficientTrend() model.Trend { return model.Trend{Status: model.StatusInsufficient} }

// trend compares window means; windows with fewer than two samples skip it.
func trend(current, prior float64, currentN, priorN int) model.Trend {
	if currentN < 2 || priorN < 2 {
		return insufficientTrend()
	}
	t := model.Trend{
		Status:    model.StatusOK,
		Current:   current,
		Prior:     prior,
		ChangePct: stats.ChangePct(current, prior),
	}
	switch {
	case current > prior*trendUp:
		t.Direction = model.TrendIncreasing
	case current < prior*trendDown:
		t.Direction = model.TrendDecreasing
	default:
		t.Direction = model.TrendStable
	}
	return t
}
