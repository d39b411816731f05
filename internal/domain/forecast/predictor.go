// Package forecast is the per-scope continuous-learning predictor: an
// explicit training state machine around a ridge + regression-tree ensemble
// that forecasts each tracked metric with a confidence interval.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

const (
	defaultMinSamples = 50
	defaultTolerance  = 0.1
	defaultHorizon    = 14
	defaultLambda     = 1.0
	defaultTrees      = 25
	defaultDepth      = 4
)

// Training outcomes.
const (
	OutcomePromoted  = "promoted"
	OutcomeKeptPrior = "kept_prior"
	OutcomeFailed    = "failed"
)

// Forecast is a multi-step projection of one metric.
type Forecast struct {
	Scope       string    `json:"scope"`
	Metric      string    `json:"metric"`
	Version     int       `json:"version"`
	Score       float64   `json:"score"`
	GeneratedAt time.Time `json:"generated_at"`
	Points      []Point   `json:"points"`
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithMinSamples sets the sample count that starts the first training.
func WithMinSamples(n int) Option {
	return func(p *Predictor) {
		if n > 0 {
			p.minSamples = n
		}
	}
}

// WithPolicy sets the retrain policy.
func WithPolicy(policy RetrainPolicy) Option {
	return func(p *Predictor) { p.policy = policy }
}

// WithTolerance sets how far a new version's score may fall below the
// active one and still be promoted.
func WithTolerance(t float64) Option {
	return func(p *Predictor) {
		if t >= 0 {
			p.tolerance = t
		}
	}
}

// WithHorizon sets the default forecast horizon.
func WithHorizon(steps int) Option {
	return func(p *Predictor) {
		if steps > 0 {
			p.horizon = steps
		}
	}
}

// WithSeed sets the base seed for bootstrap sampling.
func WithSeed(seed int64) Option {
	return func(p *Predictor) { p.seed = seed }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Predictor) {
		if l != nil {
			p.log = l
		}
	}
}

type scopeState struct {
	mu    sync.Mutex // serialises transitions
	state atomic.Pointer[State]
}

// Predictor owns the learning state of every scope. Each scope's state is
// replaced only by that scope's own transitions; readers always see a
// complete State.
type Predictor struct {
	mu     sync.RWMutex
	scopes map[string]*scopeState

	minSamples int
	policy     RetrainPolicy
	tolerance  float64
	horizon    int
	hyper      hyper
	seed       int64
	log        logger.Logger
}

// New creates a Predictor.
func New(opts ...Option) *Predictor {
	p := &Predictor{
		scopes:     make(map[string]*scopeState),
		minSamples: defaultMinSamples,
		policy:     DefaultRetrainPolicy(),
		tolerance:  defaultTolerance,
		horizon:    defaultHorizon,
		hyper:      hyper{lambda: defaultLambda, trees: defaultTrees, depth: defaultDepth},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Get().Named("forecast")
	}
	return p
}

func (p *Predictor) entry(scope string) *scopeState {
	p.mu.RLock()
	ss, ok := p.scopes[scope]
	p.mu.RUnlock()
	if ok {
		return ss
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ss, ok = p.scopes[scope]; ok {
		return ss
	}
	ss = &scopeState{}
	ss.state.Store(&State{Scope: scope, Phase: PhaseUninitialized})
	p.scopes[scope] = ss
	return ss
}

// Restore installs a persisted state, replacing whatever the scope held.
func (p *Predictor) Restore(st *State) {
	if st == nil || st.Scope == "" {
		return
	}
	ss := p.entry(st.Scope)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	restored := st.clone()
	// A process that died mid-fit resumes from the phase it left.
	switch restored.Phase {
	case PhaseTraining:
		restored.Phase = PhaseUninitialized
	case PhaseRetraining:
		restored.Phase = PhaseReady
	}
	ss.state.Store(restored)
	metrics.UpdatePredictorVersion(restored.Scope, restored.Active)
}

// State returns a copy of the scope's state.
func (p *Predictor) State(scope string) *State {
	return p.entry(scope).state.Load().clone()
}

// Status returns the scope's learning status.
func (p *Predictor) Status(scope string) LearningStatus {
	return p.entry(scope).state.Load().Status()
}

// Observe advances the scope's state machine with its current snapshot
// history, training or retraining when due. A failed fit leaves the prior
// state in place and is retried on the next call; the error is returned for
// logging only.
func (p *Predictor) Observe(ctx context.Context, scope string, history []model.MetricSnapshot, now time.Time) (*State, error) {
	ss := p.entry(scope)
	ss.mu.Lock()
	defer ss.mu.Unlock()

	cur := ss.state.Load()
	var target Phase
	switch cur.Phase {
	case PhaseDeprecated:
		return cur.clone(), ErrDeprecated
	case PhaseUninitialized:
		if len(history) < p.minSamples {
			return cur.clone(), nil
		}
		target = PhaseTraining
	case PhaseReady:
		if !p.policy.Due(newSamples(history, cur.LastSampleAt), now.Sub(cur.LastTrainedAt)) {
			return cur.clone(), nil
		}
		target = PhaseRetraining
	default:
		return cur.clone(), nil
	}

	next := cur.clone()
	if err := next.move(target); err != nil {
		return cur.clone(), err
	}
	ss.state.Store(next)
	p.log.Debug(ctx, "training started", logger.Scope(scope), logger.String("phase", string(target)),
		logger.Int("samples", len(history)))

	version, err := p.fit(ctx, scope, cur.Version+1, history, now)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		failed := cur.clone()
		failed.LastError = err.Error()
		ss.state.Store(failed)
		metrics.RecordTraining(OutcomeFailed)
		p.log.Warn(ctx, "training failed, keeping prior state", logger.Scope(scope), logger.Error(err))
		return failed.clone(), err
	}

	next = next.clone()
	next.Versions = append(next.Versions, version)
	next.Version = version.Number
	next.TrainingSampleCount = len(history)
	next.LastTrainedAt = now
	next.LastSampleAt = history[len(history)-1].Timestamp
	next.LastError = ""

	outcome := OutcomePromoted
	if prior := next.ActiveVersion(); prior != nil && version.Score < prior.Score-p.tolerance {
		outcome = OutcomeKeptPrior
	} else {
		next.Active = version.Number
	}
	next.EvaluationScore = next.ActiveVersion().Score
	_ = next.move(PhaseReady)
	ss.state.Store(next)

	metrics.RecordTraining(outcome)
	metrics.UpdatePredictorVersion(scope, next.Active)
	p.log.Info(ctx, "training finished", logger.Scope(scope), logger.String("outcome", outcome),
		logger.Int("version", version.Number), logger.Int("active", next.Active),
		logger.Float64("score", version.Score))
	return next.clone(), nil
}

// fit trains one model per metric with enough varied history. It fails
// only when no metric is trainable.
func (p *Predictor) fit(ctx context.Context, scope string, number int, history []model.MetricSnapshot, now time.Time) (*Version, error) {
	rng := rand.New(rand.NewSource(p.seedFor(scope, number))) //nolint:gosec // reproducible bagging
	v := &Version{Number: number, TrainedAt: now, Samples: len(history), Models: make(map[string]*MetricModel)}
	var errs []error
	total := 0.0
	for _, name := range model.SeriesNames {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled: %w", err)
		}
		m, err := fitMetric(rng, name, seriesOf(history, name), p.hyper)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		v.Models[name] = m
		total += m.Score
	}
	if len(v.Models) == 0 {
		return nil, fmt.Errorf("no trainable metric: %w", errors.Join(errs...))
	}
	v.Score = total / float64(len(v.Models))
	return v, nil
}

func (p *Predictor) seedFor(scope string, version int) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scope))
	return p.seed ^ int64(h.Sum64()>>1) ^ int64(version)
}

func newSamples(history []model.MetricSnapshot, since time.Time) int {
	n := 0
	for i := len(history) - 1; i >= 0 && history[i].Timestamp.After(since); i-- {
		n++
	}
	return n
}

// Forecast projects metric horizon steps past its latest observation in
// history using the active version's weights. horizon <= 0 uses the default.
func (p *Predictor) Forecast(scope, metric string, horizon int, history []model.MetricSnapshot, now time.Time) (Forecast, error) {
	st := p.entry(scope).state.Load()
	if st.Phase != PhaseReady && st.Phase != PhaseRetraining {
		return Forecast{}, fmt.Errorf("%w: scope %s is %s", ErrUnavailable, scope, st.Phase)
	}
	v := st.ActiveVersion()
	if v == nil {
		return Forecast{}, fmt.Errorf("%w: scope %s has no active version", ErrUnavailable, scope)
	}
	if metric == "" {
		metric = model.SeriesGradeScore
	}
	m, ok := v.Models[metric]
	if !ok {
		return Forecast{}, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}
	if horizon <= 0 {
		horizon = p.horizon
	}
	points, err := m.project(history, horizon)
	if err != nil {
		return Forecast{}, err
	}
	return Forecast{
		Scope: scope, Metric: metric, Version: v.Number, Score: m.Score,
		GeneratedAt: now, Points: points,
	}, nil
}

// Rollback makes an earlier trained version active again.
func (p *Predictor) Rollback(scope string, version int) error {
	ss := p.entry(scope)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	cur := ss.state.Load()
	if cur.Phase != PhaseReady {
		return fmt.Errorf("%w: rollback while %s", ErrInvalidTransition, cur.Phase)
	}
	v := cur.version(version)
	if v == nil {
		return fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	next := cur.clone()
	next.Active = v.Number
	next.EvaluationScore = v.Score
	ss.state.Store(next)
	metrics.UpdatePredictorVersion(scope, next.Active)
	return nil
}

// Deprecate retires the scope after its data was deleted. Trained versions
// are dropped with the data they were fitted on.
func (p *Predictor) Deprecate(scope string) *State {
	ss := p.entry(scope)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	next := ss.state.Load().clone()
	if next.Phase != PhaseDeprecated {
		_ = next.move(PhaseDeprecated)
	}
	next.Versions = nil
	next.Active = 0
	next.EvaluationScore = 0
	ss.state.Store(next)
	metrics.ForgetScope(scope)
	return next.clone()
}
