package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

const (
	defaultMinPoints     = 10
	defaultZWindow       = 10
	defaultZThreshold    = 2.5
	defaultSigma         = 2.5
	defaultContamination = 0.1
)

// Option configures an Ensemble.
type Option func(*Ensemble)

// WithDetectors replaces the default detectors.
func WithDetectors(detectors ...Detector) Option {
	return func(e *Ensemble) {
		if len(detectors) > 0 {
			e.detectors = detectors
		}
	}
}

// WithMinPoints sets the shortest history analysed.
func WithMinPoints(n int) Option {
	return func(e *Ensemble) {
		if n > 0 {
			e.minPoints = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Ensemble) {
		if l != nil {
			e.log = l
		}
	}
}

// Ensemble runs every detector and grades each flagged point by the number
// of methods that agree on it.
type Ensemble struct {
	detectors []Detector
	minPoints int
	log       logger.Logger
}

// New returns an ensemble of z-score, isolation forest and decomposition.
func New(opts ...Option) *Ensemble {
	e := &Ensemble{minPoints: defaultMinPoints}
	for _, opt := range opts {
		opt(e)
	}
	if e.detectors == nil {
		e.detectors = []Detector{
			NewZScore(defaultZWindow, defaultZThreshold),
			NewIsolation(e.minPoints, defaultContamination),
			NewDecomposition(e.minPoints, defaultSigma),
		}
	}
	if e.log == nil {
		e.log = logger.Get().Named("anomaly")
	}
	return e
}

type pointKey struct {
	metric string
	at     int64
}

// Detect analyses a scope's snapshot history and returns one record per
// (point, method). A history shorter than the minimum yields no records.
func (e *Ensemble) Detect(ctx context.Context, scope string, history []model.MetricSnapshot, detectedAt time.Time) ([]model.AnomalyRecord, error) {
	if len(history) < e.minPoints {
		return nil, nil
	}
	series := SeriesFromSnapshots(history)

	var flags []Flag
	for _, d := range e.detectors {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled: %w", err)
		}
		got, err := e.run(d, scope, series)
		if err != nil {
			if !errors.Is(err, ErrNotEnoughData) {
				e.log.Warn(ctx, "detector failed",
					logger.Scope(scope), logger.String("method", d.Method()), logger.Error(err))
			}
			continue
		}
		flags = append(flags, got...)
	}

	methods := make(map[pointKey]map[string]struct{})
	for _, f := range flags {
		k := pointKey{metric: f.Metric, at: f.Timestamp.UnixNano()}
		if methods[k] == nil {
			methods[k] = make(map[string]struct{})
		}
		methods[k][f.Method] = struct{}{}
	}

	records := make([]model.AnomalyRecord, 0, len(flags))
	for _, f := range flags {
		sev := model.Severity(len(methods[pointKey{metric: f.Metric, at: f.Timestamp.UnixNano()}]))
		records = append(records, model.AnomalyRecord{
			ID:         uuid.NewString(),
			Scope:      scope,
			Metric:     f.Metric,
			Timestamp:  f.Timestamp,
			Value:      f.Value,
			Score:      f.Score,
			Method:     f.Method,
			Severity:   sev,
			DetectedAt: detectedAt,
		})
		metrics.RecordAnomalies(f.Method, sev.String(), 1)
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Method < b.Method
	})
	return records, nil
}

// run contains a detector panic to that method.
func (e *Ensemble) run(d Detector, scope string, series []Series) (flags []Flag, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s detector: %v", model.ErrComputation, d.Method(), r)
		}
	}()
	if sd, ok := d.(ScopedDetector); ok {
		d = sd.ForScope(scope)
	}
	return d.Detect(series)
}
