package forecast

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

const (
	minRows      = 10
	holdoutShare = 0.2
	zInterval    = 1.96
)

// errNoVariance marks a series a model cannot learn anything from.
var errNoVariance = errors.New("insufficient variance")

// MetricModel forecasts one metric with a ridge + tree ensemble weighted by
// holdout fit.
type MetricModel struct {
	Metric       string        `json:"metric"`
	Ridge        *Ridge        `json:"ridge"`
	Forest       *Forest       `json:"forest"`
	RidgeWeight  float64       `json:"ridge_weight"`
	ForestWeight float64       `json:"forest_weight"`
	Score        float64       `json:"score"`
	Sigma        float64       `json:"sigma"`
	Tail         []float64     `json:"tail"`
	LastAt       time.Time     `json:"last_at"`
	Step         time.Duration `json:"step"`
}

type hyper struct {
	lambda float64
	trees  int
	depth  int
}

func fitMetric(rng *rand.Rand, metric string, s series, h hyper) (*MetricModel, error) {
	x, y := s.dataset()
	if len(y) < minRows {
		return nil, fmt.Errorf("%s: %w", metric, model.ErrDataInsufficient)
	}
	if stats.StdDev(y) == 0 {
		return nil, fmt.Errorf("%s: %w", metric, errNoVariance)
	}

	hold := max(2, int(float64(len(y))*holdoutShare))
	cut := len(y) - hold
	ridge, err := fitRidge(x[:cut], y[:cut], h.lambda)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", metric, err)
	}
	forest := fitForest(rng, x[:cut], y[:cut], h.trees, h.depth)

	rp := make([]float64, hold)
	fp := make([]float64, hold)
	for i := range rp {
		rp[i] = ridge.Predict(x[cut+i])
		fp[i] = forest.Predict(x[cut+i])
	}
	actual := y[cut:]
	wr := math.Max(stats.RSquared(rp, actual), 0)
	wf := math.Max(stats.RSquared(fp, actual), 0)
	if wr+wf == 0 {
		wr, wf = 1, 1
	}
	wr, wf = wr/(wr+wf), wf/(wr+wf)

	ens := make([]float64, hold)
	resid := make([]float64, hold)
	for i := range ens {
		ens[i] = wr*rp[i] + wf*fp[i]
		resid[i] = actual[i] - ens[i]
	}
	m := &MetricModel{
		Metric:       metric,
		RidgeWeight:  wr,
		ForestWeight: wf,
		Score:        stats.RSquared(ens, actual),
		Sigma:        stats.StdDev(resid),
		Tail:         append([]float64(nil), s.vals[len(s.vals)-maxLag:]...),
		LastAt:       s.times[len(s.times)-1],
		Step:         s.step(),
	}

	// Refit on every row now that the weights are known.
	if m.Ridge, err = fitRidge(x, y, h.lambda); err != nil {
		return nil, fmt.Errorf("%s: %w", metric, err)
	}
	m.Forest = fitForest(rng, x, y, h.trees, h.depth)

	if !finite(m.Score, m.Sigma, m.Ridge.Intercept) || !finite(m.Ridge.Coef...) {
		return nil, fmt.Errorf("%s: %w: non-finite fit", metric, model.ErrComputation)
	}
	return m, nil
}

func (m *MetricModel) predict(row []float64) float64 {
	return m.RidgeWeight*m.Ridge.Predict(row) + m.ForestWeight*m.Forest.Predict(row)
}

// Point is one forecast step.
type Point struct {
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
}

// anchor returns the lags, last observation time and spacing a projection
// starts from: the latest observations in history when they are newer than
// the training data, else the tail captured at training time.
func (m *MetricModel) anchor(history []model.MetricSnapshot) (tail []float64, last time.Time, step time.Duration) {
	s := seriesOf(history, m.Metric)
	n := len(s.vals)
	if n < maxLag || !s.times[n-1].After(m.LastAt) {
		return m.Tail, m.LastAt, m.Step
	}
	return s.vals[n-maxLag:], s.times[n-1], s.step()
}

// project forecasts horizon steps past the latest observation in history by
// feeding predictions back as lags.
func (m *MetricModel) project(history []model.MetricSnapshot, horizon int) ([]Point, error) {
	tail, last, step := m.anchor(history)
	vals := append([]float64(nil), tail...)
	out := make([]Point, 0, horizon)
	for k := 1; k <= horizon; k++ {
		at := last.Add(time.Duration(k) * step)
		v := m.predict(featureRow(vals, len(vals), at))
		if !finite(v) {
			return nil, fmt.Errorf("%s step %d: %w", m.Metric, k, model.ErrComputation)
		}
		vals = append(vals, v)
		band := zInterval * m.Sigma * math.Sqrt(float64(k))
		out = append(out, Point{Step: k, Timestamp: at, Value: v, Lower: v - band, Upper: v + band})
	}
	return out, nil
}

func (v *Version) metricNames() []string {
	names := make([]string, 0, len(v.Models))
	for name := range v.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
