// Package anomaly flags unusual points in metric history with three
// independent methods and grades each point by how many methods agree.
package anomaly

import (
	"errors"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
)

// ErrNotEnoughData is returned by a detector given too short a history.
var ErrNotEnoughData = errors.New("not enough data")

// Point is one observation of a metric.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Series is a time-ordered metric history.
type Series struct {
	Metric string
	Points []Point
}

// Values returns the observation values.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Flag marks one point as anomalous for one method.
type Flag struct {
	Metric    string
	Index     int
	Timestamp time.Time
	Value     float64
	Score     float64
	Method    string
}

// Detector flags anomalous points. Multivariate detectors see all series of
// a scope at once; univariate ones handle each series on its own.
type Detector interface {
	Method() string
	Detect(series []Series) ([]Flag, error)
}

// ScopedDetector is a detector whose randomness is derived from the scope.
type ScopedDetector interface {
	Detector
	ForScope(scope string) Detector
}

// SeriesFromSnapshots extracts one series per tracked metric, skipping
// snapshots where the metric was not computable.
func SeriesFromSnapshots(history []model.MetricSnapshot) []Series {
	out := make([]Series, 0, len(model.SeriesNames))
	for _, name := range model.SeriesNames {
		s := Series{Metric: name}
		for _, snap := range history {
			if v, ok := snap.Value(name); ok {
				s.Points = append(s.Points, Point{Timestamp: snap.Timestamp, Value: v})
			}
		}
		out = append(out, s)
	}
	return out
}
