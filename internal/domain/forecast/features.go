package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

const (
	rollWindow  = 7
	maxLag      = 7
	numFeatures = 8
)

var lags = [...]int{1, 2, 3, 7}

// featureRow builds the inputs predicting the value at position t of vals,
// whose timestamp is at. vals[:t] must hold at least maxLag values.
func featureRow(vals []float64, t int, at time.Time) []float64 {
	row := make([]float64, 0, numFeatures)
	for _, l := range lags {
		row = append(row, vals[t-l])
	}
	angle := 2 * math.Pi * float64(at.Weekday()) / 7
	row = append(row, math.Sin(angle), math.Cos(angle))
	mean, std := stats.MeanStdDev(vals[t-rollWindow : t])
	return append(row, mean, std)
}

type series struct {
	times []time.Time
	vals  []float64
}

func seriesOf(history []model.MetricSnapshot, metric string) series {
	var s series
	for _, snap := range history {
		if v, ok := snap.Value(metric); ok {
			s.times = append(s.times, snap.Timestamp)
			s.vals = append(s.vals, v)
		}
	}
	return s
}

// dataset returns the supervised rows of s, oldest first.
func (s series) dataset() (x [][]float64, y []float64) {
	for t := maxLag; t < len(s.vals); t++ {
		x = append(x, featureRow(s.vals, t, s.times[t]))
		y = append(y, s.vals[t])
	}
	return x, y
}

// step is the median spacing of the series, a day when unknown.
func (s series) step() time.Duration {
	if len(s.times) < 2 {
		return 24 * time.Hour
	}
	gaps := make([]float64, 0, len(s.times)-1)
	for i := 1; i < len(s.times); i++ {
		gaps = append(gaps, float64(s.times[i].Sub(s.times[i-1])))
	}
	sort.Float64s(gaps)
	d := time.Duration(stats.Median(gaps))
	if d <= 0 {
		return 24 * time.Hour
	}
	return d
}
