package anomaly

import (
	"math"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

// maxScore caps scores against a flat history, where deviation is unbounded.
const maxScore = 1e6

// ZScore compares each point with the mean and deviation of the points
// preceding it.
type ZScore struct {
	Window    int
	Threshold float64
}

// NewZScore returns a rolling z-score detector.
func NewZScore(window int, threshold float64) *ZScore {
	return &ZScore{Window: window, Threshold: threshold}
}

func (z *ZScore) Method() string { return model.MethodZScore }

func (z *ZScore) Detect(series []Series) ([]Flag, error) {
	var flags []Flag
	enough := false
	for _, s := range series {
		if len(s.Points) < z.Window {
			continue
		}
		enough = true
		vals := s.Values()
		for i := z.Window; i < len(vals); i++ {
			mean, std := stats.MeanStdDev(vals[i-z.Window : i])
			score := deviation(vals[i], mean, std)
			if score > z.Threshold {
				flags = append(flags, Flag{
					Metric: s.Metric, Index: i, Timestamp: s.Points[i].Timestamp,
					Value: vals[i], Score: score, Method: z.Method(),
				})
			}
		}
	}
	if !enough {
		return nil, ErrNotEnoughData
	}
	return flags, nil
}

func deviation(v, mean, std float64) float64 {
	diff := math.Abs(v - mean)
	if std == 0 {
		if diff == 0 {
			return 0
		}
		return maxScore
	}
	return math.Min(diff/std, maxScore)
}
