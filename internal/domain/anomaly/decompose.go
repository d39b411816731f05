package anomaly

import (
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

// Decomposition removes a centred moving-average trend and a weekday
// seasonal profile, then flags residuals outside a sigma band.
type Decomposition struct {
	MinPoints int
	Period    int
	Sigma     float64
}

// NewDecomposition returns a weekly-seasonal decomposition detector.
func NewDecomposition(minPoints int, sigma float64) *Decomposition {
	return &Decomposition{MinPoints: minPoints, Period: 7, Sigma: sigma}
}

func (d *Decomposition) Method() string { return model.MethodDecomposition }

func (d *Decomposition) Detect(series []Series) ([]Flag, error) {
	var flags []Flag
	enough := false
	for _, s := range series {
		if len(s.Points) < d.MinPoints {
			continue
		}
		enough = true
		resid := d.residuals(s)
		mean, std := stats.MeanStdDev(resid)
		for i, r := range resid {
			score := deviation(r, mean, std)
			if score > d.Sigma {
				flags = append(flags, Flag{
					Metric: s.Metric, Index: i, Timestamp: s.Points[i].Timestamp,
					Value: s.Points[i].Value, Score: score, Method: d.Method(),
				})
			}
		}
	}
	if !enough {
		return nil, ErrNotEnoughData
	}
	return flags, nil
}

// residuals returns value - trend - seasonal for each point.
func (d *Decomposition) residuals(s Series) []float64 {
	vals := s.Values()
	n := len(vals)
	half := d.Period / 2

	trend := make([]float64, n)
	for i := range vals {
		lo := max(0, i-half)
		hi := min(n, i+half+1)
		trend[i] = stats.Mean(vals[lo:hi])
	}

	var byDay [7][]float64
	for i, p := range s.Points {
		wd := p.Timestamp.Weekday()
		byDay[wd] = append(byDay[wd], vals[i]-trend[i])
	}
	var seasonal [7]float64
	var dayMeans []float64
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if len(byDay[wd]) > 0 {
			seasonal[wd] = stats.Mean(byDay[wd])
			dayMeans = append(dayMeans, seasonal[wd])
		}
	}
	// Centre the seasonal profile so it carries no level of its own.
	offset := stats.Mean(dayMeans)
	for wd := range seasonal {
		seasonal[wd] -= offset
	}

	resid := make([]float64, n)
	for i, p := range s.Points {
		resid[i] = vals[i] - trend[i] - seasonal[p.Timestamp.Weekday()]
	}
	return resid
}
