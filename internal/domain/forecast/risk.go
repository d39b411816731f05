package forecast

import (
	"gonum.org/v1/gonum/stat"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const (
	riskMinHistory = 10
	riskRecent     = 5
)

// Risk compares recent grade scores with the scores before them.
type Risk struct {
	Status     model.Status `json:"status"`
	Level      string       `json:"level,omitempty"`
	ChangePct  float64      `json:"change_pct"`
	RecentAvg  float64      `json:"recent_avg"`
	OlderAvg   float64      `json:"older_avg"`
	Volatility string       `json:"volatility,omitempty"`
	Confidence float64      `json:"confidence"`
}

// DegradationRisk grades the decline of the last five grade scores against
// the older ones. Scores of zero are treated as missing.
func DegradationRisk(history []model.MetricSnapshot) Risk {
	if len(history) < riskMinHistory {
		return Risk{Status: model.StatusInsufficient}
	}
	var scores []float64
	for _, s := range history {
		if s.Grade.Status == model.StatusOK && s.Grade.Score > 0 {
			scores = append(scores, s.Grade.Score)
		}
	}
	if len(scores) < riskRecent {
		return Risk{Status: model.StatusInsufficient}
	}

	recent := scores[len(scores)-riskRecent:]
	older := scores[:len(scores)-riskRecent]
	if len(older) == 0 {
		older = scores[:len(scores)/2]
	}
	r := Risk{Status: model.StatusOK, RecentAvg: stats.Mean(recent), OlderAvg: stats.Mean(older)}
	if len(older) == 0 {
		r.OlderAvg = r.RecentAvg
	}
	if r.OlderAvg > 0 {
		r.ChangePct = (r.RecentAvg - r.OlderAvg) / r.OlderAvg * 100
	}
	switch {
	case r.ChangePct < -15:
		r.Level = RiskHigh
	case r.ChangePct < -5:
		r.Level = RiskMedium
	default:
		r.Level = RiskLow
	}

	_, std := stat.PopMeanStdDev(scores, nil)
	switch {
	case std > 15:
		r.Volatility = RiskHigh
	case std > 8:
		r.Volatility = RiskMedium
	default:
		r.Volatility = RiskLow
	}
	r.Confidence = stats.Clamp(100-std, 10, 100)
	r.ChangePct = stats.Round(r.ChangePct, 2)
	r.RecentAvg = stats.Round(r.RecentAvg, 1)
	r.OlderAvg = stats.Round(r.OlderAvg, 1)
	return r
}
