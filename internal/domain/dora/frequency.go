package dora

import (
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

// weeklyCounts buckets deployments into whole weeks ending at end, oldest first.
func weeklyCounts(deploys []model.CanonicalEvent, end time.Time, weeks int) []int {
	counts := make([]int, weeks)
	for _, d := range deploys {
		age := end.Sub(d.Timestamp)
		if age <= 0 {
			continue
		}
		k := int(age / week)
		if k < weeks {
			counts[weeks-1-k]++
		}
	}
	return counts
}

func (e *Engine) deploymentFrequency(idx *index, start, end time.Time) model.DeploymentFrequency {
	deploys := mergeEvents(idx.mergedIn(start, end))
	weeks := max(e.windowDays/7, 1)
	weekly := weeklyCounts(deploys, end, weeks)

	df := model.DeploymentFrequency{
		Status:      model.StatusOK,
		Deployments: len(deploys),
		PerDay:      float64(len(deploys)) / float64(e.windowDays),
		PerWeek:     float64(len(deploys)) / (float64(e.windowDays) / 7),
		Weekly:      weekly,
		SMA4:        stats.SMA(toFloats(weekly), smaPeriod),
	}
	df.Tier = frequencyTier(df.PerWeek)

	priorDeploys := mergeEvents(idx.mergedIn(start.Add(-e.Window()), start))
	priorWeekly := weeklyCounts(priorDeploys, start, weeks)
	df.Trend = trend(df.SMA4, stats.SMA(toFloats(priorWeekly), smaPeriod), len(deploys), len(priorDeploys))
	return df
}

// mergeEvents returns the merge event of each pull request. Only merges
// count toward deployment frequency; deploy proxies serve as failure
// lookback evidence.
func mergeEvents(prs []*pullRequest) []model.CanonicalEvent {
	out := make([]model.CanonicalEvent, len(prs))
	for i, p := range prs {
		out[i] = *p.merged
	}
	return out
}

func toFloats(xs []int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
