package scoring

import "github.com/okian/devpulse/internal/domain/model"

// Points per DORA tier; each DORA metric is worth 10.
var tierPoints = map[model.Tier]float64{
	model.TierElite:  10,
	model.TierHigh:   8,
	model.TierMedium: 6,
	model.TierLow:    3,
}

const doraMetricMax = 10

type accumulator struct {
	score model.CategoryScore
}

func (a *accumulator) add(ok bool, points, maxPoints float64) {
	if !ok {
		return
	}
	a.score.Points += points
	a.score.Max += maxPoints
}

func doraScore(d model.DORAMetrics) model.CategoryScore {
	a := accumulator{score: model.CategoryScore{Name: CategoryDORA}}
	for _, m := range []struct {
		status model.Status
		tier   model.Tier
	}{
		{d.LeadTime.Status, d.LeadTime.Tier},
		{d.DeploymentFrequency.Status, d.DeploymentFrequency.Tier},
		{d.ChangeFailureRate.Status, d.ChangeFailureRate.Tier},
		{d.MTTR.Status, d.MTTR.Tier},
	} {
		a.add(m.status == model.StatusOK, tierPoints[m.tier], doraMetricMax)
	}
	return a.score
}

func qualityScore(q model.QualityMetrics) model.CategoryScore {
	a := accumulator{score: model.CategoryScore{Name: CategoryQuality}}

	rc := q.ReviewCoverage
	a.add(rc.Status == model.StatusOK, band(rc.Pct >= 90, 10, rc.Pct >= 70, 8, 5), 10)

	cs := q.CommitSizes
	a.add(cs.Status == model.StatusOK, band(cs.LargePct <= 10, 8, cs.LargePct <= 25, 6, 3), 8)
	a.add(cs.FileSamples > 0, band(cs.AvgFilesPerCommit <= 5, 7, false, 0, 4), 7)
	return a.score
}

func productivityScore(p model.ProductivityMetrics) model.CategoryScore {
	a := accumulator{score: model.CategoryScore{Name: CategoryProductivity}}
	ok := p.Status == model.StatusOK
	a.add(ok, band(p.WorkPatternScore >= 80, 10, p.WorkPatternScore >= 60, 8, 5), 10)
	a.add(ok, band(p.Streak >= 7, 10, p.Streak >= 3, 7, 4), 10)
	return a.score
}

func collaborationScore(c model.CollaborationMetrics) model.CategoryScore {
	a := accumulator{score: model.CategoryScore{Name: CategoryCollaboration}}
	a.add(c.Status == model.StatusOK, band(c.DistinctReviewers >= 5, 8, c.DistinctReviewers >= 2, 6, 3), 8)
	a.add(c.ResponseStatus == model.StatusOK, band(c.ResponseHours <= 24, 7, c.ResponseHours <= 72, 5, 2), 7)
	return a.score
}

// band picks the first satisfied tier, falling back to the last value.
func band(top bool, topPts float64, mid bool, midPts, rest float64) float64 {
	switch {
	case top:
		return topPts
	case mid:
		return midPts
	}
	return rest
}
