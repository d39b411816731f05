package dora

import (
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

// Stages is the staged lead time of one merged pull request.
type Stages struct {
	Code   time.Duration
	Review time.Duration
	Merge  time.Duration
}

// Total is the sum of the stages.
func (s Stages) Total() time.Duration { return s.Code + s.Review + s.Merge }

// stagesOf splits a merged pull request into code, review and merge time.
// Pull requests without an open event have no stages.
func stagesOf(p *pullRequest) (Stages, bool) {
	if p.merged == nil || p.opened == nil {
		return Stages{}, false
	}
	open := p.opened.Timestamp
	merged := p.merged.Timestamp

	var s Stages
	if len(p.commits) > 0 {
		first := p.commits[0].Timestamp
		for _, c := range p.commits[1:] {
			if c.Timestamp.Before(first) {
				first = c.Timestamp
			}
		}
		s.Code = nonNegative(open.Sub(first))
	}

	var firstReview, lastReview time.Time
	for _, r := range p.reviews {
		ts := r.Timestamp
		if ts.After(merged) {
			continue
		}
		if firstReview.IsZero() || ts.Before(firstReview) {
			firstReview = ts
		}
		if ts.After(lastReview) {
			lastReview = ts
		}
	}
	if firstReview.IsZero() {
		s.Merge = nonNegative(merged.Sub(open))
		return s, true
	}
	s.Review = nonNegative(firstReview.Sub(open))
	s.Merge = nonNegative(merged.Sub(lastReview))
	return s, true
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// StagesOf returns staged lead times for pull requests merged in [from, to).
func (e *Engine) StagesOf(events []model.CanonicalEvent, from, to time.Time) []Stages {
	return collectStages(buildIndex(events), from, to)
}

func collectStages(idx *index, from, to time.Time) []Stages {
	var out []Stages
	for _, p := range idx.mergedIn(from, to) {
		if s, ok := stagesOf(p); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) leadTime(idx *index, start, end time.Time) model.LeadTime {
	current := collectStages(idx, start, end)
	if len(current) == 0 {
		return model.LeadTime{Status: model.StatusInsufficient, Trend: insufficientTrend()}
	}
	prior := collectStages(idx, start.Add(-e.Window()), start)

	code := make([]float64, len(current))
	review := make([]float64, len(current))
	merge := make([]float64, len(current))
	total := make([]float64, len(current))
	for i, s := range current {
		code[i] = hours(s.Code)
		review[i] = hours(s.Review)
		merge[i] = hours(s.Merge)
		total[i] = hours(s.Total())
	}
	pct := stats.Percentiles(total, 50, 90, 95)

	lt := model.LeadTime{
		Status:      model.StatusOK,
		Samples:     len(current),
		CodeHours:   stats.Mean(code),
		ReviewHours: stats.Mean(review),
		MergeHours:  stats.Mean(merge),
		P50Hours:    pct[0],
		P90Hours:    pct[1],
		P95Hours:    pct[2],
	}
	// Reported total is the sum of the reported stage means.
	lt.TotalHours = lt.CodeHours + lt.ReviewHours + lt.MergeHours
	lt.Tier = leadTimeTier(lt.TotalHours)

	priorTotal := make([]float64, len(prior))
	for i, s := range prior {
		priorTotal[i] = hours(s.Total())
	}
	lt.Trend = trend(lt.TotalHours, stats.Mean(priorTotal), len(current), len(prior))
	return lt
}
