package quality

import (
	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

func collaboration(w *window) model.CollaborationMetrics {
	if len(w.prs) == 0 && len(w.reviews) == 0 {
		return model.CollaborationMetrics{Status: model.StatusInsufficient, ResponseStatus: model.StatusInsufficient}
	}
	c := model.CollaborationMetrics{Status: model.StatusOK, Reviews: len(w.reviews)}

	reviewers := make(map[string]struct{})
	for _, r := range w.reviews {
		k, _ := r.PR()
		if r.Actor == "" || r.Actor == w.authors[k] {
			continue
		}
		reviewers[r.Actor] = struct{}{}
	}
	c.DistinctReviewers = len(reviewers)

	authors := make(map[string]struct{})
	var response []float64
	reviewsOnPRs := 0
	for _, p := range w.prs {
		if p.opened.Actor != "" {
			authors[p.opened.Actor] = struct{}{}
		}
		reviewsOnPRs += len(p.reviews)
		var first *model.CanonicalEvent
		for i := range p.reviews {
			r := &p.reviews[i]
			if r.Actor == p.opened.Actor {
				continue
			}
			if first == nil || r.Timestamp.Before(first.Timestamp) {
				first = r
			}
		}
		if first != nil {
			response = append(response, first.Timestamp.Sub(p.opened.Timestamp).Hours())
		}
	}
	c.DistinctAuthors = len(authors)
	if len(w.prs) > 0 {
		c.ReviewsPerPR = float64(reviewsOnPRs) / float64(len(w.prs))
	}
	if len(response) == 0 {
		c.ResponseStatus = model.StatusInsufficient
		return c
	}
	c.ResponseStatus = model.StatusOK
	c.ResponseHours = stats.Mean(response)
	return c
}
