package dora

import (
	"sort"
	"strings"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

// Category is one failure class of the lexicon and the keywords that mark it.
type Category struct {
	Name     string
	Keywords []string
}

// DefaultLexicon returns the failure categories in priority order.
func DefaultLexicon() []Category {
	return []Category{
		{Name: "revert", Keywords: []string{"revert", "rollback"}},
		{Name: "hotfix", Keywords: []string{"hotfix", "emergency"}},
		{Name: "bugfix", Keywords: []string{"bug"}},
		{Name: "patch", Keywords: []string{"patch"}},
	}
}

// classify returns the highest-priority category matched by text.
func classify(lexicon []Category, text string) (string, bool) {
	for _, c := range lexicon {
		for _, kw := range c.Keywords {
			if strings.Contains(text, kw) {
				return c.Name, true
			}
		}
	}
	return "", false
}

type failure struct {
	pr       *pullRequest
	category string
}

// followsDeploy reports whether a deployment other than the merge itself
// happened in [at-lookback, at).
func (idx *index) followsDeploy(merge *model.CanonicalEvent, lookback time.Duration) bool {
	from := merge.Timestamp.Add(-lookback)
	for _, d := range idx.deployments {
		if d.ID == merge.ID {
			continue
		}
		if within(d.Timestamp, from, merge.Timestamp) {
			return true
		}
	}
	return false
}

func (e *Engine) changeFailureRate(idx *index, start, end time.Time) (model.ChangeFailureRate, []failure) {
	merged := idx.mergedIn(start, end)
	if len(merged) == 0 {
		return model.ChangeFailureRate{Status: model.StatusInsufficient}, nil
	}

	cfr := model.ChangeFailureRate{
		Status:     model.StatusOK,
		Merges:     len(merged),
		ByCategory: make(map[string]int),
	}
	var failures []failure
	for _, p := range merged {
		cat, ok := classify(e.lexicon, p.text())
		if !ok || !idx.followsDeploy(p.merged, e.lookback) {
			continue
		}
		failures = append(failures, failure{pr: p, category: cat})
		cfr.ByCategory[cat]++
		cfr.FailedPRs = append(cfr.FailedPRs, p.key.Number)
	}
	cfr.Failures = len(failures)
	cfr.RatePct = float64(cfr.Failures) / float64(cfr.Merges) * 100
	cfr.Tier = failureRateTier(cfr.RatePct)
	return cfr, failures
}

// fixFor returns the earliest merge after f, within the horizon, that
// touches a shared file or issue.
func (idx *index) fixFor(f failure, horizon time.Duration) (*pullRequest, bool) {
	at := f.pr.merged.Timestamp
	limit := at.Add(horizon)
	files := f.pr.files()
	issues := f.pr.issues()

	// merges are ordered by merge time; the first match is the earliest.
	i := sort.Search(len(idx.merges), func(i int) bool {
		return idx.merges[i].merged.Timestamp.After(at)
	})
	for ; i < len(idx.merges); i++ {
		m := idx.merges[i]
		if m.merged.Timestamp.After(limit) {
			break
		}
		if m == f.pr {
			continue
		}
		if overlaps(files, m.files()) || overlaps(issues, m.issues()) {
			return m, true
		}
	}
	return nil, false
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func (e *Engine) mttr(idx *index, failures []failure) model.MTTR {
	out := model.MTTR{Incidents: len(failures)}
	var recovery []float64
	for _, f := range failures {
		fix, ok := idx.fixFor(f, e.horizon)
		if !ok {
			out.Open++
			continue
		}
		recovery = append(recovery, hours(fix.merged.Timestamp.Sub(f.pr.merged.Timestamp)))
	}
	out.Resolved = len(recovery)
	if out.Resolved == 0 {
		out.Status = model.StatusInsufficient
		return out
	}
	pct := stats.Percentiles(recovery, 50, 90, 95)
	out.Status = model.StatusOK
	out.MeanHours = stats.Mean(recovery)
	out.P50Hours, out.P90Hours, out.P95Hours = pct[0], pct[1], pct[2]
	out.Tier = mttrTier(out.MeanHours)
	return out
}
