package dora

import (
	"sort"
	"strings"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
)

// pullRequest gathers every event linked to one pull request.
type pullRequest struct {
	key     model.PRKey
	author  string
	opened  *model.CanonicalEvent
	merged  *model.CanonicalEvent
	commits []model.CanonicalEvent
	reviews []model.CanonicalEvent
}

// text is everything classification may look at: titles, bodies and commit messages.
func (p *pullRequest) text() string {
	var b strings.Builder
	if p.merged != nil {
		b.WriteString(p.merged.Text)
		b.WriteByte('\n')
	}
	if p.opened != nil {
		b.WriteString(p.opened.Text)
		b.WriteByte('\n')
	}
	for _, c := range p.commits {
		b.WriteString(c.Text)
		b.WriteByte('\n')
	}
	return strings.ToLower(b.String())
}

func (p *pullRequest) files() map[string]struct{} {
	out := make(map[string]struct{})
	add := func(e *model.CanonicalEvent) {
		if e == nil {
			return
		}
		for _, f := range e.Files {
			out[f] = struct{}{}
		}
	}
	add(p.merged)
	add(p.opened)
	for i := range p.commits {
		add(&p.commits[i])
	}
	return out
}

func (p *pullRequest) issues() map[string]struct{} {
	out := make(map[string]struct{})
	for _, e := range []*model.CanonicalEvent{p.merged, p.opened} {
		if e == nil {
			continue
		}
		for _, i := range e.Issues {
			out[i] = struct{}{}
		}
	}
	return out
}

// index is a read-only view of one event set.
type index struct {
	events      []model.CanonicalEvent
	prs         map[model.PRKey]*pullRequest
	merges      []*pullRequest // merged pull requests ordered by merge time
	deployments []model.CanonicalEvent
}

func buildIndex(events []model.CanonicalEvent) *index {
	idx := &index{events: events, prs: make(map[model.PRKey]*pullRequest)}
	get := func(k model.PRKey) *pullRequest {
		p, ok := idx.prs[k]
		if !ok {
			p = &pullRequest{key: k}
			idx.prs[k] = p
		}
		return p
	}

	for i := range events {
		e := events[i]
		if e.Kind.IsDeployment() {
			idx.deployments = append(idx.deployments, e)
		}
		k, linked := e.PR()
		if !linked {
			continue
		}
		p := get(k)
		switch e.Kind {
		case model.KindPROpen:
			if p.opened == nil || e.Timestamp.Before(p.opened.Timestamp) {
				p.opened = &events[i]
				p.author = e.Actor
			}
		case model.KindPRMerge:
			if p.merged == nil || e.Timestamp.Before(p.merged.Timestamp) {
				p.merged = &events[i]
			}
		case model.KindCommit:
			p.commits = append(p.commits, e)
		case model.KindReview:
			p.reviews = append(p.reviews, e)
		}
	}

	for _, p := range idx.prs {
		if p.merged != nil {
			idx.merges = append(idx.merges, p)
		}
	}
	sort.Slice(idx.merges, func(i, j int) bool {
		a, b := idx.merges[i].merged, idx.merges[j].merged
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
	return idx
}

// mergedIn returns pull requests merged in [from, to).
func (idx *index) mergedIn(from, to time.Time) []*pullRequest {
	var out []*pullRequest
	for _, p := range idx.merges {
		if within(p.merged.Timestamp, from, to) {
			out = append(out, p)
		}
	}
	return out
}

func (idx *index) anyIn(from, to time.Time) bool {
	for _, e := range idx.events {
		if within(e.Timestamp, from, to) {
			return true
		}
	}
	return false
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func hours(d time.Duration) float64 { return d.Hours() }
