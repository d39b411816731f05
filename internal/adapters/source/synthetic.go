package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
)

const day = 24 * time.Hour

var (
	featureTitles = []string{
		"feat: add pagination to list endpoint",
		"refactor: split handler package",
		"chore: bump dependencies",
		"feat: cache user lookups",
		"docs: document config keys",
		"perf: avoid copying request body",
	}
	failureTitles = []string{
		"Revert \"feat: cache user lookups\"",
		"hotfix: nil pointer on empty payload",
		"fix bug in retry backoff",
		"patch: tighten input validation",
		"emergency rollback of schema change",
	}
	actors = []string{"ana", "bo", "chen", "dara", "eli", "fay"}
)

// Profile shapes the activity a synthetic repository produces.
type Profile struct {
	// PRsPerDay is the mean number of pull requests opened per day.
	PRsPerDay float64
	// FailureShare is the fraction of pull requests titled as fixes or reverts.
	FailureShare float64
	// ReviewShare is the fraction of pull requests that receive a review.
	ReviewShare float64
	// DeployEvery emits a release every n days; 0 disables releases.
	DeployEvery int
}

// DefaultProfile is a moderately active repository.
func DefaultProfile() Profile {
	return Profile{PRsPerDay: 1.5, FailureShare: 0.1, ReviewShare: 0.85, DeployEvery: 7}
}

// Synthetic generates reproducible activity: the events of a repository on
// a given day are always the same, so re-fetching yields the same IDs.
type Synthetic struct {
	profile Profile
	now     func() time.Time
}

// NewSynthetic creates a synthetic fetcher. now bounds generated events.
func NewSynthetic(profile Profile, now func() time.Time) *Synthetic {
	if now == nil {
		now = time.Now
	}
	return &Synthetic{profile: profile, now: now}
}

// Fetch returns the repository's events between since and now.
func (s *Synthetic) Fetch(ctx context.Context, repo string, since time.Time) ([]model.RawEvent, error) {
	now := s.now().UTC()
	var out []model.RawEvent
	for d := since.UTC().Truncate(day); !d.After(now); d = d.Add(day) {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("synthetic fetch %s: %w", repo, err)
		}
		for _, ev := range s.dayEvents(repo, d) {
			ts, _ := time.Parse(time.RFC3339, ev.Timestamp)
			if !ts.Before(since) && !ts.After(now) {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func (s *Synthetic) dayEvents(repo string, d time.Time) []model.RawEvent {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s", repo, d.Format(time.DateOnly))
	rng := rand.New(rand.NewSource(int64(h.Sum64() >> 1))) //nolint:gosec // reproducible fixtures
	dayNo := int(d.Unix() / int64(day/time.Second))

	var out []model.RawEvent
	emit := func(kind, suffix string, at time.Time, ev model.RawEvent) {
		ev.ID = fmt.Sprintf("%s:%s:%s", repo, d.Format("20060102"), suffix)
		ev.Repo = repo
		ev.Type = kind
		ev.Timestamp = at.Format(time.RFC3339)
		out = append(out, ev)
	}

	prs := rng.Intn(int(2*s.profile.PRsPerDay) + 1)
	for j := 0; j < prs; j++ {
		number := dayNo*10 + j
		author := actors[rng.Intn(len(actors))]
		title := featureTitles[rng.Intn(len(featureTitles))]
		if rng.Float64() < s.profile.FailureShare {
			title = failureTitles[rng.Intn(len(failureTitles))]
		}
		files := []string{fmt.Sprintf("pkg/mod%d/file.go", rng.Intn(6))}
		issues := []string{fmt.Sprintf("#%d", 100+rng.Intn(20))}
		open := d.Add(time.Duration(8+rng.Intn(10)) * time.Hour)

		commits := 1 + rng.Intn(3)
		for k := 0; k < commits; k++ {
			add, del := rng.Intn(180), rng.Intn(60)
			at := open.Add(-time.Duration(1+rng.Intn(20)) * time.Hour)
			emit("commit", fmt.Sprintf("pr%d:c%d", number, k), at, model.RawEvent{
				Actor: author, Message: title, PRNumber: number,
				Additions: &add, Deletions: &del, Files: files, Issues: issues,
			})
		}
		emit("pull_request.opened", fmt.Sprintf("pr%d:open", number), open, model.RawEvent{
			Actor: author, Title: title, PRNumber: number, Files: files, Issues: issues,
		})

		last := open
		if rng.Float64() < s.profile.ReviewShare {
			reviews := 1 + rng.Intn(2)
			for k := 0; k < reviews; k++ {
				last = last.Add(time.Duration(1+rng.Intn(12)) * time.Hour)
				reviewer := actors[rng.Intn(len(actors))]
				emit("pull_request_review", fmt.Sprintf("pr%d:r%d", number, k), last, model.RawEvent{
					Actor: reviewer, PRNumber: number,
				})
			}
		}
		emit("pull_request.merged", fmt.Sprintf("pr%d:merge", number), last.Add(time.Duration(1+rng.Intn(6))*time.Hour),
			model.RawEvent{Actor: author, Title: title, PRNumber: number, Files: files, Issues: issues})
	}

	if s.profile.DeployEvery > 0 && dayNo%s.profile.DeployEvery == 0 {
		emit("release", "release", d.Add(20*time.Hour), model.RawEvent{Actor: "ci", Title: "release"})
	}

	// Lone commits outside pull requests.
	direct := rng.Intn(3)
	for k := 0; k < direct; k++ {
		add := rng.Intn(400)
		emit("commit", fmt.Sprintf("direct%d", k), d.Add(time.Duration(rng.Intn(24))*time.Hour), model.RawEvent{
			Actor: actors[rng.Intn(len(actors))], Message: "chore: tidy", Additions: &add,
		})
	}
	return out
}
