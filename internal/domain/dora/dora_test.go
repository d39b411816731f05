package dora

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
	_ = logger.SetLevelString("error")
}

var now = time.Date(2026, 3, 29, 0, 0, 0, 0, time.UTC)

type builder struct {
	events []model.CanonicalEvent
	seq    int
}

func (b *builder) add(kind model.EventKind, pr int, at time.Time, text string, files ...string) *builder {
	b.seq++
	b.events = append(b.events, model.CanonicalEvent{
		ID:        fmt.Sprintf("e%d", b.seq),
		Repo:      "org/api",
		Kind:      kind,
		Timestamp: at,
		Actor:     "dev",
		Text:      text,
		LinkedPR:  pr,
		Files:     files,
	})
	return b
}

// pr adds a full pull request lifecycle relative to open.
func (b *builder) pr(n int, open time.Time, text string, files ...string) *builder {
	b.add(model.KindCommit, n, open.Add(-2*time.Hour), text, files...)
	b.add(model.KindPROpen, n, open, text, files...)
	b.add(model.KindReview, n, open.Add(3*time.Hour), "")
	b.add(model.KindReview, n, open.Add(6*time.Hour), "")
	b.add(model.KindPRMerge, n, open.Add(8*time.Hour), text, files...)
	return b
}

func TestEmptyWindow(t *testing.T) {
	Convey("Given no events in the window", t, func() {
		e := New()
		old := (&builder{}).pr(1, now.AddDate(0, -6, 0), "feature")
		for _, events := range [][]model.CanonicalEvent{nil, old.events} {
			m := e.Compute(context.Background(), events, now)

			So(m.LeadTime.Status, ShouldEqual, model.StatusInsufficient)
			So(m.DeploymentFrequency.Status, ShouldEqual, model.StatusInsufficient)
			So(m.ChangeFailureRate.Status, ShouldEqual, model.StatusInsufficient)
			So(m.MTTR.Status, ShouldEqual, model.StatusInsufficient)
			So(m.LeadTime.TotalHours, ShouldEqual, 0)
		}
	})
}

func TestLeadTimeStages(t *testing.T) {
	Convey("Given merged pull requests", t, func() {
		e := New()

		Convey("Stages split at open, first review, last review and merge", func() {
			b := (&builder{}).pr(1, now.Add(-48*time.Hour), "feature")
			m := e.Compute(context.Background(), b.events, now)

			lt := m.LeadTime
			So(lt.Status, ShouldEqual, model.StatusOK)
			So(lt.Samples, ShouldEqual, 1)
			So(lt.CodeHours, ShouldEqual, 2)
			So(lt.ReviewHours, ShouldEqual, 3)
			So(lt.MergeHours, ShouldEqual, 2)
			So(lt.TotalHours, ShouldEqual, lt.CodeHours+lt.ReviewHours+lt.MergeHours)
			So(lt.Tier, ShouldEqual, model.TierElite)

			Convey("And a single-sample window skips the trend", func() {
				So(lt.Trend.Status, ShouldEqual, model.StatusInsufficient)
			})
		})

		Convey("Without reviews the merge stage runs from open", func() {
			b := &builder{}
			open := now.Add(-72 * time.Hour)
			b.add(model.KindPROpen, 4, open, "x")
			b.add(model.KindPRMerge, 4, open.Add(30*time.Hour), "x")
			stages := e.StagesOf(b.events, now.Add(-e.Window()), now)

			So(stages, ShouldHaveLength, 1)
			So(stages[0].Code, ShouldEqual, 0)
			So(stages[0].Review, ShouldEqual, 0)
			So(stages[0].Merge, ShouldEqual, 30*time.Hour)
			So(stages[0].Total(), ShouldEqual, 30*time.Hour)
		})

		Convey("Stage sums equal totals for every sample", func() {
			b := &builder{}
			for i := 1; i <= 6; i++ {
				open := now.Add(-time.Duration(i*30) * time.Hour)
				b.add(model.KindCommit, i, open.Add(-time.Duration(i)*time.Hour), "c")
				b.add(model.KindPROpen, i, open, "p")
				b.add(model.KindReview, i, open.Add(time.Duration(i)*time.Hour), "")
				b.add(model.KindPRMerge, i, open.Add(time.Duration(2*i)*time.Hour), "m")
			}
			for _, s := range e.StagesOf(b.events, now.Add(-e.Window()), now) {
				So(s.Total(), ShouldEqual, s.Code+s.Review+s.Merge)
			}
			m := e.Compute(context.Background(), b.events, now)
			So(m.LeadTime.P50Hours, ShouldBeGreaterThan, 0)
			So(m.LeadTime.P95Hours, ShouldBeGreaterThanOrEqualTo, m.LeadTime.P50Hours)
		})

		Convey("A slower current window reads as an increasing trend", func() {
			b := &builder{}
			for i := 0; i < 3; i++ {
				b.add(model.KindPROpen, 10+i, now.Add(-40*24*time.Hour+time.Duration(i)*time.Hour), "p")
				b.add(model.KindPRMerge, 10+i, now.Add(-40*24*time.Hour+time.Duration(i)*time.Hour+2*time.Hour), "m")
				b.add(model.KindPROpen, 20+i, now.Add(-5*24*time.Hour+time.Duration(i)*time.Hour), "p")
				b.add(model.KindPRMerge, 20+i, now.Add(-5*24*time.Hour+time.Duration(i)*time.Hour+10*time.Hour), "m")
			}
			lt := e.Compute(context.Background(), b.events, now).LeadTime
			So(lt.Trend.Status, ShouldEqual, model.StatusOK)
			So(lt.Trend.Direction, ShouldEqual, model.TrendIncreasing)
			So(lt.Trend.Prior, ShouldEqual, 2)
			So(lt.Trend.Current, ShouldEqual, 10)
		})
	})
}

func mergesPerWeek(perWeek, weeks int) []model.CanonicalEvent {
	b := &builder{}
	for w := 0; w < weeks; w++ {
		for i := 0; i < perWeek; i++ {
			at := now.Add(-time.Duration(w)*week - time.Duration(i+1)*10*time.Hour)
			b.add(model.KindPRMerge, w*100+i+1, at, "feature")
		}
	}
	return b.events
}

func TestDeploymentFrequency(t *testing.T) {
	Convey("Given a sustained merge cadence over the 4-week window", t, func() {
		e := New()

		Convey("11 per week is elite", func() {
			df := e.Compute(context.Background(), mergesPerWeek(11, 4), now).DeploymentFrequency
			So(df.Status, ShouldEqual, model.StatusOK)
			So(df.PerWeek, ShouldEqual, 11)
			So(df.Weekly, ShouldResemble, []int{11, 11, 11, 11})
			So(df.SMA4, ShouldEqual, 11)
			So(df.Tier, ShouldEqual, model.TierElite)
		})

		Convey("10 per week is high", func() {
			df := e.Compute(context.Background(), mergesPerWeek(10, 4), now).DeploymentFrequency
			So(df.PerWeek, ShouldEqual, 10)
			So(df.Tier, ShouldEqual, model.TierHigh)
		})

		Convey("Other bands", func() {
			So(frequencyTier(3), ShouldEqual, model.TierHigh)
			So(frequencyTier(2.9), ShouldEqual, model.TierMedium)
			So(frequencyTier(1), ShouldEqual, model.TierMedium)
			So(frequencyTier(0.5), ShouldEqual, model.TierLow)
		})

		Convey("Deploy proxies do not count as deployments", func() {
			b := &builder{}
			b.add(model.KindDeployProxy, 0, now.Add(-time.Hour), "v1.2.0")
			df := e.Compute(context.Background(), b.events, now).DeploymentFrequency
			So(df.Deployments, ShouldEqual, 0)
			So(df.PerDay, ShouldEqual, 0)
		})

		Convey("Releases alongside 10 merges per week stay high", func() {
			events := mergesPerWeek(10, 4)
			b := &builder{seq: len(events)}
			for w := 0; w < 4; w++ {
				b.add(model.KindDeployProxy, 0, now.Add(-time.Duration(w)*week-time.Hour), "release")
			}
			events = append(events, b.events...)
			df := e.Compute(context.Background(), events, now).DeploymentFrequency
			So(df.Deployments, ShouldEqual, 40)
			So(df.PerWeek, ShouldEqual, 10)
			So(df.Tier, ShouldEqual, model.TierHigh)
		})

		Convey("Doubling cadence reads as increasing", func() {
			events := mergesPerWeek(6, 8)
			for i := range events {
				if now.Sub(events[i].Timestamp) < 4*week {
					continue
				}
				events[i].Kind = model.KindCommit
			}
			events = append(events, mergesPerWeek(3, 8)...)
			// Re-id the second batch so ids stay unique.
			for i := range events {
				events[i].ID = fmt.Sprintf("id-%d", i)
			}
			df := e.Compute(context.Background(), events, now).DeploymentFrequency
			So(df.Trend.Status, ShouldEqual, model.StatusOK)
			So(df.Trend.Direction, ShouldEqual, model.TrendIncreasing)
		})
	})
}

func TestChangeFailureRate(t *testing.T) {
	Convey("Given merges with failure wording", t, func() {
		e := New()
		base := now.Add(-10 * 24 * time.Hour)
		b := &builder{}
		b.add(model.KindPRMerge, 1, base, "Fix bug in parser", "parser.go") // no prior deploy
		b.add(model.KindPRMerge, 2, base.Add(24*time.Hour), "Add endpoint", "api.go")
		b.add(model.KindPRMerge, 3, base.Add(48*time.Hour), "Revert hotfix for api", "api.go")
		b.add(model.KindPRMerge, 4, base.Add(50*time.Hour), "Emergency patch", "db.go")
		b.add(model.KindPRMerge, 5, base.Add(53*time.Hour), "tidy api", "api.go")

		m := e.Compute(context.Background(), b.events, now)
		cfr := m.ChangeFailureRate

		Convey("Only lexicon matches after a prior deploy are failures", func() {
			So(cfr.Status, ShouldEqual, model.StatusOK)
			So(cfr.Merges, ShouldEqual, 5)
			So(cfr.Failures, ShouldEqual, 2)
			So(cfr.RatePct, ShouldEqual, 40)
			So(cfr.FailedPRs, ShouldResemble, []int{3, 4})
			So(cfr.Tier, ShouldEqual, model.TierLow)
		})

		Convey("Each failure is counted once under its highest category", func() {
			So(cfr.ByCategory, ShouldResemble, map[string]int{"revert": 1, "hotfix": 1})
		})

		Convey("MTTR pairs failures with the earliest overlapping merge", func() {
			So(m.MTTR.Status, ShouldEqual, model.StatusOK)
			So(m.MTTR.Incidents, ShouldEqual, 2)
			So(m.MTTR.Resolved, ShouldEqual, 1)
			So(m.MTTR.Open, ShouldEqual, 1)
			So(m.MTTR.MeanHours, ShouldEqual, 5)
			So(m.MTTR.P50Hours, ShouldEqual, 5)
			So(m.MTTR.Tier, ShouldEqual, model.TierHigh)
		})
	})

	Convey("Given failures that are never fixed", t, func() {
		b := &builder{}
		b.add(model.KindPRMerge, 1, now.Add(-48*time.Hour), "feature", "a.go")
		b.add(model.KindPRMerge, 2, now.Add(-24*time.Hour), "rollback feature", "a.go")
		m := New().Compute(context.Background(), b.events, now)

		So(m.ChangeFailureRate.Failures, ShouldEqual, 1)
		So(m.MTTR.Status, ShouldEqual, model.StatusInsufficient)
		So(m.MTTR.Open, ShouldEqual, 1)
	})

	Convey("Given activity but no merges", t, func() {
		b := &builder{}
		b.add(model.KindCommit, 0, now.Add(-time.Hour), "wip")
		m := New().Compute(context.Background(), b.events, now)

		So(m.ChangeFailureRate.Status, ShouldEqual, model.StatusInsufficient)
		So(m.MTTR.Status, ShouldEqual, model.StatusInsufficient)
		So(m.DeploymentFrequency.Status, ShouldEqual, model.StatusOK)
		So(m.DeploymentFrequency.Tier, ShouldEqual, model.TierLow)
	})
}

func TestClassify(t *testing.T) {
	Convey("Given the default lexicon", t, func() {
		lex := DefaultLexicon()
		cat, ok := classify(lex, "revert the emergency patch")
		So(ok, ShouldBeTrue)
		So(cat, ShouldEqual, "revert")

		cat, _ = classify(lex, "debug logging")
		So(cat, ShouldEqual, "bugfix")

		_, ok = classify(lex, "add feature")
		So(ok, ShouldBeFalse)
	})
}

func TestGuard(t *testing.T) {
	Convey("Given a metric that panics", t, func() {
		var got error
		guard(context.Background(), logger.Get(), "boom", func() { panic("nan") }, func(err error) { got = err })
		So(got, ShouldNotBeNil)
		So(got.Error(), ShouldContainSubstring, "boom")
	})
}
