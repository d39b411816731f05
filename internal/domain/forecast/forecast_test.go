package forecast

import (
	"context"
	"errors"
	"math"
	"math/rand"
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

var origin = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// gradeHistory builds n daily snapshots whose grade score follows value(i).
func gradeHistory(n int, value func(i int) float64) []model.MetricSnapshot {
	out := make([]model.MetricSnapshot, n)
	for i := range out {
		out[i] = model.MetricSnapshot{
			Scope:     "demo",
			Timestamp: origin.AddDate(0, 0, i),
			Grade:     model.Grade{Status: model.StatusOK, Score: value(i)},
		}
	}
	return out
}

func seasonal(i int) float64 {
	return 70 + 10*math.Sin(2*math.Pi*float64(i)/7) + 0.1*float64(i%5)
}

func TestRetrainPolicy(t *testing.T) {
	Convey("Given the default retrain policy", t, func() {
		p := DefaultRetrainPolicy()
		day := 24 * time.Hour

		So(p.Due(49, 8*day), ShouldBeTrue)
		So(p.Due(50, 1*day), ShouldBeTrue)
		So(p.Due(49, 6*day), ShouldBeFalse)
		So(p.Due(0, 7*day), ShouldBeTrue)
	})
}

func TestTransitions(t *testing.T) {
	Convey("Given the phase table", t, func() {
		So(CanTransition(PhaseUninitialized, PhaseTraining), ShouldBeTrue)
		So(CanTransition(PhaseTraining, PhaseReady), ShouldBeTrue)
		So(CanTransition(PhaseReady, PhaseRetraining), ShouldBeTrue)
		So(CanTransition(PhaseRetraining, PhaseReady), ShouldBeTrue)
		So(CanTransition(PhaseReady, PhaseDeprecated), ShouldBeTrue)
		So(CanTransition(PhaseUninitialized, PhaseReady), ShouldBeFalse)
		So(CanTransition(PhaseDeprecated, PhaseReady), ShouldBeFalse)
	})
}

func TestObserve(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fresh predictor", t, func() {
		p := New()

		Convey("When fewer than the minimum samples exist", func() {
			st, err := p.Observe(ctx, "demo", gradeHistory(49, seasonal), origin.AddDate(0, 2, 0))

			Convey("Then it stays uninitialized and cannot forecast", func() {
				So(err, ShouldBeNil)
				So(st.Phase, ShouldEqual, PhaseUninitialized)
				_, err := p.Forecast("demo", "", 0, nil, origin)
				So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
			})
		})

		Convey("When enough varied samples arrive", func() {
			history := gradeHistory(60, seasonal)
			now := origin.AddDate(0, 0, 60)
			st, err := p.Observe(ctx, "demo", history, now)
			So(err, ShouldBeNil)

			Convey("Then the first version is trained and active", func() {
				So(st.Phase, ShouldEqual, PhaseReady)
				So(st.Version, ShouldEqual, 1)
				So(st.Active, ShouldEqual, 1)
				So(st.TrainingSampleCount, ShouldEqual, 60)
				So(st.LastTrainedAt, ShouldEqual, now)
				So(p.Status("demo").Metrics, ShouldContain, model.SeriesGradeScore)
			})

			Convey("Then a forecast covers the horizon with ordered bounds", func() {
				f, err := p.Forecast("demo", model.SeriesGradeScore, 0, history, now)
				So(err, ShouldBeNil)
				So(f.Points, ShouldHaveLength, 14)
				So(f.Version, ShouldEqual, 1)
				for i, pt := range f.Points {
					So(pt.Step, ShouldEqual, i+1)
					So(pt.Lower, ShouldBeLessThanOrEqualTo, pt.Value)
					So(pt.Upper, ShouldBeGreaterThanOrEqualTo, pt.Value)
					So(pt.Timestamp, ShouldEqual, history[59].Timestamp.AddDate(0, 0, i+1))
				}
				So(f.Points[13].Upper-f.Points[13].Lower, ShouldBeGreaterThanOrEqualTo, f.Points[0].Upper-f.Points[0].Lower)
			})

			Convey("Then a forecast after new samples starts past the latest one", func() {
				later := gradeHistory(100, seasonal)
				last := later[99].Timestamp
				f, err := p.Forecast("demo", model.SeriesGradeScore, 0, later, origin.AddDate(0, 0, 100))
				So(err, ShouldBeNil)
				So(f.Version, ShouldEqual, 1)
				So(f.Points, ShouldHaveLength, 14)
				So(f.Points[0].Timestamp.After(last), ShouldBeTrue)
				So(f.Points[0].Timestamp, ShouldEqual, last.AddDate(0, 0, 1))
				for _, pt := range f.Points {
					So(pt.Timestamp.After(last), ShouldBeTrue)
				}
			})

			Convey("Then a forecast without history falls back to the training tail", func() {
				f, err := p.Forecast("demo", model.SeriesGradeScore, 2, nil, now)
				So(err, ShouldBeNil)
				So(f.Points[0].Timestamp, ShouldEqual, history[59].Timestamp.AddDate(0, 0, 1))
			})

			Convey("Then an unknown metric is rejected", func() {
				_, err := p.Forecast("demo", model.SeriesMTTR, 3, history, now)
				So(errors.Is(err, ErrUnknownMetric), ShouldBeTrue)
			})

			Convey("Then a retrain is not due a day later with few new samples", func() {
				st, err := p.Observe(ctx, "demo", gradeHistory(61, seasonal), now.Add(24*time.Hour))
				So(err, ShouldBeNil)
				So(st.Version, ShouldEqual, 1)
			})

			Convey("Then a retrain after eight days adds a version", func() {
				st, err := p.Observe(ctx, "demo", gradeHistory(61, seasonal), now.AddDate(0, 0, 8))
				So(err, ShouldBeNil)
				So(st.Version, ShouldEqual, 2)
				So(st.Versions, ShouldHaveLength, 2)
				So(st.Phase, ShouldEqual, PhaseReady)
			})

			Convey("Then a failed retrain keeps the ready version", func() {
				flat := gradeHistory(70, func(int) float64 { return 50 })
				st, err := p.Observe(ctx, "demo", flat, now.AddDate(0, 0, 8))
				So(err, ShouldNotBeNil)
				So(st.Phase, ShouldEqual, PhaseReady)
				So(st.Active, ShouldEqual, 1)
				So(st.LastError, ShouldNotBeEmpty)
				_, err = p.Forecast("demo", "", 0, history, now)
				So(err, ShouldBeNil)
			})

			Convey("Then deprecation stops learning and forecasting", func() {
				st := p.Deprecate("demo")
				So(st.Phase, ShouldEqual, PhaseDeprecated)
				_, err := p.Observe(ctx, "demo", history, now.AddDate(0, 1, 0))
				So(err, ShouldEqual, ErrDeprecated)
				_, err = p.Forecast("demo", "", 0, history, now)
				So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
			})
		})

		Convey("When the first fit has no variance to learn", func() {
			st, err := p.Observe(ctx, "demo", gradeHistory(60, func(int) float64 { return 50 }), origin.AddDate(0, 3, 0))

			Convey("Then the predictor returns to uninitialized", func() {
				So(err, ShouldNotBeNil)
				So(st.Phase, ShouldEqual, PhaseUninitialized)
				So(st.Version, ShouldEqual, 0)
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			st, err := p.Observe(cctx, "demo", gradeHistory(60, seasonal), origin.AddDate(0, 3, 0))

			Convey("Then nothing is committed", func() {
				So(err, ShouldNotBeNil)
				So(st.Phase, ShouldEqual, PhaseUninitialized)
				So(st.Versions, ShouldBeEmpty)
			})
		})
	})
}

func TestRegressionGuard(t *testing.T) {
	ctx := context.Background()

	Convey("Given an active version with a perfect score", t, func() {
		rng := rand.New(rand.NewSource(7))
		noise := gradeHistory(80, func(int) float64 { return 50 + 40*rng.Float64() })
		last := noise[len(noise)-1].Timestamp

		p := New()
		p.Restore(&State{
			Scope:           "demo",
			Phase:           PhaseReady,
			Version:         3,
			Active:          3,
			Versions:        []*Version{{Number: 3, Score: 1, Models: map[string]*MetricModel{}}},
			LastTrainedAt:   last.AddDate(0, 0, -8),
			LastSampleAt:    last,
			EvaluationScore: 1,
		})

		Convey("When a retrain on noise scores worse than the tolerance", func() {
			st, err := p.Observe(ctx, "demo", noise, last)
			So(err, ShouldBeNil)

			Convey("Then the new version is kept but not promoted", func() {
				So(st.Version, ShouldEqual, 4)
				So(st.Active, ShouldEqual, 3)
				So(st.EvaluationScore, ShouldEqual, 1.0)
				So(st.Versions, ShouldHaveLength, 2)
			})

			Convey("Then rollback can promote it explicitly", func() {
				So(p.Rollback("demo", 4), ShouldBeNil)
				So(p.State("demo").Active, ShouldEqual, 4)
				So(errors.Is(p.Rollback("demo", 99), ErrUnknownVersion), ShouldBeTrue)
			})
		})
	})

	Convey("Given a state persisted mid-training", t, func() {
		p := New()
		p.Restore(&State{Scope: "x", Phase: PhaseTraining})
		So(p.Status("x").Phase, ShouldEqual, PhaseUninitialized)
	})
}

func TestDegradationRisk(t *testing.T) {
	Convey("Given grade scores that dropped from 80 to 60", t, func() {
		history := gradeHistory(10, func(i int) float64 {
			if i < 5 {
				return 80
			}
			return 60
		})
		r := DegradationRisk(history)

		So(r.Status, ShouldEqual, model.StatusOK)
		So(r.Level, ShouldEqual, RiskHigh)
		So(r.ChangePct, ShouldEqual, -25.0)
		So(r.Volatility, ShouldEqual, RiskMedium)
		So(r.Confidence, ShouldEqual, 90.0)
	})

	Convey("Given too little history", t, func() {
		So(DegradationRisk(gradeHistory(9, seasonal)).Status, ShouldEqual, model.StatusInsufficient)
	})
}
