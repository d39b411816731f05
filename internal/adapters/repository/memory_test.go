package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/devpulse/internal/domain/forecast"
	"github.com/okian/devpulse/internal/domain/model"
)

var base = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

func snapAt(scope string, day int, score float64) model.MetricSnapshot {
	return model.MetricSnapshot{
		Scope:     scope,
		Timestamp: base.AddDate(0, 0, day),
		Grade:     model.Grade{Status: model.StatusOK, Score: score},
	}
}

func anomalyAt(scope, metric, method string, day int) model.AnomalyRecord {
	ts := base.AddDate(0, 0, day)
	return model.AnomalyRecord{
		ID:         metric + method,
		Scope:      scope,
		Metric:     metric,
		Method:     method,
		Timestamp:  ts,
		DetectedAt: ts.Add(time.Hour),
		Severity:   model.SeverityLow,
	}
}

func TestMemoryStore(t *testing.T) {
	Convey("Given an empty memory store", t, func() {
		ctx := context.Background()
		s := NewMemoryStore()

		Convey("Loading an unknown scope reports ErrNotFound", func() {
			_, err := s.LoadSnapshot(ctx, "team")
			So(err, ShouldEqual, ErrNotFound)
			_, err = s.LoadPredictor(ctx, "team")
			So(err, ShouldEqual, ErrNotFound)
			h, err := s.History(ctx, "team", 10)
			So(err, ShouldBeNil)
			So(h, ShouldBeEmpty)
		})

		Convey("Snapshots append with strictly increasing timestamps", func() {
			So(s.StoreSnapshot(ctx, snapAt("team", 0, 70)), ShouldBeNil)
			So(s.StoreSnapshot(ctx, snapAt("team", 1, 75)), ShouldBeNil)
			err := s.StoreSnapshot(ctx, snapAt("team", 1, 80))
			So(errors.Is(err, ErrNotMonotonic), ShouldBeTrue)

			latest, err := s.LoadSnapshot(ctx, "team")
			So(err, ShouldBeNil)
			So(latest.Grade.Score, ShouldEqual, 75.0)
		})

		Convey("History returns the most recent snapshots oldest first", func() {
			for d := 0; d < 5; d++ {
				So(s.StoreSnapshot(ctx, snapAt("team", d, float64(d))), ShouldBeNil)
			}
			h, err := s.History(ctx, "team", 3)
			So(err, ShouldBeNil)
			So(len(h), ShouldEqual, 3)
			So(h[0].Grade.Score, ShouldEqual, 2.0)
			So(h[2].Grade.Score, ShouldEqual, 4.0)

			all, _ := s.History(ctx, "team", 0)
			So(len(all), ShouldEqual, 5)
		})

		Convey("Anomalies are de-duplicated and filtered by time", func() {
			recs := []model.AnomalyRecord{
				anomalyAt("team", "mttr_hours", model.MethodZScore, 2),
				anomalyAt("team", "mttr_hours", model.MethodZScore, 2),
				anomalyAt("team", "mttr_hours", model.MethodIsolation, 2),
				anomalyAt("team", "commits", model.MethodZScore, 5),
			}
			n, err := s.AppendAnomalies(ctx, recs)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 3)

			n, err = s.AppendAnomalies(ctx, recs[:1])
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)

			since, err := s.Anomalies(ctx, "team", base.AddDate(0, 0, 3))
			So(err, ShouldBeNil)
			So(len(since), ShouldEqual, 1)
			So(since[0].Metric, ShouldEqual, "commits")

			all, _ := s.Anomalies(ctx, "team", time.Time{})
			So(len(all), ShouldEqual, 3)
		})

		Convey("Anomalies filter on the point timestamp, not detection time", func() {
			late := anomalyAt("team", "lead_time_hours", model.MethodDecomposition, 1)
			late.DetectedAt = base.AddDate(0, 0, 10)
			_, err := s.AppendAnomalies(ctx, []model.AnomalyRecord{late})
			So(err, ShouldBeNil)

			got, err := s.Anomalies(ctx, "team", base.AddDate(0, 0, 3))
			So(err, ShouldBeNil)
			So(got, ShouldBeEmpty)

			got, err = s.Anomalies(ctx, "team", base.AddDate(0, 0, 1))
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 1)
		})

		Convey("Events and predictor state round-trip", func() {
			events := []model.CanonicalEvent{{ID: "c1", Scope: "team", Kind: model.KindCommit, Timestamp: base}}
			So(s.SaveEvents(ctx, "team", events), ShouldBeNil)
			got, err := s.LoadEvents(ctx, "team")
			So(err, ShouldBeNil)
			So(got, ShouldResemble, events)

			st := &forecast.State{Scope: "team", Phase: forecast.PhaseReady, Version: 2, Active: 2}
			So(s.StorePredictor(ctx, st), ShouldBeNil)
			loaded, err := s.LoadPredictor(ctx, "team")
			So(err, ShouldBeNil)
			So(loaded.Active, ShouldEqual, 2)
		})

		Convey("DeleteScope drops data but keeps predictor state", func() {
			So(s.StoreSnapshot(ctx, snapAt("team", 0, 70)), ShouldBeNil)
			So(s.StoreSnapshot(ctx, snapAt("other", 0, 60)), ShouldBeNil)
			So(s.StorePredictor(ctx, &forecast.State{Scope: "team", Phase: forecast.PhaseDeprecated}), ShouldBeNil)

			scopes, _ := s.Scopes(ctx)
			So(scopes, ShouldResemble, []string{"other", "team"})

			So(s.DeleteScope(ctx, "team"), ShouldBeNil)
			_, err := s.LoadSnapshot(ctx, "team")
			So(err, ShouldEqual, ErrNotFound)
			scopes, _ = s.Scopes(ctx)
			So(scopes, ShouldResemble, []string{"other"})
			st, err := s.LoadPredictor(ctx, "team")
			So(err, ShouldBeNil)
			So(st.Phase, ShouldEqual, forecast.PhaseDeprecated)
		})

		Convey("Invalid input and cancellation are rejected", func() {
			So(s.StoreSnapshot(ctx, model.MetricSnapshot{}), ShouldEqual, ErrInvalidScope)
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := s.LoadSnapshot(cctx, "team")
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})

		Convey("Writes after Close fail", func() {
			So(s.Close(), ShouldBeNil)
			So(s.StoreSnapshot(ctx, snapAt("team", 0, 1)), ShouldEqual, ErrClosed)
		})
	})

	Convey("Given a store with a history cap", t, func() {
		ctx := context.Background()
		s := NewMemoryStore(WithMaxHistory(2))
		for d := 0; d < 4; d++ {
			So(s.StoreSnapshot(ctx, snapAt("team", d, float64(d))), ShouldBeNil)
		}
		h, _ := s.History(ctx, "team", 0)
		So(len(h), ShouldEqual, 2)
		So(h[0].Grade.Score, ShouldEqual, 2.0)
	})
}
