package stats_test

import (
	"math"
	"testing"

	"github.com/okian/devpulse/internal/domain/stats"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPercentile(t *testing.T) {
	Convey("Given the linear-interpolation percentile", t, func() {
		Convey("P50 of 1..5 is 3", func() {
			So(stats.Percentile([]float64{5, 3, 1, 4, 2}, 50), ShouldEqual, 3)
		})

		Convey("Between ranks it interpolates", func() {
			xs := []float64{1, 2, 3, 4}
			So(stats.Percentile(xs, 50), ShouldEqual, 2.5)
			So(stats.Percentile(xs, 90), ShouldAlmostEqual, 3.7, 1e-9)
			So(stats.Percentile([]float64{1, 2, 3, 4, 5}, 95), ShouldAlmostEqual, 4.8, 1e-9)
		})

		Convey("Edges return the extremes", func() {
			xs := []float64{7, 1, 9}
			So(stats.Percentile(xs, 0), ShouldEqual, 1)
			So(stats.Percentile(xs, 100), ShouldEqual, 9)
			So(stats.Percentile([]float64{4}, 90), ShouldEqual, 4)
		})

		Convey("An empty input is NaN", func() {
			So(math.IsNaN(stats.Percentile(nil, 50)), ShouldBeTrue)
		})

		Convey("Percentiles matches single calls and leaves input untouched", func() {
			xs := []float64{10, 2, 33, 4, 5}
			got := stats.Percentiles(xs, 50, 90, 95)
			So(got[0], ShouldEqual, stats.Percentile(xs, 50))
			So(got[1], ShouldEqual, stats.Percentile(xs, 90))
			So(got[2], ShouldEqual, stats.Percentile(xs, 95))
			So(xs, ShouldResemble, []float64{10, 2, 33, 4, 5})
		})
	})
}

func TestSummaries(t *testing.T) {
	Convey("Given summary helpers", t, func() {
		So(stats.Mean(nil), ShouldEqual, 0)
		So(stats.Mean([]float64{2, 4, 6}), ShouldEqual, 4)
		So(stats.StdDev([]float64{3}), ShouldEqual, 0)
		So(stats.StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), ShouldAlmostEqual, 2.138, 1e-3)

		m, s := stats.MeanStdDev([]float64{1, 1, 1})
		So(m, ShouldEqual, 1)
		So(s, ShouldEqual, 0)

		So(stats.Median([]float64{3, 1, 2}), ShouldEqual, 2)
		So(stats.MAD([]float64{1, 1, 2, 2, 4, 6, 9}), ShouldEqual, 1)

		So(stats.SMA([]float64{1, 2, 3, 4, 5, 6}, 4), ShouldEqual, 4.5)
		So(stats.SMA([]float64{2, 4}, 4), ShouldEqual, 3)

		So(stats.Slope([]float64{1, 3, 5, 7}), ShouldAlmostEqual, 2, 1e-9)
		So(stats.Slope([]float64{5}), ShouldEqual, 0)

		So(stats.RSquared([]float64{1, 2, 3}, []float64{1, 2, 3}), ShouldAlmostEqual, 1, 1e-9)
		So(stats.RSquared([]float64{1, 2, 3}, []float64{2, 2, 2}), ShouldEqual, 0)

		So(stats.Clamp(120, 0, 100), ShouldEqual, 100)
		So(stats.Clamp(-3, 0, 100), ShouldEqual, 0)
		So(stats.ChangePct(12, 10), ShouldAlmostEqual, 20, 1e-9)
		So(stats.ChangePct(5, 0), ShouldEqual, 0)
		So(stats.Round(1.23456, 2), ShouldEqual, 1.23)
	})
}
