// Package stats holds the small numerical helpers shared by the metric
// engines, anomaly detectors and the predictor.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// StdDev returns the sample standard deviation, or 0 with fewer than two values.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}

// MeanStdDev returns Mean and StdDev in one pass.
func MeanStdDev(xs []float64) (mean, std float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}

// Percentile returns the p-th percentile (0..100) using linear interpolation
// between closest ranks: rank = p/100*(n-1). P50 of [1 2 3 4 5] is 3.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

// Percentiles returns several percentiles of xs, sorting once.
func Percentiles(xs []float64, ps ...float64) []float64 {
	out := make([]float64, len(ps))
	if len(xs) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	for i, p := range ps {
		out[i] = percentileSorted(sorted, p)
	}
	return out
}

func percentileSorted(sorted []float64, p float64) float64 {
	p = Clamp(p, 0, 100)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Median is Percentile(xs, 50).
func Median(xs []float64) float64 { return Percentile(xs, 50) }

// MAD returns the median absolute deviation around the median.
func MAD(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	med := Median(xs)
	dev := make([]float64, len(xs))
	for i, x := range xs {
		dev[i] = math.Abs(x - med)
	}
	return Median(dev)
}

// SMA returns the mean of the last n values (fewer if xs is shorter).
func SMA(xs []float64, n int) float64 {
	if n <= 0 || len(xs) == 0 {
		return 0
	}
	if n > len(xs) {
		n = len(xs)
	}
	return Mean(xs[len(xs)-n:])
}

// Slope fits y = a + b*i over the index and returns b.
func Slope(ys []float64) float64 {
	if len(ys) < 2 {
		return 0
	}
	xs := make([]float64, len(ys))
	floats.Span(xs, 0, float64(len(ys)-1))
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	return beta
}

// RSquared returns the coefficient of determination of estimates against
// values. It returns 0 when values have no variance.
func RSquared(estimates, values []float64) float64 {
	if len(values) < 2 || len(estimates) != len(values) {
		return 0
	}
	if stat.Variance(values, nil) == 0 {
		return 0
	}
	return stat.RSquaredFrom(estimates, values, nil)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ChangePct returns the percentage change from prior to current, 0 when prior is 0.
func ChangePct(current, prior float64) float64 {
	if prior == 0 {
		return 0
	}
	return (current - prior) / math.Abs(prior) * 100
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	return scalar.Round(v, decimals)
}
