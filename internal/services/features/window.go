package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RollingMean is the trailing simple mean of xs over w observations,
// inclusive of the current one. The first w-1 cells are null.
func RollingMean(xs []float64, w int) (Series, error) {
	if w <= 0 {
		return nil, invalidConfig("rolling window must be positive, got %d", w)
	}
	out := NullSeries(len(xs))
	for i := w - 1; i < len(xs); i++ {
		out[i] = Some(stat.Mean(xs[i-w+1:i+1], nil))
	}
	return out, nil
}

// RollingStdDev is the trailing sample standard deviation (n-1 denominator)
// over w observations. The first w-1 cells are null. A single observation has
// no sample deviation, so w must be at least 2.
func RollingStdDev(xs []float64, w int) (Series, error) {
	if w < 2 {
		return nil, invalidConfig("standard deviation window must be at least 2, got %d", w)
	}
	out := NullSeries(len(xs))
	for i := w - 1; i < len(xs); i++ {
		v := stat.Variance(xs[i-w+1:i+1], nil)
		if v < 0 {
			v = 0
		}
		out[i] = Some(math.Sqrt(v))
	}
	return out, nil
}
