// Package aggregate reduces sub-daily observations to daily values and collapses
// several entities of a region into one value per region-day.
package aggregate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reducer folds a non-empty slice of values into one. Reducers may reorder the
// slice they are given.
type Reducer func([]float64) float64

func Max(x []float64) float64  { return floats.Max(x) }
func Min(x []float64) float64  { return floats.Min(x) }
func Sum(x []float64) float64  { return floats.Sum(x) }
func Mean(x []float64) float64 { return stat.Mean(x, nil) }

// Percentile returns a reducer computing the p-th percentile (0-100) with linear
// interpolation between closest ranks.
func Percentile(p float64) Reducer {
	return func(x []float64) float64 {
		sort.Float64s(x)
		return Quantile(p/100, x)
	}
}

// Quantile returns the q-quantile of sorted x, interpolating linearly between the
// two nearest order statistics (Hyndman and Fan definition 7).
func Quantile(q float64, sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 || q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	h := q * float64(n-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= n {
		return sorted[n-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}
