package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the distribution of one measured quantity
type Summary struct {
	Count  int
	Sum    float64
	Mean   float64
	Median float64
	StdDev float64
}

// Summarize computes count, sum, mean, median and population standard
// deviation. An empty input yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	mean, variance := stat.PopMeanVariance(values, nil)

	return Summary{
		Count:  len(values),
		Sum:    floats.Sum(values),
		Mean:   mean,
		Median: median(values),
		StdDev: math.Sqrt(variance),
	}
}

// median averages the two middle elements for even-length input
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Round rounds v to the given number of decimals
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
