package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Bins is a histogram: len(Edges) == len(Counts)+1
type Bins struct {
	Edges  []float64
	Counts []float64
}

// Max returns the largest bin count
func (b Bins) Max() float64 {
	if len(b.Counts) == 0 {
		return 0
	}
	return floats.Max(b.Counts)
}

// AutoBins bins values with the wider of the Sturges and Freedman-Diaconis
// bin counts, capped at maxBins. The last bin includes the maximum.
func AutoBins(values []float64, maxBins int) Bins {
	if maxBins < 1 {
		maxBins = 1
	}
	if len(values) == 0 {
		return Bins{Edges: []float64{0, 1}, Counts: []float64{0}}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi == lo {
		return Bins{Edges: []float64{lo - 0.5, hi + 0.5}, Counts: []float64{n}}
	}

	span := hi - lo
	width := span / (math.Log2(n) + 1)

	iqr := percentile(sorted, 0.75) - percentile(sorted, 0.25)
	if fd := 2 * iqr * math.Pow(n, -1.0/3.0); fd > 0 && fd < width {
		width = fd
	}

	count := int(math.Ceil(span / width))
	count = max(1, min(count, maxBins))

	edges := floats.Span(make([]float64, count+1), lo, hi)
	edges[count] = hi

	dividers := append([]float64(nil), edges...)
	dividers[count] = math.Nextafter(hi, math.Inf(1))

	return Bins{
		Edges:  edges,
		Counts: stat.Histogram(nil, dividers, sorted, nil),
	}
}

// percentile interpolates linearly between the order statistics at
// (n-1)*p, matching the default linear method of numpy.
// sorted must be ascending and non-empty.
func percentile(sorted []float64, p float64) float64 {
	pos := float64(len(sorted)-1) * p
	i := int(math.Floor(pos))
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(i)
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}
