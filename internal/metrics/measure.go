// Grain measurement and aggregate statistics
package metrics

import (
	"fmt"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

// Grain is one row of the per-grain table, in physical units
type Grain struct {
	Number             int     `json:"grain_number"`
	Area               float64 `json:"area"`
	EquivalentDiameter float64 `json:"equivalent_diameter"`
	Orientation        float64 `json:"orientation"`
	MajorAxisLength    float64 `json:"majoraxislength"`
	MinorAxisLength    float64 `json:"minoraxislength"`
	Perimeter          float64 `json:"perimeter"`
}

// GlobalStats aggregates the grain set
type GlobalStats struct {
	TotalParticles  int     `json:"total_particles"`
	SurfaceCoverage float64 `json:"surface_coverage"`
	TotalGrainArea  float64 `json:"total_grain_area"`
	MeanGrainArea   float64 `json:"mean_grain_area"`
	ParticleDensity float64 `json:"particle_density"`
	MeanArea        float64 `json:"mean_area"`
	MedianArea      float64 `json:"median_area"`
	StdArea         float64 `json:"std_area"`
	MeanPerimeter   float64 `json:"mean_perimeter"`
	MedianPerimeter float64 `json:"median_perimeter"`
	StdPerimeter    float64 `json:"std_perimeter"`
}

// Options controls unit conversion and rounding
type Options struct {
	// Scale is the physical length of one pixel
	Scale            float64
	Precision        int
	DensityPrecision int
}

// DefaultOptions returns a 0.5 µm/px scale with two-decimal rounding
func DefaultOptions() Options {
	return Options{Scale: 0.5, Precision: 2, DensityPrecision: 6}
}

// Measurement is the Measurer output
type Measurement struct {
	Stats  GlobalStats
	Grains []Grain
	// Areas and Perimeters are the unrounded physical values, in grain order
	Areas      []float64
	Perimeters []float64
	// Background is the label excluded as background, or 0 if none
	Background int32
}

// Measure extracts grain geometry from a watershed label map.
// The largest region is assumed to be the background and is excluded. This
// misfires when a single grain outgrows the visible background.
func Measure(labels, intensity gocv.Mat, opts Options) (*Measurement, error) {
	scale := opts.Scale
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("scale must be a positive number, got %v", scale)
	}
	if intensity.Empty() {
		return nil, fmt.Errorf("intensity image is empty")
	}
	if labels.Rows() != intensity.Rows() || labels.Cols() != intensity.Cols() {
		return nil, fmt.Errorf("label map size %dx%d does not match intensity image %dx%d",
			labels.Cols(), labels.Rows(), intensity.Cols(), intensity.Rows())
	}

	regions, err := RegionProps(labels)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(regions, func(i, j int) bool { return regions[i].Area > regions[j].Area })

	result := &Measurement{}
	if len(regions) > 0 {
		result.Background = regions[0].Label
		regions = regions[1:]
	}

	result.Grains = make([]Grain, 0, len(regions))
	result.Areas = make([]float64, 0, len(regions))
	result.Perimeters = make([]float64, 0, len(regions))

	grainPixels := 0
	for i, region := range regions {
		area := float64(region.Area) * scale * scale
		perimeter := region.Perimeter * scale
		grainPixels += region.Area

		result.Areas = append(result.Areas, area)
		result.Perimeters = append(result.Perimeters, perimeter)
		result.Grains = append(result.Grains, Grain{
			Number:             i + 1,
			Area:               Round(area, opts.Precision),
			EquivalentDiameter: Round(region.EquivalentDiameter, opts.Precision),
			Orientation:        Round(region.Orientation*180/math.Pi, opts.Precision),
			MajorAxisLength:    Round(region.MajorAxisLength, opts.Precision),
			MinorAxisLength:    Round(region.MinorAxisLength, opts.Precision),
			Perimeter:          Round(perimeter, opts.Precision),
		})
	}

	imagePixels := float64(intensity.Rows() * intensity.Cols())
	imageArea := imagePixels * scale * scale

	areas := Summarize(result.Areas)
	perimeters := Summarize(result.Perimeters)

	stats := GlobalStats{
		TotalParticles:  len(regions),
		SurfaceCoverage: Round(float64(grainPixels)/imagePixels*100, opts.Precision),
		TotalGrainArea:  Round(float64(grainPixels)*scale*scale, opts.Precision),
		MeanArea:        Round(areas.Mean, opts.Precision),
		MedianArea:      Round(areas.Median, opts.Precision),
		StdArea:         Round(areas.StdDev, opts.Precision),
		MeanPerimeter:   Round(perimeters.Mean, opts.Precision),
		MedianPerimeter: Round(perimeters.Median, opts.Precision),
		StdPerimeter:    Round(perimeters.StdDev, opts.Precision),
	}
	if len(regions) > 0 {
		stats.MeanGrainArea = Round(float64(grainPixels)*scale*scale/float64(len(regions)), opts.Precision)
	}
	if imageArea > 0 {
		stats.ParticleDensity = Round(float64(len(regions))/imageArea, opts.DensityPrecision)
	}
	result.Stats = stats

	return result, nil
}
