package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grain-size-analysis/internal/core"
	"grain-size-analysis/internal/metrics"
)

func sampleAnalysis() *core.Analysis {
	return &core.Analysis{
		ImageName: "sample.png",
		GlobalStats: metrics.GlobalStats{
			TotalParticles:  2,
			SurfaceCoverage: 12.5,
			TotalGrainArea:  300,
			MeanGrainArea:   150,
			ParticleDensity: 0.000417,
			MeanArea:        150,
			MedianArea:      150,
			StdArea:         50,
			MeanPerimeter:   44.1,
			MedianPerimeter: 44.1,
			StdPerimeter:    7.07,
		},
		IndividualMeasurements: []metrics.Grain{
			{Number: 1, Area: 200, EquivalentDiameter: 31.92, Orientation: -45.5, MajorAxisLength: 40.1, MinorAxisLength: 25.3, Perimeter: 51.17},
			{Number: 2, Area: 100, EquivalentDiameter: 22.57, Orientation: 90, MajorAxisLength: 26, MinorAxisLength: 22, Perimeter: 37.03},
		},
	}
}

func TestWriteCSVLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleAnalysis()))

	want := strings.Join([]string{
		"Global Statistics",
		"Total number of particles:,2",
		"Surface Coverage (%):,12.5",
		"Total grain area (µm²):,300",
		"Mean grain area (µm²):,150",
		"Particle density (particles/µm²):,0.000417",
		"",
		"Size Distribution Statistics",
		"Mean area (µm²):,150",
		"Median area (µm²):,150",
		"Standard deviation of area (µm²):,50",
		"Mean perimeter (µm):,44.1",
		"Median perimeter (µm):,44.1",
		"Standard deviation of perimeter (µm):,7.07",
		"",
		"Individual Grain Measurements",
		"Grain #,Area (µm²),Equivalent Diameter,Orientation (degrees),Major Axis Length,Minor Axis Length,Perimeter (µm)",
		"1,200,31.92,-45.5,40.1,25.3,51.17",
		"2,100,22.57,90,26,22,37.03",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestRoundTrip(t *testing.T) {
	original := sampleAnalysis()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, original))

	parsed, err := ParseCSV(&buf)
	require.NoError(t, err)

	assert.Equal(t, original.GlobalStats, parsed.GlobalStats)
	assert.Equal(t, original.IndividualMeasurements, parsed.IndividualMeasurements)
}

func TestRoundTripNoGrains(t *testing.T) {
	empty := &core.Analysis{ImageName: "blank.png"}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, empty))

	parsed, err := ParseCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.GlobalStats.TotalParticles)
	assert.Empty(t, parsed.IndividualMeasurements)
}

func TestWriteCSVNil(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteCSV(&buf, nil))
}

func TestParseCSVMalformed(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"no section":     "1,2,3\n",
		"unknown row":    "Global Statistics\nFavourite colour:,blue\n",
		"bad number":     "Global Statistics\nSurface Coverage (%):,lots\n",
		"short grain":    "Individual Grain Measurements\n1,2,3\n",
		"bad grain":      "Individual Grain Measurements\nx,1,1,1,1,1,1\n",
		"bad total":      "Global Statistics\nTotal number of particles:,2.5\n",
		"too many cells": "Global Statistics\nMean area (µm²):,1,2\n",
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(input))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "sample.png_measurements.csv", Filename("sample.png"))
	assert.Equal(t, "analysis_measurements.csv", Filename(""))
}
