// Package export serializes an analysis payload to the sectioned CSV
// format offered for download.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"grain-size-analysis/internal/core"
	"grain-size-analysis/internal/metrics"
)

const (
	sectionGlobal       = "Global Statistics"
	sectionDistribution = "Size Distribution Statistics"
	sectionGrains       = "Individual Grain Measurements"
)

var grainHeader = []string{
	"Grain #",
	"Area (µm²)",
	"Equivalent Diameter",
	"Orientation (degrees)",
	"Major Axis Length",
	"Minor Axis Length",
	"Perimeter (µm)",
}

// ErrMalformed is returned by ParseCSV for input that is not an export
var ErrMalformed = errors.New("malformed measurements csv")

type statRow struct {
	label string
	value func(s *metrics.GlobalStats) *float64
}

var globalRows = []statRow{
	{"Surface Coverage (%):", func(s *metrics.GlobalStats) *float64 { return &s.SurfaceCoverage }},
	{"Total grain area (µm²):", func(s *metrics.GlobalStats) *float64 { return &s.TotalGrainArea }},
	{"Mean grain area (µm²):", func(s *metrics.GlobalStats) *float64 { return &s.MeanGrainArea }},
	{"Particle density (particles/µm²):", func(s *metrics.GlobalStats) *float64 { return &s.ParticleDensity }},
}

var distributionRows = []statRow{
	{"Mean area (µm²):", func(s *metrics.GlobalStats) *float64 { return &s.MeanArea }},
	{"Median area (µm²):", func(s *metrics.GlobalStats) *float64 { return &s.MedianArea }},
	{"Standard deviation of area (µm²):", func(s *metrics.GlobalStats) *float64 { return &s.StdArea }},
	{"Mean perimeter (µm):", func(s *metrics.GlobalStats) *float64 { return &s.MeanPerimeter }},
	{"Median perimeter (µm):", func(s *metrics.GlobalStats) *float64 { return &s.MedianPerimeter }},
	{"Standard deviation of perimeter (µm):", func(s *metrics.GlobalStats) *float64 { return &s.StdPerimeter }},
}

const totalParticlesLabel = "Total number of particles:"

// Filename is the download name for an analysis of imageName
func Filename(imageName string) string {
	if imageName == "" {
		imageName = "analysis"
	}
	return imageName + "_measurements.csv"
}

// WriteCSV writes the three sections: global statistics, size distribution
// statistics and the per-grain table, separated by blank lines.
func WriteCSV(w io.Writer, analysis *core.Analysis) error {
	if analysis == nil {
		return fmt.Errorf("nothing to export")
	}

	cw := csv.NewWriter(w)
	// blank separator lines are written raw; csv.Writer would quote them
	flush := func() error {
		cw.Flush()
		return cw.Error()
	}
	blank := func() error {
		if err := flush(); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	}

	stats := analysis.GlobalStats
	records := [][]string{
		{sectionGlobal},
		{totalParticlesLabel, strconv.Itoa(stats.TotalParticles)},
	}
	for _, row := range globalRows {
		records = append(records, []string{row.label, formatFloat(*row.value(&stats))})
	}
	if err := cw.WriteAll(records); err != nil {
		return err
	}
	if err := blank(); err != nil {
		return err
	}

	records = [][]string{{sectionDistribution}}
	for _, row := range distributionRows {
		records = append(records, []string{row.label, formatFloat(*row.value(&stats))})
	}
	if err := cw.WriteAll(records); err != nil {
		return err
	}
	if err := blank(); err != nil {
		return err
	}

	records = [][]string{{sectionGrains}, grainHeader}
	for _, g := range analysis.IndividualMeasurements {
		records = append(records, []string{
			strconv.Itoa(g.Number),
			formatFloat(g.Area),
			formatFloat(g.EquivalentDiameter),
			formatFloat(g.Orientation),
			formatFloat(g.MajorAxisLength),
			formatFloat(g.MinorAxisLength),
			formatFloat(g.Perimeter),
		})
	}
	if err := cw.WriteAll(records); err != nil {
		return err
	}
	return flush()
}

// ParseCSV reads a file produced by WriteCSV. Images are not part of the
// export, so only the statistics and the grain table are restored.
func ParseCSV(r io.Reader) (*core.Analysis, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	analysis := &core.Analysis{IndividualMeasurements: []metrics.Grain{}}
	stats := &analysis.GlobalStats

	labels := make(map[string]*float64, len(globalRows)+len(distributionRows))
	for _, row := range append(append([]statRow{}, globalRows...), distributionRows...) {
		labels[row.label] = row.value(stats)
	}

	section := ""
	for i, rec := range records {
		if len(rec) == 1 {
			switch rec[0] {
			case sectionGlobal, sectionDistribution, sectionGrains:
				section = rec[0]
				continue
			case "":
				continue
			}
		}

		switch section {
		case sectionGlobal, sectionDistribution:
			if len(rec) != 2 {
				return nil, fmt.Errorf("%w: line %d: expected label and value", ErrMalformed, i+1)
			}
			if rec[0] == totalParticlesLabel {
				n, err := strconv.Atoi(rec[1])
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, i+1, err)
				}
				stats.TotalParticles = n
				continue
			}
			dst, ok := labels[rec[0]]
			if !ok {
				return nil, fmt.Errorf("%w: line %d: unknown row %q", ErrMalformed, i+1, rec[0])
			}
			v, err := strconv.ParseFloat(rec[1], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, i+1, err)
			}
			*dst = v

		case sectionGrains:
			if strings.Join(rec, ",") == strings.Join(grainHeader, ",") {
				continue
			}
			grain, err := parseGrain(rec)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, i+1, err)
			}
			analysis.IndividualMeasurements = append(analysis.IndividualMeasurements, grain)

		default:
			return nil, fmt.Errorf("%w: line %d: data before any section", ErrMalformed, i+1)
		}
	}

	if section == "" {
		return nil, fmt.Errorf("%w: no sections found", ErrMalformed)
	}
	return analysis, nil
}

func parseGrain(rec []string) (metrics.Grain, error) {
	if len(rec) != len(grainHeader) {
		return metrics.Grain{}, fmt.Errorf("expected %d columns, got %d", len(grainHeader), len(rec))
	}

	n, err := strconv.Atoi(rec[0])
	if err != nil {
		return metrics.Grain{}, err
	}

	values := make([]float64, len(rec)-1)
	for i, field := range rec[1:] {
		if values[i], err = strconv.ParseFloat(field, 64); err != nil {
			return metrics.Grain{}, err
		}
	}

	return metrics.Grain{
		Number:             n,
		Area:               values[0],
		EquivalentDiameter: values[1],
		Orientation:        values[2],
		MajorAxisLength:    values[3],
		MinorAxisLength:    values[4],
		Perimeter:          values[5],
	}, nil
}

// formatFloat prints the shortest representation, e.g. 12.5 rather than 12.500000
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
