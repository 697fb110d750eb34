// Grain analysis pipeline: preprocess, segment, measure, render
package core

import (
	"context"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"grain-size-analysis/internal/algorithms"
	"grain-size-analysis/internal/config"
	"grain-size-analysis/internal/metrics"
	"grain-size-analysis/internal/render"
)

// ImageSource loads a color image from disk
type ImageSource interface {
	LoadImage(path string) (gocv.Mat, error)
}

// Settings are the per-process pipeline parameters
type Settings struct {
	Segment          algorithms.SegmentParams
	CropBottom       int
	DefaultScale     float64
	Precision        int
	DensityPrecision int
	Plot             render.PlotOptions
	JPEGQuality      int
}

// DefaultSettings mirrors config.DefaultConfig
func DefaultSettings() Settings {
	return SettingsFromConfig(config.DefaultConfig())
}

// SettingsFromConfig extracts pipeline settings from the service config
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Segment: algorithms.SegmentParams{
			KernelSize:        cfg.Segmentation.KernelSize,
			OpeningIterations: cfg.Segmentation.OpeningIterations,
			DilateIterations:  cfg.Segmentation.DilateIterations,
			ForegroundRatio:   cfg.Segmentation.ForegroundRatio,
			MarkerOffset:      cfg.Segmentation.MarkerOffset,
		},
		CropBottom:       cfg.Segmentation.CropBottom,
		DefaultScale:     cfg.Measurement.DefaultScale,
		Precision:        cfg.Measurement.Precision,
		DensityPrecision: cfg.Measurement.DensityPrecision,
		Plot: render.PlotOptions{
			Width:   cfg.Render.PlotWidth,
			Height:  cfg.Render.PlotHeight,
			MaxBins: cfg.Render.MaxBins,
		},
		JPEGQuality: cfg.Render.JPEGQuality,
	}
}

// Options are the per-request inputs
type Options struct {
	// Name is reported back as image_name and used in plot titles
	Name string
	// Scale is the physical length of one pixel; 0 selects the default
	Scale float64
	ROI   ROI
}

// Analysis is the payload returned to clients and accepted by the export
type Analysis struct {
	GlobalStats            metrics.GlobalStats `json:"global_stats"`
	DistributionPlot       string              `json:"distribution_plot"`
	IndividualMeasurements []metrics.Grain     `json:"individual_measurements"`
	ImageName              string              `json:"image_name"`
	SegmentedImage         string              `json:"segmented_image"`
	ColoredImage           string              `json:"colored_image"`
}

// Pipeline runs one analysis at a time per call; it holds no per-request
// state and may be shared.
type Pipeline struct {
	source   ImageSource
	settings Settings
	logger   *logrus.Logger
}

func NewPipeline(source ImageSource, settings Settings, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		source:   source,
		settings: settings,
		logger:   logger,
	}
}

// AnalyzeFile loads the image at path and analyzes it. The image name
// defaults to the file's base name.
func (p *Pipeline) AnalyzeFile(ctx context.Context, path string, opts Options) (*Analysis, error) {
	if opts.Name == "" {
		opts.Name = filepath.Base(path)
	}

	img, err := p.source.LoadImage(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	return p.Analyze(ctx, img, opts)
}

// Analyze segments and measures grains in img. Unexpected faults, panics
// included, are reported as ErrProcessing.
func (p *Pipeline) Analyze(ctx context.Context, img gocv.Mat, opts Options) (analysis *Analysis, err error) {
	start := time.Now()
	log := p.logger.WithFields(logrus.Fields{
		"image": opts.Name,
		"roi":   opts.ROI.String(),
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("PIPELINE: recovered from panic")
			analysis = nil
			err = fmt.Errorf("%w: %v", ErrProcessing, r)
		}
	}()

	scale := opts.Scale
	if scale == 0 {
		scale = p.settings.DefaultScale
	}
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, opts.Scale)
	}

	if err := ValidateImage(img); err != nil {
		return nil, err
	}
	meta := MetadataOf(img)
	log = log.WithFields(logrus.Fields{"width": meta.Width, "height": meta.Height})

	rect, err := opts.ROI.Resolve(image.Rect(0, 0, meta.Width, meta.Height), p.settings.CropBottom)
	if err != nil {
		return nil, err
	}

	scope := render.NewScope()
	defer scope.Close()

	cropped := crop(img, rect)
	defer cropped.Close()

	stage := func(name string, since time.Time) {
		log.WithFields(logrus.Fields{
			"stage":    name,
			"duration": time.Since(since),
		}).Debug("PIPELINE: stage finished")
	}

	t := time.Now()
	bin, err := algorithms.Preprocess(cropped)
	if err != nil {
		return nil, processing("preprocess", err)
	}
	defer bin.Close()
	stage("preprocess", t)

	if err := ctx.Err(); err != nil {
		return nil, processing("preprocess", err)
	}

	t = time.Now()
	seg, err := algorithms.Segment(cropped, bin.Mask, p.settings.Segment)
	if err != nil {
		return nil, processing("segment", err)
	}
	defer seg.Close()
	stage("segment", t)

	if err := ctx.Err(); err != nil {
		return nil, processing("segment", err)
	}

	t = time.Now()
	measurement, err := metrics.Measure(seg.Labels, bin.Gray, metrics.Options{
		Scale:            scale,
		Precision:        p.settings.Precision,
		DensityPrecision: p.settings.DensityPrecision,
	})
	if err != nil {
		return nil, processing("measure", err)
	}
	stage("measure", t)

	quality, qerr := metrics.AssessQuality(bin.Gray, bin.Mask, seg.Labels, measurement.Background)
	if qerr != nil {
		log.WithError(qerr).Warn("PIPELINE: quality assessment skipped")
	} else {
		log = log.WithFields(logrus.Fields{
			"contrast":  quality.Contrast,
			"sharpness": quality.Sharpness,
			"agreement": quality.Agreement,
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, processing("measure", err)
	}

	t = time.Now()
	analysis = &Analysis{
		GlobalStats:            measurement.Stats,
		IndividualMeasurements: measurement.Grains,
		ImageName:              opts.Name,
	}

	analysis.DistributionPlot, err = render.DistributionPlot(scope, measurement.Areas, measurement.Perimeters, opts.Name, p.settings.Plot)
	if err != nil {
		return nil, processing("plot", err)
	}

	analysis.SegmentedImage, err = render.EncodeJPEG(seg.Annotated, p.settings.JPEGQuality)
	if err != nil {
		return nil, processing("encode", err)
	}

	colored, err := render.Colorize(seg.Labels, measurement.Background)
	if err != nil {
		return nil, processing("colorize", err)
	}
	defer colored.Close()

	analysis.ColoredImage, err = render.EncodeJPEG(colored, p.settings.JPEGQuality)
	if err != nil {
		return nil, processing("encode", err)
	}
	stage("render", t)

	log.WithFields(logrus.Fields{
		"threshold": bin.Level,
		"seeds":     seg.Seeds,
		"grains":    measurement.Stats.TotalParticles,
		"coverage":  measurement.Stats.SurfaceCoverage,
		"scale":     scale,
		"duration":  time.Since(start),
	}).Info("PIPELINE: analysis complete")

	return analysis, nil
}

// crop returns a continuous copy of the rectangle
func crop(img gocv.Mat, rect image.Rectangle) gocv.Mat {
	if rect == image.Rect(0, 0, img.Cols(), img.Rows()) {
		return img.Clone()
	}
	region := img.Region(rect)
	defer region.Close()
	return region.Clone()
}

func processing(stage string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProcessing, stage, err)
}
