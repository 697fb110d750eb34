package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"

	"gocv.io/x/gocv"

	"grain-size-analysis/internal/metrics"
)

// PlotOptions sizes the distribution figure
type PlotOptions struct {
	Width   int
	Height  int
	MaxBins int
}

// DefaultPlotOptions returns a 1500x500 figure with at most 100 bins
func DefaultPlotOptions() PlotOptions {
	return PlotOptions{Width: 1500, Height: 500, MaxBins: 100}
}

var (
	black     = color.RGBA{A: 255}
	gridColor = color.RGBA{R: 222, G: 222, B: 222, A: 255}
	// matplotlib blue and green at alpha 0.7 over white
	areaColor      = color.RGBA{R: 77, G: 77, B: 255, A: 255}
	perimeterColor = color.RGBA{R: 77, G: 166, B: 77, A: 255}
)

const (
	font      = gocv.FontHersheySimplex
	fontScale = 0.5
	gridLines = 5
)

type panel struct {
	title  string
	xLabel string
	values []float64
	fill   color.RGBA
}

// DistributionPlot draws side-by-side area and perimeter histograms and
// returns the figure as base64 PNG. The figure is closed before returning.
func DistributionPlot(scope *Scope, areas, perimeters []float64, imageName string, opts PlotOptions) (string, error) {
	fig, err := scope.NewFigure(opts.Width, opts.Height)
	if err != nil {
		return "", err
	}
	defer fig.Close()

	half := opts.Width / 2
	panels := []panel{
		{title: "Grain Area Distribution - " + imageName, xLabel: "Area (um^2)", values: areas, fill: areaColor},
		{title: "Grain Perimeter Distribution - " + imageName, xLabel: "Perimeter (um)", values: perimeters, fill: perimeterColor},
	}

	for i, p := range panels {
		bounds := image.Rect(i*half, 0, (i+1)*half, opts.Height)
		if err := drawHistogram(&fig.Canvas, bounds, p, opts.MaxBins); err != nil {
			return "", fmt.Errorf("drawing %q: %w", p.title, err)
		}
	}

	return EncodePNG(fig.Canvas)
}

func drawHistogram(canvas *gocv.Mat, bounds image.Rectangle, p panel, maxBins int) error {
	axes := image.Rect(bounds.Min.X+80, bounds.Min.Y+50, bounds.Max.X-30, bounds.Max.Y-60)
	if axes.Dx() <= 0 || axes.Dy() <= 0 {
		return fmt.Errorf("panel %v too small for axes", bounds)
	}

	bins := metrics.AutoBins(p.values, maxBins)
	peak := math.Max(bins.Max(), 1)
	lo, hi := bins.Edges[0], bins.Edges[len(bins.Edges)-1]

	xAt := func(v float64) int {
		return axes.Min.X + int(math.Round((v-lo)/(hi-lo)*float64(axes.Dx())))
	}
	yAt := func(count float64) int {
		return axes.Max.Y - int(math.Round(count/peak*float64(axes.Dy())))
	}

	// horizontal grid and y ticks
	step := niceStep(peak, gridLines)
	for tick := 0.0; tick <= peak+1e-9; tick += step {
		y := yAt(tick)
		gocv.Line(canvas, image.Pt(axes.Min.X, y), image.Pt(axes.Max.X, y), gridColor, 1)
		label := strconv.FormatFloat(tick, 'g', 4, 64)
		size := gocv.GetTextSize(label, font, fontScale, 1)
		gocv.PutText(canvas, label, image.Pt(axes.Min.X-size.X-8, y+size.Y/2), font, fontScale, black, 1)
	}

	// vertical grid and x ticks
	for i := 0; i <= gridLines; i++ {
		v := lo + (hi-lo)*float64(i)/gridLines
		x := xAt(v)
		gocv.Line(canvas, image.Pt(x, axes.Min.Y), image.Pt(x, axes.Max.Y), gridColor, 1)
		label := strconv.FormatFloat(v, 'g', 4, 64)
		size := gocv.GetTextSize(label, font, fontScale, 1)
		gocv.PutText(canvas, label, image.Pt(x-size.X/2, axes.Max.Y+size.Y+8), font, fontScale, black, 1)
	}

	for i, count := range bins.Counts {
		if count == 0 {
			continue
		}
		bar := image.Rect(xAt(bins.Edges[i]), yAt(count), xAt(bins.Edges[i+1]), axes.Max.Y)
		gocv.Rectangle(canvas, bar, p.fill, -1)
	}

	gocv.Rectangle(canvas, axes, black, 1)

	if len(p.values) == 0 {
		putCentered(canvas, "no grains detected", image.Pt(axes.Min.X+axes.Dx()/2, axes.Min.Y+axes.Dy()/2), 0.7)
	}

	putCentered(canvas, p.title, image.Pt(axes.Min.X+axes.Dx()/2, bounds.Min.Y+30), 0.6)
	putCentered(canvas, p.xLabel, image.Pt(axes.Min.X+axes.Dx()/2, bounds.Max.Y-15), fontScale)
	gocv.PutText(canvas, "Frequency", image.Pt(bounds.Min.X+10, axes.Min.Y-10), font, fontScale, black, 1)

	return nil
}

func putCentered(canvas *gocv.Mat, text string, center image.Point, scale float64) {
	size := gocv.GetTextSize(text, font, scale, 1)
	gocv.PutText(canvas, text, image.Pt(center.X-size.X/2, center.Y+size.Y/2), font, scale, black, 1)
}

// niceStep picks a 1, 2 or 5 times power-of-ten step giving about n ticks
func niceStep(span float64, n int) float64 {
	raw := span / float64(n)
	if raw <= 1 {
		return 1
	}
	magnitude := math.Pow(10, math.Floor(math.Log10(raw)))
	for _, m := range []float64{1, 2, 5, 10} {
		if raw <= m*magnitude {
			return m * magnitude
		}
	}
	return 10 * magnitude
}
