// Marker-controlled watershed segmentation of grains
package algorithms

import (
	"fmt"

	"gocv.io/x/gocv"
)

const (
	// RidgeLabel marks watershed boundary pixels in a label map
	RidgeLabel = -1
	// UnknownLabel marks pixels the watershed has to assign
	UnknownLabel = 0
)

// SegmentParams tunes the segmentation
type SegmentParams struct {
	KernelSize        int
	OpeningIterations int
	DilateIterations  int
	// ForegroundRatio of the maximum distance-to-background above which a
	// pixel is a sure grain interior. Lower merges touching grains, higher
	// over-splits them.
	ForegroundRatio float64
	MarkerOffset    int
}

// DefaultSegmentParams returns the parameters used by the service by default
func DefaultSegmentParams() SegmentParams {
	return SegmentParams{
		KernelSize:        3,
		OpeningIterations: 2,
		DilateIterations:  2,
		ForegroundRatio:   0.2,
		MarkerOffset:      10,
	}
}

// Validate checks parameter ranges
func (p SegmentParams) Validate() error {
	if p.KernelSize < 1 || p.KernelSize > 15 {
		return fmt.Errorf("kernel_size must be between 1 and 15")
	}
	if p.OpeningIterations < 0 || p.DilateIterations < 0 {
		return fmt.Errorf("iterations must not be negative")
	}
	if p.ForegroundRatio <= 0 || p.ForegroundRatio >= 1 {
		return fmt.Errorf("foreground_ratio must be in (0, 1)")
	}
	if p.MarkerOffset < 1 {
		return fmt.Errorf("marker_offset must be at least 1")
	}
	return nil
}

// Segmentation is the watershed output.
// Labels is CV_32SC1: RidgeLabel on boundaries, MarkerOffset for the
// connected background, larger values for grain seeds.
type Segmentation struct {
	Labels    gocv.Mat
	Annotated gocv.Mat
	Seeds     int
}

// Close releases both Mats
func (s *Segmentation) Close() {
	s.Labels.Close()
	s.Annotated.Close()
}

// Segment runs marker-controlled watershed on a color image using a binary
// foreground mask of the same size.
func Segment(img, mask gocv.Mat, params SegmentParams) (*Segmentation, error) {
	if img.Empty() || mask.Empty() {
		return nil, fmt.Errorf("input image is empty")
	}
	if img.Rows() != mask.Rows() || img.Cols() != mask.Cols() {
		return nil, fmt.Errorf("mask size %dx%d does not match image size %dx%d",
			mask.Cols(), mask.Rows(), img.Cols(), img.Rows())
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	color, err := ensureBGR(img)
	if err != nil {
		return nil, err
	}
	defer color.Close()

	opening, err := Open(mask, params.KernelSize, params.OpeningIterations)
	if err != nil {
		return nil, fmt.Errorf("noise removal: %w", err)
	}
	defer opening.Close()

	cleaned, err := ClearBorder(opening)
	if err != nil {
		return nil, fmt.Errorf("border exclusion: %w", err)
	}
	defer cleaned.Close()

	sureBg, err := Dilate(cleaned, params.KernelSize, params.DilateIterations)
	if err != nil {
		return nil, fmt.Errorf("sure background: %w", err)
	}
	defer sureBg.Close()

	sureFg, err := sureForeground(cleaned, params.ForegroundRatio)
	if err != nil {
		return nil, fmt.Errorf("sure foreground: %w", err)
	}
	defer sureFg.Close()

	unknown := gocv.NewMat()
	defer unknown.Close()
	if err := gocv.Subtract(sureBg, sureFg, &unknown); err != nil {
		return nil, fmt.Errorf("unknown region: %w", err)
	}

	markers := gocv.NewMat()
	seeds := gocv.ConnectedComponents(sureFg, &markers)

	if err := seedMarkers(markers, unknown, int32(params.MarkerOffset)); err != nil {
		markers.Close()
		return nil, err
	}

	if err := flood(color, &markers); err != nil {
		markers.Close()
		return nil, err
	}

	annotated, err := annotateRidges(color, markers)
	if err != nil {
		markers.Close()
		return nil, err
	}

	return &Segmentation{
		Labels:    markers,
		Annotated: annotated,
		// label 0 of the component pass is the background
		Seeds: seeds - 1,
	}, nil
}

// sureForeground thresholds the L2 distance transform of the mask at
// ratio * max distance and returns an 8-bit mask.
func sureForeground(mask gocv.Mat, ratio float64) (gocv.Mat, error) {
	dist := gocv.NewMat()
	defer dist.Close()
	nearest := gocv.NewMat()
	defer nearest.Close()
	err := gocv.DistanceTransform(mask, &dist, &nearest, gocv.DistL2, gocv.DistanceMask3, gocv.DistanceLabelCComp)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("distance transform: %w", err)
	}

	_, maxDist, _, _ := gocv.MinMaxLoc(dist)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(dist, &binary, float32(ratio)*maxDist, 255, gocv.ThresholdBinary)

	result := gocv.NewMat()
	if err := binary.ConvertTo(&result, gocv.MatTypeCV8U); err != nil {
		result.Close()
		return gocv.NewMat(), fmt.Errorf("converting foreground mask: %w", err)
	}
	return result, nil
}

// flood runs the watershed in place. On failure markers still hold the
// seeds, so callers must not use them.
func flood(color gocv.Mat, markers *gocv.Mat) error {
	if err := gocv.Watershed(color, markers); err != nil {
		return fmt.Errorf("watershed: %w", err)
	}
	return nil
}

// seedMarkers shifts component labels by offset and resets unknown pixels
func seedMarkers(markers, unknown gocv.Mat, offset int32) error {
	ids, err := markers.DataPtrInt32()
	if err != nil {
		return fmt.Errorf("reading markers: %w", err)
	}
	ambiguous, err := unknown.DataPtrUint8()
	if err != nil {
		return fmt.Errorf("reading unknown region: %w", err)
	}
	if len(ids) != len(ambiguous) {
		return fmt.Errorf("marker and unknown region sizes differ: %d vs %d", len(ids), len(ambiguous))
	}

	for i := range ids {
		ids[i] += offset
		if ambiguous[i] == 255 {
			ids[i] = UnknownLabel
		}
	}
	return nil
}

// annotateRidges copies the image and paints ridge pixels yellow
func annotateRidges(color, markers gocv.Mat) (gocv.Mat, error) {
	ids, err := markers.DataPtrInt32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("reading watershed labels: %w", err)
	}

	annotated := color.Clone()
	pixels, err := annotated.DataPtrUint8()
	if err != nil {
		annotated.Close()
		return gocv.NewMat(), fmt.Errorf("reading annotated pixels: %w", err)
	}

	for i, id := range ids {
		if id == RidgeLabel {
			// BGR yellow
			pixels[3*i] = 0
			pixels[3*i+1] = 255
			pixels[3*i+2] = 255
		}
	}

	return annotated, nil
}

// ensureBGR returns a continuous 3-channel copy of img
func ensureBGR(img gocv.Mat) (gocv.Mat, error) {
	switch img.Channels() {
	case 3:
		return img.Clone(), nil
	case 1:
		color := gocv.NewMat()
		if err := gocv.CvtColor(img, &color, gocv.ColorGrayToBGR); err != nil {
			color.Close()
			return gocv.NewMat(), fmt.Errorf("color conversion failed: %w", err)
		}
		return color, nil
	case 4:
		color := gocv.NewMat()
		if err := gocv.CvtColor(img, &color, gocv.ColorBGRAToBGR); err != nil {
			color.Close()
			return gocv.NewMat(), fmt.Errorf("color conversion failed: %w", err)
		}
		return color, nil
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported number of channels: %d", img.Channels())
	}
}
