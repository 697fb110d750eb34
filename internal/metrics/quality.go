package metrics

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Quality describes how well a micrograph lends itself to segmentation.
// It is diagnostic only and never changes the measurements.
type Quality struct {
	// Contrast is the standard deviation of the gray levels
	Contrast float64
	// Sharpness is the variance of the Laplacian
	Sharpness float64
	// Agreement is the F-measure between the threshold foreground and the
	// pixels finally assigned to grains
	Agreement float64
}

// AssessQuality compares the grayscale input, its binary threshold mask and
// the watershed label map. background is the label excluded as background.
func AssessQuality(gray, mask, labels gocv.Mat, background int32) (Quality, error) {
	if gray.Empty() || mask.Empty() || labels.Empty() {
		return Quality{}, fmt.Errorf("empty images")
	}
	if gray.Type() != gocv.MatTypeCV8UC1 || mask.Type() != gocv.MatTypeCV8UC1 {
		return Quality{}, fmt.Errorf("gray and mask must be 8-bit single channel")
	}
	if labels.Type() != gocv.MatTypeCV32SC1 {
		return Quality{}, fmt.Errorf("label map must be CV_32SC1, got %v", labels.Type())
	}
	if gray.Rows() != mask.Rows() || gray.Cols() != mask.Cols() ||
		gray.Rows() != labels.Rows() || gray.Cols() != labels.Cols() {
		return Quality{}, fmt.Errorf("image sizes do not match")
	}

	sharpness, err := laplacianVariance(gray)
	if err != nil {
		return Quality{}, err
	}

	agreement, err := fMeasure(mask, labels, background)
	if err != nil {
		return Quality{}, err
	}

	return Quality{
		Contrast:  contrast(gray),
		Sharpness: sharpness,
		Agreement: agreement,
	}, nil
}

func contrast(gray gocv.Mat) float64 {
	pixels := gray.ToBytes()
	values := make([]float64, len(pixels))
	for i, p := range pixels {
		values[i] = float64(p)
	}
	_, variance := stat.PopMeanVariance(values, nil)
	return math.Sqrt(variance)
}

func laplacianVariance(gray gocv.Mat) (float64, error) {
	laplacian := gocv.NewMat()
	defer laplacian.Close()
	if err := gocv.Laplacian(gray, &laplacian, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault); err != nil {
		return 0, fmt.Errorf("laplacian: %w", err)
	}

	values, err := laplacian.DataPtrFloat64()
	if err != nil {
		return 0, fmt.Errorf("reading laplacian: %w", err)
	}
	_, variance := stat.PopMeanVariance(values, nil)
	return variance, nil
}

// fMeasure treats the threshold mask as reference and grain pixels as
// prediction. Two empty sets agree perfectly.
func fMeasure(mask, labels gocv.Mat, background int32) (float64, error) {
	ref := mask.ToBytes()
	ids, err := labels.DataPtrInt32()
	if err != nil {
		return 0, fmt.Errorf("reading label map: %w", err)
	}

	var tp, fp, fn float64
	for i, id := range ids {
		predicted := id > 0 && id != background
		actual := ref[i] > 0
		switch {
		case predicted && actual:
			tp++
		case predicted:
			fp++
		case actual:
			fn++
		}
	}

	if tp+fp+fn == 0 {
		return 1, nil
	}
	return 2 * tp / (2*tp + fp + fn), nil
}
