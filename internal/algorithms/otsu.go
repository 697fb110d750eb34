// Grayscale conversion and automatic global (Otsu) thresholding
package algorithms

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Binarization holds the grayscale image, its foreground mask and the
// threshold level that separated them.
type Binarization struct {
	Gray  gocv.Mat
	Mask  gocv.Mat
	Level float64
}

// Close releases both Mats
func (b *Binarization) Close() {
	b.Gray.Close()
	b.Mask.Close()
}

// Preprocess converts a color image to gray and binarizes it with the Otsu
// level. Pixels brighter than the level become 255.
func Preprocess(input gocv.Mat) (*Binarization, error) {
	if input.Empty() {
		return nil, fmt.Errorf("input image is empty")
	}

	gray, err := ensureGrayscale(input)
	if err != nil {
		return nil, err
	}

	level := OtsuLevel(calculateHistogram(gray))

	mask := gocv.NewMat()
	gocv.Threshold(gray, &mask, float32(level), 255, gocv.ThresholdBinary)
	if mask.Empty() {
		gray.Close()
		mask.Close()
		return nil, fmt.Errorf("threshold produced an empty mask")
	}

	return &Binarization{Gray: gray, Mask: mask, Level: level}, nil
}

// ensureGrayscale always returns a new Mat owned by the caller
func ensureGrayscale(input gocv.Mat) (gocv.Mat, error) {
	switch input.Channels() {
	case 1:
		return input.Clone(), nil
	case 3:
		gray := gocv.NewMat()
		if err := gocv.CvtColor(input, &gray, gocv.ColorBGRToGray); err != nil {
			gray.Close()
			return gocv.NewMat(), fmt.Errorf("grayscale conversion failed: %w", err)
		}
		return gray, nil
	case 4:
		gray := gocv.NewMat()
		if err := gocv.CvtColor(input, &gray, gocv.ColorBGRAToGray); err != nil {
			gray.Close()
			return gocv.NewMat(), fmt.Errorf("grayscale conversion failed: %w", err)
		}
		return gray, nil
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported number of channels: %d", input.Channels())
	}
}

// calculateHistogram returns the normalized 256-bin intensity histogram
func calculateHistogram(gray gocv.Mat) []float64 {
	hist := make([]float64, 256)

	data := gray.ToBytes()
	for _, intensity := range data {
		hist[intensity]++
	}

	total := float64(len(data))
	if total == 0 {
		return hist
	}
	for i := range hist {
		hist[i] /= total
	}

	return hist
}

// OtsuLevel picks the intensity that maximizes the between-class variance of
// a normalized histogram.
func OtsuLevel(hist []float64) float64 {
	sum := 0.0
	for i := range hist {
		sum += float64(i) * hist[i]
	}

	sumB := 0.0
	wB := 0.0
	maximum := 0.0
	level := 0.0

	for t := range hist {
		wB += hist[t]
		if wB == 0 {
			continue
		}

		wF := 1.0 - wB
		if wF <= 1e-12 {
			break
		}

		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sum - sumB) / wF

		between := wB * wF * (mB - mF) * (mB - mF)
		if between > maximum {
			level = float64(t)
			maximum = between
		}
	}

	return level
}
