// Morphological cleanup of binary masks
package algorithms

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Open erodes then dilates the mask, each `iterations` times, with a square
// kernel. It removes speckles smaller than the kernel.
func Open(input gocv.Mat, kernelSize, iterations int) (gocv.Mat, error) {
	if input.Empty() {
		return gocv.NewMat(), fmt.Errorf("input image is empty")
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	eroded, err := repeat(input, iterations, func(src gocv.Mat, dst *gocv.Mat) error {
		return gocv.Erode(src, dst, kernel)
	})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("erode: %w", err)
	}
	defer eroded.Close()

	opened, err := repeat(eroded, iterations, func(src gocv.Mat, dst *gocv.Mat) error {
		return gocv.Dilate(src, dst, kernel)
	})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("dilate: %w", err)
	}
	return opened, nil
}

// Dilate grows the mask `iterations` times with a square kernel
func Dilate(input gocv.Mat, kernelSize, iterations int) (gocv.Mat, error) {
	if input.Empty() {
		return gocv.NewMat(), fmt.Errorf("input image is empty")
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	dilated, err := repeat(input, iterations, func(src gocv.Mat, dst *gocv.Mat) error {
		return gocv.Dilate(src, dst, kernel)
	})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("dilate: %w", err)
	}
	return dilated, nil
}

// repeat applies op n times and returns a new Mat owned by the caller.
// The first failure stops the chain.
func repeat(input gocv.Mat, n int, op func(src gocv.Mat, dst *gocv.Mat) error) (gocv.Mat, error) {
	output := input.Clone()
	for i := 0; i < n; i++ {
		temp := gocv.NewMat()
		err := op(output, &temp)
		output.Close()
		if err != nil {
			temp.Close()
			return gocv.NewMat(), fmt.Errorf("iteration %d: %w", i+1, err)
		}
		output = temp
	}
	return output, nil
}

// ClearBorder zeroes every 8-connected foreground component that touches the
// image boundary.
func ClearBorder(mask gocv.Mat) (gocv.Mat, error) {
	if mask.Empty() {
		return gocv.NewMat(), fmt.Errorf("input image is empty")
	}
	if mask.Type() != gocv.MatTypeCV8UC1 {
		return gocv.NewMat(), fmt.Errorf("mask must be 8-bit single channel, got %v", mask.Type())
	}

	labels := gocv.NewMat()
	defer labels.Close()
	gocv.ConnectedComponents(mask, &labels)

	ids, err := labels.DataPtrInt32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("reading component labels: %w", err)
	}

	rows, cols := mask.Rows(), mask.Cols()
	touching := make(map[int32]bool)
	mark := func(idx int) {
		if id := ids[idx]; id != 0 {
			touching[id] = true
		}
	}
	for x := 0; x < cols; x++ {
		mark(x)
		mark((rows-1)*cols + x)
	}
	for y := 0; y < rows; y++ {
		mark(y * cols)
		mark(y*cols + cols - 1)
	}

	output := mask.Clone()
	if len(touching) == 0 {
		return output, nil
	}

	pixels, err := output.DataPtrUint8()
	if err != nil {
		output.Close()
		return gocv.NewMat(), fmt.Errorf("reading mask pixels: %w", err)
	}
	for i, id := range ids {
		if touching[id] {
			pixels[i] = 0
		}
	}

	return output, nil
}
