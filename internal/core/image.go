package core

import (
	"fmt"

	"gocv.io/x/gocv"
)

// maxDimension bounds either side of an analyzed image
const maxDimension = 16384

// ImageMetadata contains image information
type ImageMetadata struct {
	Width    int
	Height   int
	Channels int
	Type     gocv.MatType
}

// MetadataOf describes a Mat
func MetadataOf(mat gocv.Mat) ImageMetadata {
	return ImageMetadata{
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Channels: mat.Channels(),
		Type:     mat.Type(),
	}
}

// ValidateImage validates an OpenCV Mat for basic requirements
func ValidateImage(mat gocv.Mat) error {
	if mat.Empty() {
		return fmt.Errorf("%w: image is empty", ErrDecode)
	}

	if mat.Cols() <= 0 || mat.Rows() <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, mat.Cols(), mat.Rows())
	}

	channels := mat.Channels()
	if channels != 1 && channels != 3 && channels != 4 {
		return fmt.Errorf("%w: unsupported channel count %d", ErrDecode, channels)
	}

	if mat.Cols() > maxDimension || mat.Rows() > maxDimension {
		return fmt.Errorf("%w: image %dx%d exceeds %d pixels per side",
			ErrTooLarge, mat.Cols(), mat.Rows(), maxDimension)
	}

	return nil
}
