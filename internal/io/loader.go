// Image loading for uploaded micrographs
package io

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"grain-size-analysis/internal/core"
)

var supportedFormats = []string{".jpg", ".jpeg", ".png", ".tiff", ".tif", ".bmp"}

// ImageLoader reads color images with OpenCV
type ImageLoader struct {
	logger *logrus.Logger
}

func NewImageLoader(logger *logrus.Logger) *ImageLoader {
	return &ImageLoader{
		logger: logger,
	}
}

// LoadImage reads a 3-channel BGR image from disk. Files without an
// extension are decoded by content; any other extension must be on the
// allow-list.
func (il *ImageLoader) LoadImage(path string) (gocv.Mat, error) {
	il.logger.WithField("filepath", path).Debug("Loading image")

	ext := filepath.Ext(path)
	if ext == "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("reading image: %w", err)
		}
		return il.DecodeImage(data)
	}
	if !IsSupportedImageFormat(path) {
		return gocv.NewMat(), fmt.Errorf("%w: %s (accepted: %s)",
			core.ErrUnsupportedFormat, ext, strings.Join(GetSupportedFormats(), " "))
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("%w: %s", core.ErrDecode, filepath.Base(path))
	}

	il.logImage("Image loaded", path, mat)
	return mat, nil
}

// DecodeImage decodes an in-memory image into a 3-channel BGR Mat
func (il *ImageLoader) DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: no data", core.ErrDecode)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", core.ErrDecode, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), core.ErrDecode
	}

	il.logImage("Image decoded", "", mat)
	return mat, nil
}

func (il *ImageLoader) logImage(msg, path string, mat gocv.Mat) {
	il.logger.WithFields(logrus.Fields{
		"filepath": path,
		"width":    mat.Cols(),
		"height":   mat.Rows(),
		"channels": mat.Channels(),
	}).Debug(msg)
}

// IsSupportedImageFormat checks the file extension against the allow-list
func IsSupportedImageFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// GetSupportedFormats lists the accepted extensions
func GetSupportedFormats() []string {
	return append([]string(nil), supportedFormats...)
}
