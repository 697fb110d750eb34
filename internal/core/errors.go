package core

import "errors"

// Client-side faults. The HTTP layer reports these with a 4xx status.
var (
	ErrNoFile            = errors.New("no file part")
	ErrEmptyFilename     = errors.New("no selected file")
	ErrDecode            = errors.New("could not read the image file")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidScale      = errors.New("invalid pixel scale")
	ErrInvalidROI        = errors.New("invalid region of interest")
	ErrTooLarge          = errors.New("upload exceeds size limit")
)

// ErrProcessing wraps any unexpected fault inside the pipeline.
var ErrProcessing = errors.New("error processing image")

// IsClientError reports whether err was caused by the request input
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrNoFile, ErrEmptyFilename, ErrDecode, ErrUnsupportedFormat,
		ErrInvalidScale, ErrInvalidROI, ErrTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
