// Region of interest selection for the analyzed part of a micrograph
package core

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// ROI is a rectangular region of interest. The zero value means
// "not supplied" and falls back to the configured bottom crop.
type ROI struct {
	Rect image.Rectangle
	Set  bool
}

// RectROI creates an explicit region of interest
func RectROI(x, y, width, height int) ROI {
	return ROI{Rect: image.Rect(x, y, x+width, y+height), Set: true}
}

// ParseROI parses "x,y,width,height". An empty string yields the unset ROI.
func ParseROI(s string) (ROI, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ROI{}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return ROI{}, fmt.Errorf("%w: expected x,y,width,height, got %q", ErrInvalidROI, s)
	}

	values := make([]int, 4)
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return ROI{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidROI, part)
		}
		values[i] = v
	}

	if values[0] < 0 || values[1] < 0 {
		return ROI{}, fmt.Errorf("%w: negative origin", ErrInvalidROI)
	}
	if values[2] <= 0 || values[3] <= 0 {
		return ROI{}, fmt.Errorf("%w: width and height must be positive", ErrInvalidROI)
	}

	return RectROI(values[0], values[1], values[2], values[3]), nil
}

// Resolve returns the rectangle to analyze inside bounds.
// An unset ROI trims cropBottom rows from the bottom, unless the image is not
// taller than that, in which case the whole image is used.
func (r ROI) Resolve(bounds image.Rectangle, cropBottom int) (image.Rectangle, error) {
	if bounds.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: image has no pixels", ErrInvalidROI)
	}

	if !r.Set {
		if cropBottom > 0 && bounds.Dy() > cropBottom {
			return image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y-cropBottom), nil
		}
		return bounds, nil
	}

	rect := r.Rect.Intersect(bounds)
	if rect.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: %v lies outside the %dx%d image",
			ErrInvalidROI, r.Rect, bounds.Dx(), bounds.Dy())
	}

	return rect, nil
}

func (r ROI) String() string {
	if !r.Set {
		return "default"
	}
	return fmt.Sprintf("%d,%d,%d,%d", r.Rect.Min.X, r.Rect.Min.Y, r.Rect.Dx(), r.Rect.Dy())
}
