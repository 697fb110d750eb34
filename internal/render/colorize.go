package render

import (
	"fmt"
	"image/color"
	"sort"

	"gocv.io/x/gocv"
)

// labelPalette cycles through distinct colors in label order
var labelPalette = []color.RGBA{
	{R: 255, G: 0, B: 0, A: 255},     // red
	{R: 0, G: 0, B: 255, A: 255},     // blue
	{R: 255, G: 255, B: 0, A: 255},   // yellow
	{R: 255, G: 0, B: 255, A: 255},   // magenta
	{R: 0, G: 128, B: 0, A: 255},     // green
	{R: 75, G: 0, B: 130, A: 255},    // indigo
	{R: 255, G: 140, B: 0, A: 255},   // darkorange
	{R: 0, G: 255, B: 255, A: 255},   // cyan
	{R: 255, G: 192, B: 203, A: 255}, // pink
	{R: 154, G: 205, B: 50, A: 255},  // yellowgreen
}

// Colorize maps a CV_32SC1 label map to a BGR image. Each positive label
// other than background gets a palette color; background, ridges and
// unlabeled pixels stay black.
func Colorize(labels gocv.Mat, background int32) (gocv.Mat, error) {
	if labels.Type() != gocv.MatTypeCV32SC1 {
		return gocv.NewMat(), fmt.Errorf("label map must be CV_32SC1, got %v", labels.Type())
	}

	ids, err := labels.DataPtrInt32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("reading label map: %w", err)
	}

	present := make(map[int32]struct{})
	for _, id := range ids {
		if id > 0 && id != background {
			present[id] = struct{}{}
		}
	}
	order := make([]int32, 0, len(present))
	for id := range present {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	colors := make(map[int32]color.RGBA, len(order))
	for rank, id := range order {
		colors[id] = labelPalette[rank%len(labelPalette)]
	}

	out := gocv.Zeros(labels.Rows(), labels.Cols(), gocv.MatTypeCV8UC3)
	pixels, err := out.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), fmt.Errorf("reading output pixels: %w", err)
	}

	for i, id := range ids {
		c, ok := colors[id]
		if !ok {
			continue
		}
		pixels[3*i] = c.B
		pixels[3*i+1] = c.G
		pixels[3*i+2] = c.R
	}

	return out, nil
}
