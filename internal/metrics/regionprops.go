// Geometric properties of labeled regions
package metrics

import (
	"fmt"
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

// Region holds the pixel-unit geometry of one label
type Region struct {
	Label int32
	Area  int
	// Centroid is (row, col)
	Centroid           [2]float64
	BBox               image.Rectangle
	Perimeter          float64
	EquivalentDiameter float64
	// Orientation is the angle between the row axis and the major axis,
	// in radians within [-pi/2, pi/2]
	Orientation     float64
	MajorAxisLength float64
	MinorAxisLength float64
}

type accumulator struct {
	count                  int
	sumR, sumC             int64
	minX, minY, maxX, maxY int
}

// moments are the second order central moments normalized by area
type moments struct {
	rr, cc, rc float64
}

// RegionProps measures every positive label in a CV_32SC1 label map.
// Ridge (-1) and unlabeled (0) pixels are ignored. Regions are returned in
// ascending label order.
func RegionProps(labels gocv.Mat) ([]Region, error) {
	if labels.Empty() {
		return nil, fmt.Errorf("label map is empty")
	}
	if labels.Type() != gocv.MatTypeCV32SC1 {
		return nil, fmt.Errorf("label map must be CV_32SC1, got %v", labels.Type())
	}

	ids, err := labels.DataPtrInt32()
	if err != nil {
		return nil, fmt.Errorf("reading label map: %w", err)
	}

	rows, cols := labels.Rows(), labels.Cols()
	acc := make(map[int32]*accumulator)

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			id := ids[y*cols+x]
			if id <= 0 {
				continue
			}
			a, ok := acc[id]
			if !ok {
				a = &accumulator{minX: x, minY: y, maxX: x, maxY: y}
				acc[id] = a
			}
			a.count++
			a.sumR += int64(y)
			a.sumC += int64(x)
			a.minX = min(a.minX, x)
			a.maxX = max(a.maxX, x)
			a.minY = min(a.minY, y)
			a.maxY = max(a.maxY, y)
		}
	}

	keys := make([]int32, 0, len(acc))
	for id := range acc {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	regions := make([]Region, 0, len(keys))
	for _, id := range keys {
		region := acc[id].region(id)
		shape(&region, centralMoments(ids, cols, id, region.BBox, region.Centroid))

		perimeter, err := labelPerimeter(ids, cols, id, region.BBox)
		if err != nil {
			return nil, fmt.Errorf("perimeter of label %d: %w", id, err)
		}
		region.Perimeter = perimeter

		regions = append(regions, region)
	}

	return regions, nil
}

func (a *accumulator) region(id int32) Region {
	n := float64(a.count)
	return Region{
		Label:              id,
		Area:               a.count,
		Centroid:           [2]float64{float64(a.sumR) / n, float64(a.sumC) / n},
		BBox:               image.Rect(a.minX, a.minY, a.maxX+1, a.maxY+1),
		EquivalentDiameter: math.Sqrt(4 * n / math.Pi),
	}
}

// centralMoments sums offsets from the centroid over the bounding box so
// the result does not depend on where the region sits in the image.
func centralMoments(ids []int32, cols int, id int32, bbox image.Rectangle, centroid [2]float64) moments {
	var m moments
	n := 0
	for y := bbox.Min.Y; y < bbox.Max.Y; y++ {
		dr := float64(y) - centroid[0]
		row := y * cols
		for x := bbox.Min.X; x < bbox.Max.X; x++ {
			if ids[row+x] != id {
				continue
			}
			dc := float64(x) - centroid[1]
			m.rr += dr * dr
			m.cc += dc * dc
			m.rc += dr * dc
			n++
		}
	}
	if n > 0 {
		m.rr /= float64(n)
		m.cc /= float64(n)
		m.rc /= float64(n)
	}
	return m
}

// shape fills the ellipse axes and orientation from the central moments.
// A region with equal row and column spread lies on a diagonal, tilted
// against the sign of its mixed moment.
func shape(region *Region, mu moments) {
	half := (mu.rr + mu.cc) / 2
	spread := math.Sqrt(((mu.rr-mu.cc)/2)*((mu.rr-mu.cc)/2) + mu.rc*mu.rc)
	major := math.Max(half+spread, 0)
	minor := math.Max(half-spread, 0)

	if mu.rr-mu.cc == 0 {
		if mu.rc > 0 {
			region.Orientation = -math.Pi / 4
		} else {
			region.Orientation = math.Pi / 4
		}
	} else {
		region.Orientation = 0.5 * math.Atan2(2*mu.rc, mu.rr-mu.cc)
	}
	region.MajorAxisLength = 4 * math.Sqrt(major)
	region.MinorAxisLength = 4 * math.Sqrt(minor)
}

// labelPerimeter traces the outer and hole contours of one label inside its
// bounding box and sums their closed arc lengths.
func labelPerimeter(ids []int32, cols int, id int32, bbox image.Rectangle) (float64, error) {
	w, h := bbox.Dx(), bbox.Dy()

	// one pixel of padding keeps contours off the mask edge
	mask := gocv.Zeros(h+2, w+2, gocv.MatTypeCV8UC1)
	defer mask.Close()

	pixels, err := mask.DataPtrUint8()
	if err != nil {
		return 0, err
	}
	for y := 0; y < h; y++ {
		row := (bbox.Min.Y + y) * cols
		for x := 0; x < w; x++ {
			if ids[row+bbox.Min.X+x] == id {
				pixels[(y+1)*(w+2)+x+1] = 255
			}
		}
	}

	contours := gocv.FindContours(mask, gocv.RetrievalList, gocv.ChainApproxNone)
	defer contours.Close()

	perimeter := 0.0
	for i := 0; i < contours.Size(); i++ {
		perimeter += gocv.ArcLength(contours.At(i), true)
	}

	return perimeter, nil
}
