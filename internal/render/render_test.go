package render

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func decodeBase64Image(t *testing.T, text string) gocv.Mat {
	t.Helper()

	data, err := base64.StdEncoding.DecodeString(text)
	require.NoError(t, err)

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	require.NoError(t, err)
	require.False(t, img.Empty())
	return img
}

func TestScopeReleasesFigures(t *testing.T) {
	baseline := OpenFigures()

	scope := NewScope()
	a, err := scope.NewFigure(100, 50)
	require.NoError(t, err)
	_, err = scope.NewFigure(20, 20)
	require.NoError(t, err)
	assert.Equal(t, baseline+2, OpenFigures())

	assert.Equal(t, 50, a.Canvas.Rows())
	assert.Equal(t, 100, a.Canvas.Cols())

	a.Close()
	a.Close()
	assert.Equal(t, baseline+1, OpenFigures())

	scope.Close()
	assert.Equal(t, baseline, OpenFigures())

	_, err = scope.NewFigure(10, 10)
	assert.Error(t, err)
}

func TestNewFigureRejectsBadSize(t *testing.T) {
	scope := NewScope()
	defer scope.Close()

	_, err := scope.NewFigure(0, 10)
	assert.Error(t, err)
}

func TestDistributionPlotDoesNotLeakFigures(t *testing.T) {
	baseline := OpenFigures()
	opts := DefaultPlotOptions()

	for i := 0; i < 5; i++ {
		scope := NewScope()
		encoded, err := DistributionPlot(scope,
			[]float64{12.5, 13, 40, 41.25, 90},
			[]float64{10, 11, 20, 22, 35},
			"sample.png", opts)
		require.NoError(t, err)
		// the plot closes its own figure before the scope does
		assert.Equal(t, baseline, OpenFigures())
		scope.Close()

		img := decodeBase64Image(t, encoded)
		assert.Equal(t, opts.Width, img.Cols())
		assert.Equal(t, opts.Height, img.Rows())
		img.Close()
	}

	assert.Equal(t, baseline, OpenFigures())
}

func TestDistributionPlotWithoutGrains(t *testing.T) {
	scope := NewScope()
	defer scope.Close()

	encoded, err := DistributionPlot(scope, nil, nil, "empty.png", DefaultPlotOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)
}

func TestColorize(t *testing.T) {
	labels := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV32SC1)
	defer labels.Close()
	ids, err := labels.DataPtrInt32()
	require.NoError(t, err)
	copy(ids, []int32{10, 11, 12, -1, 11, 10})

	colored, err := Colorize(labels, 10)
	require.NoError(t, err)
	defer colored.Close()

	require.Equal(t, gocv.MatTypeCV8UC3, colored.Type())
	px := colored.ToBytes()
	bgr := func(i int) [3]uint8 { return [3]uint8{px[3*i], px[3*i+1], px[3*i+2]} }

	assert.Equal(t, [3]uint8{0, 0, 0}, bgr(0), "background")
	assert.Equal(t, [3]uint8{0, 0, 0}, bgr(3), "ridge")
	assert.Equal(t, [3]uint8{0, 0, 255}, bgr(1), "first label is red")
	assert.Equal(t, [3]uint8{255, 0, 0}, bgr(2), "second label is blue")
	assert.Equal(t, bgr(1), bgr(4))
}

func TestColorizeRejectsWrongType(t *testing.T) {
	gray := gocv.Zeros(4, 4, gocv.MatTypeCV8UC1)
	defer gray.Close()

	_, err := Colorize(gray, 0)
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	_, err := EncodePNG(empty)
	assert.Error(t, err)

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 128, 255, 0), 16, 16, gocv.MatTypeCV8UC3)
	defer img.Close()

	encoded, err := EncodeJPEG(img, 90)
	require.NoError(t, err)
	decoded := decodeBase64Image(t, encoded)
	defer decoded.Close()
	assert.Equal(t, 16, decoded.Rows())
}

func TestNiceStep(t *testing.T) {
	assert.Equal(t, 1.0, niceStep(3, 5))
	assert.Equal(t, 2.0, niceStep(10, 5))
	assert.Equal(t, 5.0, niceStep(22, 5))
	assert.Equal(t, 20.0, niceStep(100, 5))
}
