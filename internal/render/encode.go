package render

import (
	"encoding/base64"
	"fmt"

	"gocv.io/x/gocv"
)

// EncodePNG encodes a Mat as PNG and returns the standard base64 text
func EncodePNG(mat gocv.Mat) (string, error) {
	return encode(mat, gocv.PNGFileExt, nil)
}

// EncodeJPEG encodes a Mat as JPEG at the given quality and returns the
// standard base64 text
func EncodeJPEG(mat gocv.Mat, quality int) (string, error) {
	return encode(mat, gocv.JPEGFileExt, []int{gocv.IMWriteJpegQuality, quality})
}

func encode(mat gocv.Mat, ext gocv.FileExt, params []int) (string, error) {
	if mat.Empty() {
		return "", fmt.Errorf("cannot encode empty image")
	}

	var (
		buf *gocv.NativeByteBuffer
		err error
	)
	if len(params) > 0 {
		buf, err = gocv.IMEncodeWithParams(ext, mat, params)
	} else {
		buf, err = gocv.IMEncode(ext, mat)
	}
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", ext, err)
	}
	defer buf.Close()

	return base64.StdEncoding.EncodeToString(buf.GetBytes()), nil
}
