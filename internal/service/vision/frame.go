// Package vision binds the damage assessment loop to OpenCV: video decoding and encoding,
// ONNX segmentation and frame annotation.
package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"roaddamage/internal/service/assessment"
)

// MatFrame is an assessment.Frame backed by an OpenCV matrix.
type MatFrame struct {
	Mat gocv.Mat
}

// NewMatFrame takes ownership of mat.
func NewMatFrame(mat gocv.Mat) *MatFrame {
	return &MatFrame{Mat: mat}
}

func (f *MatFrame) Size() image.Point {
	return image.Pt(f.Mat.Cols(), f.Mat.Rows())
}

func (f *MatFrame) Close() error {
	return f.Mat.Close()
}

// matOf unwraps a frame produced by this package.
func matOf(frame assessment.Frame) (gocv.Mat, error) {
	f, ok := frame.(*MatFrame)
	if !ok {
		return gocv.Mat{}, fmt.Errorf("unsupported frame type %T", frame)
	}
	if f.Mat.Empty() {
		return gocv.Mat{}, fmt.Errorf("frame is empty")
	}
	return f.Mat, nil
}

// EncodeJPEG returns the frame as JPEG bytes.
func EncodeJPEG(frame assessment.Frame) ([]byte, error) {
	mat, err := matOf(frame)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(mat)
}

func encodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}
