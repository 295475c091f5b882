package vision

import (
	"context"
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"

	"roaddamage/internal/config"
	"roaddamage/internal/service/assessment"
)

// VideoSource decodes frames from a video file.
type VideoSource struct {
	capture *gocv.VideoCapture
	size    image.Point
}

// OpenVideoSource opens path for decoding.
func OpenVideoSource(path string) (*VideoSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video %s could not be opened", path)
	}

	size := image.Pt(
		int(capture.Get(gocv.VideoCaptureFrameWidth)),
		int(capture.Get(gocv.VideoCaptureFrameHeight)),
	)
	if size.X <= 0 || size.Y <= 0 {
		capture.Close()
		return nil, fmt.Errorf("video %s reports frame size %v", path, size)
	}

	return &VideoSource{capture: capture, size: size}, nil
}

// Read returns the next frame, or io.EOF once the stream has no more frames.
func (s *VideoSource) Read(ctx context.Context) (assessment.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, io.EOF
	}
	return NewMatFrame(mat), nil
}

func (s *VideoSource) Size() image.Point {
	return s.size
}

func (s *VideoSource) Close() error {
	return s.capture.Close()
}

// VideoSink encodes frames into a video file.
type VideoSink struct {
	writer *gocv.VideoWriter
}

// OpenVideoSink creates path with the given codec, frame rate and frame size.
func OpenVideoSink(path, codec string, fps float64, size image.Point) (*VideoSink, error) {
	writer, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video writer %s: %w", path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("video writer %s could not be opened with codec %s", path, codec)
	}
	return &VideoSink{writer: writer}, nil
}

func (s *VideoSink) Write(frame assessment.Frame) error {
	mat, err := matOf(frame)
	if err != nil {
		return err
	}
	return s.writer.Write(mat)
}

func (s *VideoSink) Close() error {
	return s.writer.Close()
}

// Opener opens file-backed sources and sinks with the configured output encoding.
type Opener struct {
	Codec string
	FPS   float64
}

// NewOpener reads the output encoding from cfg.
func NewOpener(cfg *config.Config) *Opener {
	return &Opener{Codec: cfg.OutputCodec, FPS: cfg.OutputFPS}
}

func (o *Opener) OpenSource(path string) (assessment.Source, error) {
	source, err := OpenVideoSource(path)
	if err != nil {
		return nil, err
	}
	return source, nil
}

func (o *Opener) OpenSink(path string, size image.Point) (assessment.Sink, error) {
	sink, err := OpenVideoSink(path, o.Codec, o.FPS, size)
	if err != nil {
		return nil, err
	}
	return sink, nil
}
