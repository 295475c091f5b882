package assessment

import (
	"context"
	"image"
)

// Frame is one decoded picture, owned by a single loop iteration.
type Frame interface {
	Size() image.Point
	Close() error
}

// Source yields frames in stream order. Read returns io.EOF once the stream is exhausted.
type Source interface {
	Read(ctx context.Context) (Frame, error)
	Size() image.Point
	Close() error
}

// Sink receives annotated frames in the order they are written.
type Sink interface {
	Write(frame Frame) error
	Close() error
}

// Prediction is the model output for one frame.
type Prediction interface {
	Masks() []Mask
	// Render returns a new frame with the model's mask visualization; the caller closes it.
	Render() (Frame, error)
	Close() error
}

// Model runs segmentation on a frame.
type Model interface {
	Predict(ctx context.Context, frame Frame) (Prediction, error)
	Close() error
}

// Annotator draws the smoothed damage figure onto a frame in place.
type Annotator interface {
	Annotate(frame Frame, smoothed float64) error
}

// FrameReport summarizes one processed frame.
type FrameReport struct {
	Index    int     `json:"index"`
	Instant  float64 `json:"instant"`
	Smoothed float64 `json:"smoothed"`
	Masks    int     `json:"masks"`
}

// Observer is called after each frame is written. The frame is only valid during the call.
type Observer func(report FrameReport, annotated Frame)

// Opener opens the video endpoints of a session.
type Opener interface {
	OpenSource(path string) (Source, error)
	OpenSink(path string, size image.Point) (Sink, error)
}
