package assessment

import (
	"context"
	"errors"
	"fmt"
	"io"

	"roaddamage/internal/apperr"
	"roaddamage/internal/logger"
)

// Result is the outcome of one run over a video.
type Result struct {
	Frames      int
	Final       float64
	Peak        float64
	Interrupted bool
	Reports     []FrameReport
}

// Runner drives the per-frame damage loop.
type Runner struct {
	annotator  Annotator
	windowSize int
	logger     *logger.Logger
}

// NewRunner creates a runner that smooths over windowSize frames.
func NewRunner(annotator Annotator, windowSize int, logger *logger.Logger) *Runner {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Runner{
		annotator:  annotator,
		windowSize: windowSize,
		logger:     logger,
	}
}

// Run processes src frame by frame until end of stream or ctx cancellation.
// Frames are written to sink strictly in the order they are read.
// Cancellation is not an error: the result is marked Interrupted.
func (r *Runner) Run(ctx context.Context, src Source, sink Sink, model Model, observe Observer) (*Result, error) {
	window := NewWindow(r.windowSize)
	result := &Result{}

	for index := 0; ; index++ {
		if ctx.Err() != nil {
			result.Interrupted = true
			r.logger.Info("Assessment interrupted after %d frame(s)", result.Frames)
			return result, nil
		}

		frame, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			r.logger.Info("End of stream after %d frame(s)", result.Frames)
			return result, nil
		}
		if err != nil {
			if r.cancelled(ctx, err) {
				result.Interrupted = true
				return result, nil
			}
			return result, apperr.New(apperr.DecodeFailure, fmt.Sprintf("read frame %d", index), err)
		}

		report, err := r.processFrame(ctx, index, frame, window, sink, model, observe)
		frame.Close()
		if err != nil {
			if r.cancelled(ctx, err) {
				result.Interrupted = true
				return result, nil
			}
			return result, err
		}

		result.Frames++
		result.Final = report.Smoothed
		if report.Smoothed > result.Peak {
			result.Peak = report.Smoothed
		}
		result.Reports = append(result.Reports, report)
	}
}

// cancelled reports whether err is ctx's own cancellation surfacing from a blocking call.
func (r *Runner) cancelled(ctx context.Context, err error) bool {
	if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
		return false
	}
	r.logger.Info("Assessment interrupted during a frame: %v", err)
	return true
}

func (r *Runner) processFrame(ctx context.Context, index int, frame Frame, window *Window, sink Sink, model Model, observe Observer) (FrameReport, error) {
	prediction, err := model.Predict(ctx, frame)
	if err != nil {
		return FrameReport{}, apperr.New(apperr.InferenceFailure, fmt.Sprintf("predict frame %d", index), err)
	}
	defer prediction.Close()

	masks := prediction.Masks()
	instant := Percentage(TotalArea(masks), frame.Size())

	window.Push(instant)
	report := FrameReport{
		Index:    index,
		Instant:  instant,
		Smoothed: window.Mean(),
		Masks:    len(masks),
	}

	rendered, err := prediction.Render()
	if err != nil {
		return report, apperr.New(apperr.InferenceFailure, fmt.Sprintf("render frame %d", index), err)
	}
	defer rendered.Close()

	if err := r.annotator.Annotate(rendered, report.Smoothed); err != nil {
		return report, apperr.New(apperr.IOFailure, fmt.Sprintf("annotate frame %d", index), err)
	}

	if err := sink.Write(rendered); err != nil {
		return report, apperr.New(apperr.IOFailure, fmt.Sprintf("write frame %d", index), err)
	}

	r.logger.Debug("Frame %d: %d mask(s), damage %.2f%%, smoothed %.2f%%",
		index, report.Masks, report.Instant, report.Smoothed)

	if observe != nil {
		observe(report, rendered)
	}

	return report, nil
}
