package assessment

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"

	"roaddamage/internal/config"
	"roaddamage/internal/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg := logger.NewLogger(&config.Config{LogDirectory: t.TempDir(), LogLevel: "info"})
	t.Cleanup(func() { lg.Close() })
	return lg
}

type fakeFrame struct {
	id     int
	size   image.Point
	closed int
}

func (f *fakeFrame) Size() image.Point { return f.size }
func (f *fakeFrame) Close() error      { f.closed++; return nil }

type fakeMask float64

func (m fakeMask) Area() float64 { return float64(m) }

// fakeSource yields n frames of the given size.
type fakeSource struct {
	n      int
	size   image.Point
	read   int
	closed int
	frames []*fakeFrame
	// cancelAfter cancels the context once this many frames were read (0 disables).
	cancelAfter int
	cancel      context.CancelFunc
}

func (s *fakeSource) Read(ctx context.Context) (Frame, error) {
	if s.read >= s.n {
		return nil, io.EOF
	}
	f := &fakeFrame{id: s.read, size: s.size}
	s.read++
	s.frames = append(s.frames, f)
	if s.cancelAfter > 0 && s.read == s.cancelAfter && s.cancel != nil {
		s.cancel()
	}
	return f, nil
}

func (s *fakeSource) Size() image.Point { return s.size }
func (s *fakeSource) Close() error      { s.closed++; return nil }

type fakeSink struct {
	written []int
	closed  int
	failAt  int
}

func (s *fakeSink) Write(frame Frame) error {
	f := frame.(*fakeFrame)
	if s.failAt > 0 && len(s.written)+1 == s.failAt {
		return errors.New("disk full")
	}
	s.written = append(s.written, f.id)
	return nil
}

func (s *fakeSink) Close() error { s.closed++; return nil }

type fakePrediction struct {
	masks  []Mask
	frame  *fakeFrame
	closed bool
}

func (p *fakePrediction) Masks() []Mask { return p.masks }
func (p *fakePrediction) Render() (Frame, error) {
	return &fakeFrame{id: p.frame.id, size: p.frame.size}, nil
}
func (p *fakePrediction) Close() error { p.closed = true; return nil }

// fakeModel returns the masks scripted for each frame index; missing entries mean no masks.
type fakeModel struct {
	masks  map[int][]Mask
	err    error
	closed int
}

func (m *fakeModel) Predict(ctx context.Context, frame Frame) (Prediction, error) {
	if m.err != nil {
		return nil, m.err
	}
	f := frame.(*fakeFrame)
	return &fakePrediction{masks: m.masks[f.id], frame: f}, nil
}

func (m *fakeModel) Close() error { m.closed++; return nil }

type fakeAnnotator struct {
	mu       sync.Mutex
	smoothed []float64
}

func (a *fakeAnnotator) Annotate(frame Frame, smoothed float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.smoothed = append(a.smoothed, smoothed)
	return nil
}

type fakeOpener struct {
	source    *fakeSource
	sink      *fakeSink
	sourceErr error
	sinkErr   error
	sinkSize  image.Point
}

func (o *fakeOpener) OpenSource(path string) (Source, error) {
	if o.sourceErr != nil {
		return nil, o.sourceErr
	}
	return o.source, nil
}

func (o *fakeOpener) OpenSink(path string, size image.Point) (Sink, error) {
	if o.sinkErr != nil {
		return nil, o.sinkErr
	}
	o.sinkSize = size
	return o.sink, nil
}
