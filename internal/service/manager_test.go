package service

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roaddamage/internal/apperr"
	"roaddamage/internal/config"
	"roaddamage/internal/dto"
	"roaddamage/internal/logger"
	"roaddamage/internal/model"
	"roaddamage/internal/repository/sqlite"
	"roaddamage/internal/service/assessment"
	"roaddamage/internal/service/imaging"
)

type stubFrame struct{ size image.Point }

func (f *stubFrame) Size() image.Point { return f.size }
func (f *stubFrame) Close() error      { return nil }

type stubMask float64

func (m stubMask) Area() float64 { return float64(m) }

// stubSource yields n frames. With hold set, the second read waits until hold is
// closed or the context is cancelled.
type stubSource struct {
	n       int
	read    int
	hold    chan struct{}
	started chan struct{}
}

func (s *stubSource) Read(ctx context.Context) (assessment.Frame, error) {
	if s.read >= s.n {
		return nil, io.EOF
	}
	if s.hold != nil && s.read == 1 {
		close(s.started)
		select {
		case <-s.hold:
		case <-ctx.Done():
		}
	}
	s.read++
	return &stubFrame{size: image.Pt(10, 10)}, nil
}

func (s *stubSource) Size() image.Point { return image.Pt(10, 10) }
func (s *stubSource) Close() error      { return nil }

type stubSink struct{ written int }

func (s *stubSink) Write(assessment.Frame) error { s.written++; return nil }
func (s *stubSink) Close() error                 { return nil }

type stubOpener struct {
	source  *stubSource
	sink    *stubSink
	openErr error
}

func (o *stubOpener) OpenSource(string) (assessment.Source, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	return o.source, nil
}

func (o *stubOpener) OpenSink(string, image.Point) (assessment.Sink, error) {
	return o.sink, nil
}

type stubPrediction struct{ masks []assessment.Mask }

func (p *stubPrediction) Masks() []assessment.Mask { return p.masks }
func (p *stubPrediction) Render() (assessment.Frame, error) {
	return &stubFrame{size: image.Pt(10, 10)}, nil
}
func (p *stubPrediction) Close() error { return nil }

// stubModel covers a quarter of every frame.
type stubModel struct{}

func (stubModel) Predict(context.Context, assessment.Frame) (assessment.Prediction, error) {
	return &stubPrediction{masks: []assessment.Mask{stubMask(25)}}, nil
}
func (stubModel) Close() error { return nil }

type stubAnnotator struct{}

func (stubAnnotator) Annotate(assessment.Frame, float64) error { return nil }

type stubImages struct{ report *imaging.Report }

func (s *stubImages) Run([]byte) (*imaging.Report, error) { return s.report, nil }

type recordingHub struct {
	mu       sync.Mutex
	viewers  int
	messages []dto.ProgressMessage
}

func (h *recordingHub) Broadcast(payload []byte, username string) bool {
	var msg dto.ProgressMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return false
	}
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
	return true
}

func (h *recordingHub) ViewerCount(string) int { return h.viewers }

type managerFixture struct {
	manager *Manager
	opener  *stubOpener
	hub     *recordingHub
	repo    *sqlite.AssessmentRepository
	frames  *sqlite.FrameMetricRepository
	cfg     *config.Config
}

func newManagerFixture(t *testing.T, frames int, loadErr error) *managerFixture {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		ModelPath:       "model.onnx",
		ModelPolicy:     config.ModelPolicyReload,
		WindowSize:      20,
		OutputDirectory: filepath.Join(dir, "out"),
		OutputVideo:     "road_damage_assessment.avi",
		TempDirectory:   dir,
		LogDirectory:    filepath.Join(dir, "logs"),
		LogLevel:        "info",
	}
	lg := logger.NewLogger(cfg)
	t.Cleanup(func() { lg.Close() })

	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &managerFixture{
		opener: &stubOpener{source: &stubSource{n: frames}, sink: &stubSink{}},
		hub:    &recordingHub{viewers: 1},
		repo:   sqlite.NewAssessmentRepository(db),
		frames: sqlite.NewFrameMetricRepository(db),
		cfg:    cfg,
	}

	provider := assessment.NewModelProvider(cfg.ModelPath, cfg.ModelPolicy, func(string) (assessment.Model, error) {
		if loadErr != nil {
			return nil, loadErr
		}
		return stubModel{}, nil
	})
	encode := func(assessment.Frame) ([]byte, error) { return []byte{0xff, 0xd8}, nil }

	f.manager = NewManager(&stubImages{report: &imaging.Report{Message: imaging.NoPotholeDetected}},
		f.opener, provider, stubAnnotator{}, f.hub, encode, f.repo, f.frames, cfg, lg)
	return f
}

func TestAssessVideo_CompletesAndRecords(t *testing.T) {
	f := newManagerFixture(t, 3, nil)

	a, err := f.manager.AssessVideo(context.Background(), "ann", "road.mp4", strings.NewReader("video"))
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, a.Status)
	require.Equal(t, 3, a.Frames)
	require.InDelta(t, 25.0, a.FinalDamage, 1e-9)
	require.InDelta(t, 25.0, a.PeakDamage, 1e-9)
	require.Equal(t, 3, f.opener.sink.written)
	require.False(t, f.manager.Running("ann"))

	stored, err := f.repo.GetByID(a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, model.StatusCompleted, stored.Status)
	require.Equal(t, 3, stored.Frames)
	require.Equal(t, filepath.Join(f.cfg.OutputDirectory, "ann", "road_damage_assessment.avi"), stored.OutputPath)

	metrics, err := f.frames.GetByAssessmentID(a.ID)
	require.NoError(t, err)
	require.Len(t, metrics, 3)
	require.Equal(t, 2, metrics[2].FrameIndex)
	require.Equal(t, 1, metrics[0].Masks)

	require.Len(t, f.hub.messages, 4)
	require.Equal(t, dto.ProgressFrame, f.hub.messages[0].Type)
	require.Equal(t, "/9g=", f.hub.messages[0].Image)
	last := f.hub.messages[3]
	require.Equal(t, dto.ProgressDone, last.Type)
	require.Equal(t, model.StatusCompleted, last.Status)
	require.Equal(t, a.ID, last.AssessmentID)

	entries, err := os.ReadDir(f.cfg.TempDirectory)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasPrefix(e.Name(), "upload-"), "temporary upload %s left behind", e.Name())
	}
}

func TestAssessVideo_NoViewersSkipsPreviews(t *testing.T) {
	f := newManagerFixture(t, 2, nil)
	f.hub.viewers = 0

	_, err := f.manager.AssessVideo(context.Background(), "ann", "road.mp4", strings.NewReader("video"))
	require.NoError(t, err)
	require.Len(t, f.hub.messages, 1)
	require.Equal(t, dto.ProgressDone, f.hub.messages[0].Type)
}

func TestAssessVideo_OneRunPerUserAndStop(t *testing.T) {
	f := newManagerFixture(t, 5, nil)
	source := f.opener.source
	source.hold = make(chan struct{})
	source.started = make(chan struct{})

	type outcome struct {
		a   *model.Assessment
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		a, err := f.manager.AssessVideo(context.Background(), "ann", "road.mp4", strings.NewReader("video"))
		done <- outcome{a, err}
	}()

	select {
	case <-source.started:
	case <-time.After(5 * time.Second):
		t.Fatal("assessment never started")
	}
	require.True(t, f.manager.Running("ann"))

	_, err := f.manager.AssessVideo(context.Background(), "ann", "other.mp4", strings.NewReader("video"))
	require.Equal(t, apperr.Conflict, apperr.KindOf(err))

	require.False(t, f.manager.Stop("bob"))
	require.True(t, f.manager.Stop("ann"))

	var got outcome
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("assessment did not stop")
	}
	require.NoError(t, got.err)
	require.Equal(t, model.StatusInterrupted, got.a.Status)
	require.Equal(t, 2, got.a.Frames)
	require.False(t, f.manager.Running("ann"))

	stored, err := f.repo.GetByID(got.a.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusInterrupted, stored.Status)
}

func TestAssessVideo_ModelLoadFailure(t *testing.T) {
	f := newManagerFixture(t, 3, errors.New("no such file"))

	a, err := f.manager.AssessVideo(context.Background(), "ann", "road.mp4", strings.NewReader("video"))
	require.Error(t, err)
	require.Equal(t, apperr.ModelLoadFailure, apperr.KindOf(err))
	require.Equal(t, model.StatusFailed, a.Status)
	require.NotEmpty(t, a.Error)

	stored, err := f.repo.GetByID(a.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, stored.Status)
	require.False(t, f.manager.Running("ann"))
}

func TestAssessVideo_UndecodableVideo(t *testing.T) {
	f := newManagerFixture(t, 3, nil)
	f.opener.openErr = errors.New("cannot open")

	a, err := f.manager.AssessVideo(context.Background(), "ann", "road.mp4", strings.NewReader("video"))
	require.Equal(t, apperr.DecodeFailure, apperr.KindOf(err))
	require.Equal(t, model.StatusFailed, a.Status)
	require.Zero(t, a.Frames)
}

func TestDeleteAssessment_ChecksOwner(t *testing.T) {
	f := newManagerFixture(t, 1, nil)

	a, err := f.manager.AssessVideo(context.Background(), "ann", "road.mp4", strings.NewReader("video"))
	require.NoError(t, err)

	err = f.manager.DeleteAssessment("bob", a.ID)
	require.Equal(t, apperr.ValidationFailure, apperr.KindOf(err))

	metrics, err := f.frames.GetByAssessmentID(a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, metrics)

	require.NoError(t, f.manager.DeleteAssessment("ann", a.ID))
	stored, err := f.repo.GetByID(a.ID)
	require.NoError(t, err)
	require.Nil(t, stored)

	metrics, err = f.frames.GetByAssessmentID(a.ID)
	require.NoError(t, err)
	require.Empty(t, metrics)
}

func TestProcessImage_Delegates(t *testing.T) {
	f := newManagerFixture(t, 1, nil)

	report, err := f.manager.ProcessImage([]byte("jpeg"))
	require.NoError(t, err)
	require.Equal(t, imaging.NoPotholeDetected, report.Message)
}
