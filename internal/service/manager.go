package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"roaddamage/internal/apperr"
	"roaddamage/internal/config"
	"roaddamage/internal/dto"
	"roaddamage/internal/logger"
	"roaddamage/internal/model"
	"roaddamage/internal/repository"
	"roaddamage/internal/service/assessment"
	"roaddamage/internal/service/imaging"
)

// ImageProcessor runs the still-image chain.
type ImageProcessor interface {
	Run(data []byte) (*imaging.Report, error)
}

// Broadcaster delivers progress messages to a user's live viewers.
type Broadcaster interface {
	Broadcast(payload []byte, username string) bool
	ViewerCount(username string) int
}

// FrameEncoder turns an annotated frame into JPEG bytes for live viewers.
type FrameEncoder func(frame assessment.Frame) ([]byte, error)

// Manager is the entry point of the handlers: it runs the pipelines, keeps at most one
// video running per user and records the history.
type Manager struct {
	images      ImageProcessor
	opener      assessment.Opener
	provider    *assessment.ModelProvider
	runner      *assessment.Runner
	hub         Broadcaster
	encode      FrameEncoder
	assessments repository.AssessmentRepository
	frames      repository.FrameMetricRepository
	config      *config.Config
	logger      *logger.Logger

	runningMu sync.Mutex
	running   map[string]context.CancelFunc
}

func NewManager(images ImageProcessor, opener assessment.Opener, provider *assessment.ModelProvider,
	annotator assessment.Annotator, hub Broadcaster, encode FrameEncoder,
	assessments repository.AssessmentRepository, frames repository.FrameMetricRepository,
	config *config.Config, logger *logger.Logger) *Manager {
	manager := &Manager{
		images:      images,
		opener:      opener,
		provider:    provider,
		runner:      assessment.NewRunner(annotator, config.WindowSize, logger),
		hub:         hub,
		encode:      encode,
		assessments: assessments,
		frames:      frames,
		config:      config,
		logger:      logger,
		running:     make(map[string]context.CancelFunc),
	}

	logger.Info("Manager started - model %s, policy %s, window %d", config.ModelPath, provider.Policy(), config.WindowSize)
	return manager
}

// ProcessImage runs the still-image chain over an uploaded image.
func (m *Manager) ProcessImage(data []byte) (*imaging.Report, error) {
	return m.images.Run(data)
}

// AssessVideo runs the damage loop over an uploaded video for username and records the outcome.
// The returned assessment is never nil once the user's slot was claimed.
func (m *Manager) AssessVideo(ctx context.Context, username, sourceName string, upload io.Reader) (*model.Assessment, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := m.claim(username, cancel); err != nil {
		return nil, err
	}
	defer m.release(username)

	a := &model.Assessment{
		ID:         uuid.NewString(),
		Username:   username,
		SourceName: sourceName,
		OutputPath: m.OutputPath(username),
		Status:     model.StatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if m.assessments != nil {
		if err := m.assessments.Insert(a); err != nil {
			m.logger.Error("Failed to record assessment %s: %v", a.ID, err)
		}
	}

	m.logger.WithFields(map[string]interface{}{
		"assessment": a.ID,
		"user":       username,
		"source":     sourceName,
	}).Info("Assessment started")

	result, err := m.run(ctx, a, upload)

	a.FinishedAt = time.Now().UTC()
	if result != nil {
		a.Frames = result.Frames
		a.FinalDamage = result.Final
		a.PeakDamage = result.Peak
	}
	switch {
	case err != nil:
		a.Status = model.StatusFailed
		a.Error = err.Error()
		m.logger.Error("Assessment %s failed after %d frame(s): %v", a.ID, a.Frames, err)
	case result.Interrupted:
		a.Status = model.StatusInterrupted
		m.logger.Info("Assessment %s interrupted after %d frame(s)", a.ID, a.Frames)
	default:
		a.Status = model.StatusCompleted
		m.logger.Info("Assessment %s completed: %d frame(s), final damage %.2f%%", a.ID, a.Frames, a.FinalDamage)
	}

	m.record(a, result)
	m.notify(a, dto.ProgressMessage{
		Type:         dto.ProgressDone,
		AssessmentID: a.ID,
		Index:        a.Frames,
		Smoothed:     a.FinalDamage,
		Status:       a.Status,
	})
	return a, err
}

func (m *Manager) run(ctx context.Context, a *model.Assessment, upload io.Reader) (result *assessment.Result, err error) {
	segmenter, release, err := m.provider.Acquire()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, release())
	}()

	if err := os.MkdirAll(filepath.Dir(a.OutputPath), 0755); err != nil {
		return nil, apperr.New(apperr.IOFailure, "create output directory", err)
	}

	session, err := assessment.Open(m.opener, upload, m.config.TempDirectory, a.OutputPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, session.Close())
	}()

	return session.Run(ctx, m.runner, segmenter, m.observer(a))
}

// observer forwards each frame to the user's live viewers, if any are connected.
func (m *Manager) observer(a *model.Assessment) assessment.Observer {
	if m.hub == nil {
		return nil
	}
	return func(report assessment.FrameReport, frame assessment.Frame) {
		if m.hub.ViewerCount(a.Username) == 0 {
			return
		}
		msg := dto.ProgressMessage{
			Type:         dto.ProgressFrame,
			AssessmentID: a.ID,
			Index:        report.Index,
			Instant:      report.Instant,
			Smoothed:     report.Smoothed,
			Masks:        report.Masks,
		}
		if m.encode != nil {
			data, err := m.encode(frame)
			if err != nil {
				m.logger.Warning("Failed to encode preview frame %d: %v", report.Index, err)
			} else {
				msg.Image = base64.StdEncoding.EncodeToString(data)
			}
		}
		m.notify(a, msg)
	}
}

func (m *Manager) notify(a *model.Assessment, msg dto.ProgressMessage) {
	if m.hub == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("Failed to encode progress message: %v", err)
		return
	}
	m.hub.Broadcast(payload, a.Username)
}

func (m *Manager) record(a *model.Assessment, result *assessment.Result) {
	if m.assessments != nil {
		if err := m.assessments.Finish(a); err != nil {
			m.logger.Error("Failed to update assessment %s: %v", a.ID, err)
		}
	}
	if m.frames == nil || result == nil || len(result.Reports) == 0 {
		return
	}

	metrics := make([]model.FrameMetric, len(result.Reports))
	for i, r := range result.Reports {
		metrics[i] = model.FrameMetric{
			AssessmentID: a.ID,
			FrameIndex:   r.Index,
			Instant:      r.Instant,
			Smoothed:     r.Smoothed,
			Masks:        r.Masks,
		}
	}
	if err := m.frames.InsertBatch(metrics); err != nil {
		m.logger.Error("Failed to record frame metrics of %s: %v", a.ID, err)
	}
}

// Stop interrupts the video running for username. It reports whether one was running.
func (m *Manager) Stop(username string) bool {
	m.runningMu.Lock()
	cancel, ok := m.running[username]
	m.runningMu.Unlock()

	if ok {
		cancel()
		m.logger.Info("Stop requested for %q", username)
	}
	return ok
}

// Running reports whether a video is being processed for username.
func (m *Manager) Running(username string) bool {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	_, ok := m.running[username]
	return ok
}

// OutputPath is where the annotated video of username is written.
func (m *Manager) OutputPath(username string) string {
	return filepath.Join(m.config.OutputDirectory, filepath.Base(username), m.config.OutputVideo)
}

// DeleteAssessment removes one of username's assessments from the history.
func (m *Manager) DeleteAssessment(username, id string) error {
	if m.assessments == nil {
		return apperr.Newf(apperr.IOFailure, "assessment history is disabled")
	}
	a, err := m.assessments.GetByID(id)
	if err != nil {
		return apperr.New(apperr.IOFailure, "load assessment", err)
	}
	if a == nil || a.Username != username {
		return apperr.Newf(apperr.ValidationFailure, "assessment %s not found", id)
	}
	if a.Status == model.StatusRunning && m.Running(username) {
		return apperr.Newf(apperr.Conflict, "assessment %s is still running", id)
	}
	if m.frames != nil {
		if err := m.frames.DeleteByAssessmentID(id); err != nil {
			return apperr.New(apperr.IOFailure, "delete frame metrics", err)
		}
	}
	if err := m.assessments.Delete(id); err != nil {
		return apperr.New(apperr.IOFailure, "delete assessment", err)
	}
	m.logger.Info("Deleted assessment %s", id)
	return nil
}

// Close releases a cached model.
func (m *Manager) Close() error {
	return m.provider.Close()
}

func (m *Manager) claim(username string, cancel context.CancelFunc) error {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()

	if _, busy := m.running[username]; busy {
		return apperr.Newf(apperr.Conflict, "a video is already being processed for %s", username)
	}
	m.running[username] = cancel
	return nil
}

func (m *Manager) release(username string) {
	m.runningMu.Lock()
	delete(m.running, username)
	m.runningMu.Unlock()
}
