package assessment

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/multierr"

	"roaddamage/internal/apperr"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateOpened
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Session owns the temporary input copy and both video handles for one upload.
// Close releases all of them exactly once.
type Session struct {
	tempPath string
	source   Source
	sink     Sink

	mu        sync.Mutex
	state     State
	closeOnce sync.Once
	closeErr  error
}

// Open copies upload into a temporary file under tempDir, opens it as a frame source and
// opens an output sink at outputPath with the source's frame size.
// On failure everything acquired so far is released before returning.
func Open(opener Opener, upload io.Reader, tempDir, outputPath string) (*Session, error) {
	s := &Session{}

	tmp, err := os.CreateTemp(tempDir, "upload-*.mp4")
	if err != nil {
		return nil, apperr.New(apperr.IOFailure, "create temporary video", err)
	}
	s.tempPath = tmp.Name()

	_, copyErr := io.Copy(tmp, upload)
	if err := multierr.Combine(copyErr, tmp.Close()); err != nil {
		return nil, multierr.Append(apperr.New(apperr.IOFailure, "store uploaded video", err), s.Close())
	}

	source, err := opener.OpenSource(s.tempPath)
	if err != nil {
		return nil, multierr.Append(apperr.New(apperr.DecodeFailure, "open video", err), s.Close())
	}
	s.source = source

	sink, err := opener.OpenSink(outputPath, source.Size())
	if err != nil {
		return nil, multierr.Append(apperr.New(apperr.IOFailure, "open output video", err), s.Close())
	}
	s.sink = sink

	s.setState(StateOpened)
	return s, nil
}

// Run drives runner over the session's endpoints. The session stays open; callers must Close it.
func (s *Session) Run(ctx context.Context, runner *Runner, model Model, observe Observer) (*Result, error) {
	s.mu.Lock()
	if s.state != StateOpened {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("session cannot run in state %s", state)
	}
	s.state = StateRunning
	s.mu.Unlock()

	return runner.Run(ctx, s.source, s.sink, model, observe)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TempPath is the location of the temporary input copy.
func (s *Session) TempPath() string {
	return s.tempPath
}

// Close releases the input handle, the output handle and deletes the temporary copy.
// Later calls return the first call's result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var err error
		if s.source != nil {
			err = multierr.Append(err, s.source.Close())
		}
		if s.sink != nil {
			err = multierr.Append(err, s.sink.Close())
		}
		if s.tempPath != "" {
			if rmErr := os.Remove(s.tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
				err = multierr.Append(err, rmErr)
			}
		}
		if err != nil {
			err = apperr.New(apperr.IOFailure, "release video session", err)
		}
		s.closeErr = err
		s.setState(StateClosed)
	})
	return s.closeErr
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
