package assessment

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"roaddamage/internal/apperr"
)

func openTestSession(t *testing.T, opener *fakeOpener) (*Session, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(opener, strings.NewReader("fake mp4 bytes"), dir, filepath.Join(dir, "out.avi"))
	require.NoError(t, err)
	return s, dir
}

func TestSession_CleanupOnceAfterEndOfStream(t *testing.T) {
	opener := &fakeOpener{source: &fakeSource{n: 3, size: image.Pt(64, 48)}, sink: &fakeSink{}}
	s, _ := openTestSession(t, opener)

	require.Equal(t, StateOpened, s.State())
	require.Equal(t, image.Pt(64, 48), opener.sinkSize)

	data, err := os.ReadFile(s.TempPath())
	require.NoError(t, err)
	require.Equal(t, "fake mp4 bytes", string(data))

	result, err := s.Run(context.Background(), NewRunner(&fakeAnnotator{}, 20, newTestLogger(t)), &fakeModel{}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, result.Frames)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.Equal(t, StateClosed, s.State())
	require.Equal(t, 1, opener.source.closed)
	require.Equal(t, 1, opener.sink.closed)
	_, err = os.Stat(s.TempPath())
	require.True(t, os.IsNotExist(err))
}

func TestSession_CleanupOnceAfterInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{n: 100, size: image.Pt(8, 8), cancelAfter: 2, cancel: cancel}
	opener := &fakeOpener{source: src, sink: &fakeSink{}}
	s, _ := openTestSession(t, opener)

	result, err := s.Run(ctx, NewRunner(&fakeAnnotator{}, 20, newTestLogger(t)), &fakeModel{}, nil)
	require.NoError(t, err)
	require.True(t, result.Interrupted)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, src.closed)
	require.Equal(t, 1, opener.sink.closed)
	_, err = os.Stat(s.TempPath())
	require.True(t, os.IsNotExist(err))
}

func TestSession_RunOnlyOnce(t *testing.T) {
	opener := &fakeOpener{source: &fakeSource{n: 1, size: image.Pt(8, 8)}, sink: &fakeSink{}}
	s, _ := openTestSession(t, opener)
	defer s.Close()

	runner := NewRunner(&fakeAnnotator{}, 20, newTestLogger(t))
	_, err := s.Run(context.Background(), runner, &fakeModel{}, nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), runner, &fakeModel{}, nil)
	require.Error(t, err)
}

func TestOpen_SourceFailureRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	opener := &fakeOpener{sourceErr: errors.New("not a video")}

	_, err := Open(opener, strings.NewReader("junk"), dir, filepath.Join(dir, "out.avi"))
	require.Error(t, err)
	require.Equal(t, apperr.DecodeFailure, apperr.KindOf(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOpen_SinkFailureReleasesSource(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{n: 1, size: image.Pt(8, 8)}
	opener := &fakeOpener{source: src, sinkErr: errors.New("codec missing")}

	_, err := Open(opener, strings.NewReader("junk"), dir, filepath.Join(dir, "out.avi"))
	require.Error(t, err)
	require.Equal(t, apperr.IOFailure, apperr.KindOf(err))
	require.Equal(t, 1, src.closed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
