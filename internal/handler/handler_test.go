package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roaddamage/internal/config"
	"roaddamage/internal/dto"
	"roaddamage/internal/logger"
	"roaddamage/internal/middleware"
	"roaddamage/internal/model"
	"roaddamage/internal/repository/credentials"
	"roaddamage/internal/repository/sqlite"
	"roaddamage/internal/service"
	"roaddamage/internal/service/assessment"
	"roaddamage/internal/service/auth"
	"roaddamage/internal/service/imaging"
)

type stubImages struct {
	calls atomic.Int32
}

func (s *stubImages) Run([]byte) (*imaging.Report, error) {
	s.calls.Add(1)
	return &imaging.Report{ContourCount: 2, PotholeDetected: true, Message: imaging.PotholeDetected}, nil
}

type testServer struct {
	handler       http.Handler
	authenticator *auth.Authenticator
	repo          *sqlite.AssessmentRepository
	cfg           *config.Config
	logger        *logger.Logger
	images        *stubImages
	modelLoads    *atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		ModelPath:       filepath.Join(dir, "missing.onnx"),
		WindowSize:      20,
		OutputDirectory: filepath.Join(dir, "out"),
		OutputVideo:     "road_damage_assessment.avi",
		TempDirectory:   dir,
		LogDirectory:    filepath.Join(dir, "logs"),
		LogLevel:        "info",
		MaxUploadMB:     1,
	}
	lg := logger.NewLogger(cfg)
	t.Cleanup(func() { lg.Close() })

	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := credentials.Open(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	authenticator := auth.New(store, false, lg)

	repo := sqlite.NewAssessmentRepository(db)
	frames := sqlite.NewFrameMetricRepository(db)

	images := &stubImages{}
	modelLoads := &atomic.Int32{}
	provider := assessment.NewModelProvider(cfg.ModelPath, cfg.ModelPolicy, func(string) (assessment.Model, error) {
		modelLoads.Add(1)
		return nil, errors.New("checkpoint not found")
	})
	manager := service.NewManager(images, nil, provider, nil, nil, nil, repo, frames, cfg, lg)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", LoginHandler(authenticator, lg))
	mux.HandleFunc("/auth/register", RegisterHandler(authenticator, lg))
	mux.HandleFunc("/auth/reset-password", ResetPasswordHandler(authenticator, lg))
	mux.HandleFunc("/api/session", SessionHandler(lg))
	mux.HandleFunc("/api/image", ImageUploadHandler(manager, cfg, lg))
	mux.HandleFunc("/api/video", VideoUploadHandler(manager, cfg, lg))
	mux.HandleFunc("/api/video/stop", StopVideoHandler(manager, lg))
	mux.HandleFunc(VideoOutputPath, VideoOutputHandler(manager, cfg))
	mux.HandleFunc("/api/assessments", GetAssessmentsHandler(lg, repo))
	mux.HandleFunc("/api/assessments/frames", GetFramesHandler(lg, repo, frames))
	mux.HandleFunc("/api/assessments/delete", DeleteAssessmentHandler(manager, lg))
	mux.HandleFunc("/logs/info", ShowLogsHandler(cfg, LogFiles["info"]))

	return &testServer{
		handler:       middleware.AuthMiddleware(authenticator, mux),
		authenticator: authenticator,
		repo:          repo,
		cfg:           cfg,
		logger:        lg,
		images:        images,
		modelLoads:    modelLoads,
	}
}

func (s *testServer) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// login registers username and returns its session cookies.
func (s *testServer) login(t *testing.T, username string) []*http.Cookie {
	t.Helper()
	require.NoError(t, s.authenticator.Register(auth.RegisterRequest{
		Username:       username,
		Name:           strings.ToUpper(username),
		Email:          username + "@example.com",
		Password:       "secret",
		RepeatPassword: "secret",
	}))

	rec := s.do(formRequest("/auth/login", url.Values{"username": {username}, "password": {"secret"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Result().Cookies()
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func uploadRequest(t *testing.T, path, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t, "ann")
	require.NotEmpty(t, cookies)

	rec := s.do(formRequest("/auth/login", url.Values{"username": {"ann"}, "password": {"wrong"}}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeError(t, rec)
	require.Equal(t, "auth_failure", resp.Kind)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)
	form := url.Values{
		"username":        {"bob"},
		"name":            {"Bob"},
		"email":           {"bob@example.com"},
		"password":        {"pw"},
		"repeat_password": {"pw"},
	}

	rec := s.do(formRequest("/auth/register", form))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(formRequest("/auth/register", form))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", decodeError(t, rec).Kind)
}

func TestSession_RequiresLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/assessments", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "auth_failure", decodeError(t, rec).Kind)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))

	cookies := s.login(t, "ann")
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/session", nil), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	var session model.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.Equal(t, "ann", session.Username)
	require.Equal(t, "ANN", session.Name)
	require.Equal(t, "authenticated", session.StatusText)
}

func sessionOf(t *testing.T, rec *httptest.ResponseRecorder) model.SessionState {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	var session model.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	return session
}

func TestSession_Modes(t *testing.T) {
	s := newTestServer(t)

	session := sessionOf(t, s.do(httptest.NewRequest(http.MethodGet, "/api/session", nil)))
	require.Equal(t, "unknown", session.StatusText)
	require.False(t, session.NewUserMode)

	session = sessionOf(t, s.do(httptest.NewRequest(http.MethodGet, "/api/session?mode=register", nil)))
	require.True(t, session.NewUserMode)
	require.False(t, session.ResetPasswordMode)

	cookies := s.login(t, "ann")
	session = sessionOf(t, s.do(httptest.NewRequest(http.MethodGet, "/api/session", nil), cookies...))
	require.False(t, session.ResetPasswordMode)

	session = sessionOf(t, s.do(httptest.NewRequest(http.MethodGet, "/api/session?mode=reset", nil), cookies...))
	require.True(t, session.ResetPasswordMode)
	require.False(t, session.NewUserMode)
	require.Equal(t, "ann", session.Username)
}

func TestResetPassword(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t, "ann")

	form := url.Values{"current": {"secret"}, "new": {"fresh"}, "repeat": {"fresh"}}
	rec := s.do(formRequest("/auth/reset-password", form))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(formRequest("/auth/reset-password", form), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(formRequest("/auth/login", url.Values{"username": {"ann"}, "password": {"fresh"}}))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestImageUpload(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t, "ann")

	rec := s.do(uploadRequest(t, "/api/image", "image", "road.png", []byte("x")), cookies...)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_failure", decodeError(t, rec).Kind)

	require.Zero(t, s.images.calls.Load())

	rec = s.do(uploadRequest(t, "/api/image", "image", "road.JPG", []byte("x")), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, s.images.calls.Load())

	var report imaging.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.True(t, report.PotholeDetected)
	require.Equal(t, imaging.PotholeDetected, report.Message)
}

func TestUploads_RequireSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(uploadRequest(t, "/api/image", "image", "road.jpg", []byte("x")))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "auth_failure", decodeError(t, rec).Kind)

	rec = s.do(uploadRequest(t, "/api/video", "video", "road.mp4", []byte("x")))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "auth_failure", decodeError(t, rec).Kind)

	require.Zero(t, s.images.calls.Load())
	require.Zero(t, s.modelLoads.Load())

	stored, err := s.repo.GetAll(nil)
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestImageUpload_TooLarge(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t, "ann")

	big := bytes.Repeat([]byte{0xff}, 2<<20)
	rec := s.do(uploadRequest(t, "/api/image", "image", "road.jpg", big), cookies...)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVideoUpload(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t, "ann")

	rec := s.do(uploadRequest(t, "/api/video", "video", "road.avi", []byte("x")), cookies...)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// the model cannot be loaded, so the run fails and is recorded as such
	rec = s.do(uploadRequest(t, "/api/video", "video", "road.mp4", []byte("x")), cookies...)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "model_load_failure", decodeError(t, rec).Kind)

	stored, err := s.repo.GetAll(&model.AssessmentFilter{Username: "ann"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, model.StatusFailed, stored[0].Status)
	require.Equal(t, "road.mp4", stored[0].SourceName)
}

func TestStopVideo_Idle(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t, "ann")

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/video/stop", nil), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"idle"}`, rec.Body.String())
}

func TestVideoOutput_Missing(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t, "ann")

	rec := s.do(httptest.NewRequest(http.MethodGet, VideoOutputPath, nil), cookies...)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssessments_OnlyOwnHistory(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t, "ann")

	started := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	for _, a := range []*model.Assessment{
		{ID: "a1", Username: "ann", SourceName: "one.mp4", Status: model.StatusCompleted, Frames: 10, FinalDamage: 3.5, StartedAt: started, FinishedAt: started.Add(time.Minute)},
		{ID: "b1", Username: "bob", SourceName: "two.mp4", Status: model.StatusCompleted, StartedAt: started},
	} {
		require.NoError(t, s.repo.Insert(a))
	}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/assessments?page=1&limit=10", nil), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Assessments []map[string]interface{} `json:"assessments"`
		Length      int                      `json:"length"`
		TotalPages  int                      `json:"totalPages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	require.Equal(t, 1, data.Length)
	require.Equal(t, 1, data.TotalPages)
	require.Len(t, data.Assessments, 1)
	require.Equal(t, "a1", data.Assessments[0]["id"])
	require.Equal(t, 60.0, data.Assessments[0]["durationSeconds"])

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/assessments/frames?id=b1", nil), cookies...)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/assessments/frames?id=a1", nil), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodDelete, "/api/assessments/delete?id=b1", nil), cookies...)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodDelete, "/api/assessments/delete?id=a1", nil), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	a, err := s.repo.GetByID("a1")
	require.NoError(t, err)
	require.Nil(t, a)
}

func TestLogs(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t, "ann")
	s.logger.Info("hello from the test")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/logs/info", nil), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}
