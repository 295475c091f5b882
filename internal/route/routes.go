package route

import (
	"net/http"
	"os"
	"path/filepath"

	"roaddamage/internal/config"
	"roaddamage/internal/handler"
	"roaddamage/internal/logger"
	"roaddamage/internal/middleware"
	"roaddamage/internal/repository"
	"roaddamage/internal/service"
	"roaddamage/internal/service/auth"
	"roaddamage/internal/service/websocket"
)

// Dependencies carries everything the handlers are built from.
type Dependencies struct {
	Manager        *service.Manager
	Hub            *websocket.HubService
	Authenticator  *auth.Authenticator
	AssessmentRepo repository.AssessmentRepository
	FrameRepo      repository.FrameMetricRepository
	Config         *config.Config
	Logger         *logger.Logger
}

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the authentication middleware.
func SetupRoutes(deps Dependencies) http.Handler {
	cfg, logger, manager := deps.Config, deps.Logger, deps.Manager
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDirectory))))

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(deps.Authenticator, logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler(deps.Authenticator))
	mux.HandleFunc("/auth/register", handler.RegisterHandler(deps.Authenticator, logger))
	mux.HandleFunc("/auth/reset-password", handler.ResetPasswordHandler(deps.Authenticator, logger))
	mux.HandleFunc("/api/session", handler.SessionHandler(logger))

	// Pipelines
	mux.HandleFunc("/api/image", handler.ImageUploadHandler(manager, cfg, logger))
	mux.HandleFunc("/api/video", handler.VideoUploadHandler(manager, cfg, logger))
	mux.HandleFunc("/api/video/stop", handler.StopVideoHandler(manager, logger))
	mux.HandleFunc(handler.VideoOutputPath, handler.VideoOutputHandler(manager, cfg))
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(manager, deps.Hub, logger))

	// History
	mux.HandleFunc("/api/assessments", handler.GetAssessmentsHandler(logger, deps.AssessmentRepo))
	mux.HandleFunc("/api/assessments/frames", handler.GetFramesHandler(logger, deps.AssessmentRepo, deps.FrameRepo))
	mux.HandleFunc("/api/assessments/delete", handler.DeleteAssessmentHandler(manager, logger))

	// Log endpoints
	for level, file := range handler.LogFiles {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(cfg, file))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(logger, file))
	}

	// Automatic HTML handler mapping for example: /login -> <static>/login.html
	mux.HandleFunc("/", dynamicHTMLHandler(cfg.StaticDirectory))

	// Apply middleware
	return middleware.AuthMiddleware(deps.Authenticator, mux)
}
