package handler

import (
	"net/http"
	"os"

	"roaddamage/internal/apperr"
	"roaddamage/internal/config"
	"roaddamage/internal/dto"
	"roaddamage/internal/logger"
	"roaddamage/internal/service"
	"roaddamage/internal/service/auth"
)

// VideoOutputPath is where the annotated video of the caller is served.
const VideoOutputPath = "/api/video/output"

// VideoUploadHandler handles POST /api/video. The assessment runs inside the request;
// it is interrupted when the client goes away or the user asks to stop.
func VideoUploadHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}
		session := auth.SessionFrom(r.Context())

		file, header, err := formFile(w, r, cfg, "video", videoExtensions)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		defer file.Close()

		if manager.Running(session.Username) {
			writeError(w, apperr.Newf(apperr.Conflict, "a video is already being processed for %s", session.Username), logger)
			return
		}

		a, err := manager.AssessVideo(r.Context(), session.Username, header.Filename, file)
		if err != nil {
			writeError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, dto.VideoReport{
			AssessmentID: a.ID,
			Status:       a.Status,
			Frames:       a.Frames,
			FinalDamage:  a.FinalDamage,
			PeakDamage:   a.PeakDamage,
			OutputURL:    VideoOutputPath,
		}, logger)
	}
}

// StopVideoHandler handles POST /api/video/stop.
func StopVideoHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}
		session := auth.SessionFrom(r.Context())

		if !manager.Stop(session.Username) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "idle"}, logger)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"}, logger)
	}
}

// VideoOutputHandler serves the caller's last annotated video as a download.
func VideoOutputHandler(manager *service.Manager, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := auth.SessionFrom(r.Context())
		filePath := manager.OutputPath(session.Username)

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "video/x-msvideo")
		w.Header().Set("Content-Disposition", "attachment; filename=\""+cfg.OutputVideo+"\"")
		http.ServeFile(w, r, filePath)
	}
}
