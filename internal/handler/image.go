package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"roaddamage/internal/apperr"
	"roaddamage/internal/config"
	"roaddamage/internal/logger"
	"roaddamage/internal/service"
)

// multipartMemory is how much of an upload is kept in memory before spilling to disk.
const multipartMemory = 32 << 20

var (
	imageExtensions = []string{".jpg", ".jpeg"}
	videoExtensions = []string{".mp4"}
)

// ImageUploadHandler handles POST /api/image: it runs the image chain over the uploaded JPEG.
func ImageUploadHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}

		file, header, err := formFile(w, r, cfg, "image", imageExtensions)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, apperr.New(apperr.IOFailure, "read uploaded image", err), logger)
			return
		}

		report, err := manager.ProcessImage(data)
		if err != nil {
			writeError(w, err, logger)
			return
		}

		logger.Info("Processed image %s: %s (%d contour(s))", header.Filename, report.Message, report.ContourCount)
		writeJSON(w, http.StatusOK, report, logger)
	}
}

// formFile extracts the named upload, enforcing the size limit and the allowed extensions.
func formFile(w http.ResponseWriter, r *http.Request, cfg *config.Config, field string,
	extensions []string) (multipart.File, *multipart.FileHeader, error) {
	if cfg.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadMB<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, nil, apperr.New(apperr.ValidationFailure, "parse upload", err)
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, apperr.New(apperr.ValidationFailure, "missing "+field+" upload", err)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	for _, allowed := range extensions {
		if ext == allowed {
			return file, header, nil
		}
	}
	file.Close()
	return nil, nil, apperr.Newf(apperr.ValidationFailure, "file type %q is not accepted, expected one of %s",
		ext, strings.Join(extensions, ", "))
}
