package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"roaddamage/internal/apperr"
	"roaddamage/internal/dto"
	"roaddamage/internal/logger"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// writeError renders err as dto.ErrorResponse with the status of its kind.
func writeError(w http.ResponseWriter, err error, logger *logger.Logger) {
	kind := apperr.KindOf(err)

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		kind = apperr.ValidationFailure
	}

	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error(), Kind: kind.String()}, logger)
}

// methodAllowed writes 405 unless r uses method.
func methodAllowed(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}
