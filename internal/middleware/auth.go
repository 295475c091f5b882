package middleware

import (
	"net/http"
	"strings"

	"roaddamage/internal/service/auth"
)

// AuthMiddleware stores the caller's session in the request context and keeps
// unauthenticated callers away from everything but the login and registration surfaces.
func AuthMiddleware(authenticator *auth.Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := auth.ApplyModes(authenticator.Session(r), r)
		r = r.WithContext(auth.WithSession(r.Context(), session))

		if isPublic(r.URL.Path) || session.Authenticated() {
			next.ServeHTTP(w, r)
			return
		}

		// API and AJAX callers get 401, browsers go to the login page
		if strings.HasPrefix(r.URL.Path, "/api/") ||
			strings.HasPrefix(r.URL.Path, "/logs/") ||
			r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"` + session.Message() + `","kind":"auth_failure"}`))
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})
}

func isPublic(path string) bool {
	return path == "/login" ||
		path == "/register" ||
		path == "/api/session" ||
		strings.HasPrefix(path, "/auth/") ||
		strings.HasPrefix(path, "/static/")
}
