package handler

import (
	"net/http"

	"roaddamage/internal/logger"
	"roaddamage/internal/service/auth"
)

// LoginHandler handles POST /auth/login by checking the credentials and issuing the session cookie.
func LoginHandler(authenticator *auth.Authenticator, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}

		state, err := authenticator.Login(w, r.FormValue("username"), r.FormValue("password"))
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, state, logger)
	}
}

// LogoutHandler handles POST /auth/logout.
func LogoutHandler(authenticator *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authenticator.Logout(w)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

// RegisterHandler handles POST /auth/register.
func RegisterHandler(authenticator *auth.Authenticator, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}

		err := authenticator.Register(auth.RegisterRequest{
			Username:       r.FormValue("username"),
			Name:           r.FormValue("name"),
			Email:          r.FormValue("email"),
			Password:       r.FormValue("password"),
			RepeatPassword: r.FormValue("repeat_password"),
		})
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "User registered successfully"}, logger)
	}
}

// ResetPasswordHandler handles POST /auth/reset-password for the logged in user.
func ResetPasswordHandler(authenticator *auth.Authenticator, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}

		session := auth.SessionFrom(r.Context())
		err := authenticator.ResetPassword(session, r.FormValue("current"), r.FormValue("new"), r.FormValue("repeat"))
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "Password modified successfully"}, logger)
	}
}

// SessionHandler returns the caller's session state.
func SessionHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, auth.SessionFrom(r.Context()), logger)
	}
}
