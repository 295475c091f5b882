// Package auth gates the pipelines behind a username/password login backed by the
// credentials file and a signed session cookie.
package auth

import (
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"roaddamage/internal/apperr"
	"roaddamage/internal/logger"
	"roaddamage/internal/model"
	"roaddamage/internal/repository"
)

// RegisterRequest carries the registration form.
type RegisterRequest struct {
	Username       string
	Name           string
	Email          string
	Password       string
	RepeatPassword string
}

// Authenticator checks credentials and issues session cookies.
type Authenticator struct {
	store            repository.CredentialRepository
	codec            *securecookie.SecureCookie
	cookie           model.CookieSettings
	preauthorization bool
	logger           *logger.Logger
}

// New creates an Authenticator over store. With preauthorization only emails listed
// in the credentials file may register.
func New(store repository.CredentialRepository, preauthorization bool, logger *logger.Logger) *Authenticator {
	cookie := store.Cookie()
	codec := securecookie.New([]byte(cookie.Key), nil)
	codec.MaxAge(cookie.ExpiryDays * 24 * 60 * 60)

	return &Authenticator{
		store:            store,
		codec:            codec,
		cookie:           cookie,
		preauthorization: preauthorization,
		logger:           logger,
	}
}

// Login verifies the password and, on success, writes the session cookie.
func (a *Authenticator) Login(w http.ResponseWriter, username, password string) (model.SessionState, error) {
	username = normalizeUsername(username)

	cred, ok := a.store.Get(username)
	if !ok || bcrypt.CompareHashAndPassword([]byte(cred.Password), []byte(password)) != nil {
		a.logger.Warning("Failed login for user %q", username)
		return newState(model.AuthFailed, "", ""), apperr.Newf(apperr.AuthFailure, "Username/password is incorrect")
	}

	encoded, err := a.codec.Encode(a.cookie.Name, map[string]string{"username": username})
	if err != nil {
		return newState(model.AuthFailed, "", ""), apperr.New(apperr.Unknown, "encode session cookie", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie.Name,
		Value:    encoded,
		Path:     "/",
		MaxAge:   a.cookie.ExpiryDays * 24 * 60 * 60,
		Expires:  time.Now().AddDate(0, 0, a.cookie.ExpiryDays),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	a.logger.Info("User %q logged in", username)
	return newState(model.AuthAuthenticated, username, cred.Name), nil
}

// Logout clears the session cookie.
func (a *Authenticator) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// Session derives the caller's session state from the request cookie.
// A cookie for a user that no longer exists counts as no session.
func (a *Authenticator) Session(r *http.Request) model.SessionState {
	cookie, err := r.Cookie(a.cookie.Name)
	if err != nil || cookie.Value == "" {
		return newState(model.AuthUnknown, "", "")
	}

	value := make(map[string]string)
	if err := a.codec.Decode(a.cookie.Name, cookie.Value, &value); err != nil {
		a.logger.Debug("Rejected session cookie: %v", err)
		return newState(model.AuthUnknown, "", "")
	}

	username := value["username"]
	cred, ok := a.store.Get(username)
	if !ok {
		return newState(model.AuthUnknown, "", "")
	}
	return newState(model.AuthAuthenticated, username, cred.Name)
}

// ApplyModes flags the page flow a request belongs to. Callers without a session are in
// new user mode on /register or with ?mode=register; signed in callers are in reset
// password mode with ?mode=reset or on the reset endpoint.
func ApplyModes(s model.SessionState, r *http.Request) model.SessionState {
	mode := r.URL.Query().Get("mode")
	if s.Authenticated() {
		s.ResetPasswordMode = mode == "reset" || r.URL.Path == "/auth/reset-password"
		return s
	}
	s.NewUserMode = mode == "register" || r.URL.Path == "/register"
	return s
}

// Register validates req and stores the new user with a bcrypt hash.
func (a *Authenticator) Register(req RegisterRequest) error {
	username := normalizeUsername(req.Username)
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)

	switch {
	case username == "" || name == "" || email == "" || req.Password == "":
		return apperr.Newf(apperr.ValidationFailure, "Please enter an email, username, name, and password")
	case strings.ContainsAny(username, " \t/\\:"):
		return apperr.Newf(apperr.ValidationFailure, "Username is not valid")
	case !validEmail(email):
		return apperr.Newf(apperr.ValidationFailure, "Email is not valid")
	case req.Password != req.RepeatPassword:
		return apperr.Newf(apperr.ValidationFailure, "Passwords do not match")
	}

	if a.preauthorization && !a.store.Preauthorized(email) {
		return apperr.Newf(apperr.AuthFailure, "User not pre-authorized to register")
	}
	if a.store.Exists(username) {
		return apperr.Newf(apperr.Conflict, "Username already taken")
	}
	if a.store.EmailTaken(email) {
		return apperr.Newf(apperr.Conflict, "Email already taken")
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return err
	}
	if err := a.store.Put(username, model.Credential{Email: email, Name: name, Password: hash}); err != nil {
		return apperr.New(apperr.IOFailure, "store credentials", err)
	}

	a.logger.Info("User %q registered", username)
	return nil
}

// ResetPassword changes the password of an authenticated user after checking the current one.
func (a *Authenticator) ResetPassword(session model.SessionState, current, newPassword, repeat string) error {
	if !session.Authenticated() {
		return apperr.Newf(apperr.AuthFailure, "User must be logged in to reset the password")
	}

	cred, ok := a.store.Get(session.Username)
	if !ok || bcrypt.CompareHashAndPassword([]byte(cred.Password), []byte(current)) != nil {
		return apperr.Newf(apperr.AuthFailure, "Current password is incorrect")
	}
	if newPassword == "" {
		return apperr.Newf(apperr.ValidationFailure, "No new password provided")
	}
	if newPassword != repeat {
		return apperr.Newf(apperr.ValidationFailure, "Passwords do not match")
	}
	if newPassword == current {
		return apperr.Newf(apperr.ValidationFailure, "New and current passwords are the same")
	}

	return a.SetPassword(session.Username, newPassword)
}

// SetPassword replaces a user's password without checking the old one.
func (a *Authenticator) SetPassword(username, password string) error {
	username = normalizeUsername(username)
	cred, ok := a.store.Get(username)
	if !ok {
		return apperr.Newf(apperr.ValidationFailure, "User %s does not exist", username)
	}
	if password == "" {
		return apperr.Newf(apperr.ValidationFailure, "No new password provided")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	cred.Password = hash
	if err := a.store.Put(username, cred); err != nil {
		return apperr.New(apperr.IOFailure, "store credentials", err)
	}

	a.logger.Info("Password changed for user %q", username)
	return nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.New(apperr.ValidationFailure, "hash password", err)
	}
	return string(hash), nil
}

func newState(status model.AuthStatus, username, name string) model.SessionState {
	return model.SessionState{
		Status:     status,
		StatusText: status.String(),
		Username:   username,
		Name:       name,
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, ".")
}
