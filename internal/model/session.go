package model

// AuthStatus is the authentication outcome for the current request.
type AuthStatus int

const (
	AuthUnknown AuthStatus = iota // no credentials presented yet
	AuthAuthenticated
	AuthFailed
)

func (s AuthStatus) String() string {
	switch s {
	case AuthAuthenticated:
		return "authenticated"
	case AuthFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionState is the per-request view of the caller's session.
type SessionState struct {
	Status            AuthStatus `json:"-"`
	StatusText        string     `json:"status"`
	Username          string     `json:"username,omitempty"`
	Name              string     `json:"name,omitempty"`
	NewUserMode       bool       `json:"new_user_mode"`
	ResetPasswordMode bool       `json:"reset_password_mode"`
}

// Authenticated reports whether the pipelines may run for this session.
func (s SessionState) Authenticated() bool {
	return s.Status == AuthAuthenticated
}

// Message is the text shown to a caller who cannot reach the pipelines.
func (s SessionState) Message() string {
	switch s.Status {
	case AuthAuthenticated:
		return "Welcome " + s.Name
	case AuthFailed:
		return "Username/password is incorrect"
	default:
		return "Please enter your username and password"
	}
}
