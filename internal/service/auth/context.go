package auth

import (
	"context"

	"roaddamage/internal/model"
)

type sessionKey struct{}

// WithSession returns a copy of ctx carrying the session state.
func WithSession(ctx context.Context, s model.SessionState) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session state stored in ctx; the zero state means no session.
func SessionFrom(ctx context.Context) model.SessionState {
	if s, ok := ctx.Value(sessionKey{}).(model.SessionState); ok {
		return s
	}
	return newState(model.AuthUnknown, "", "")
}
