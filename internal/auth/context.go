package auth

import (
	"context"

	"budgeteer/internal/core"
)

type sessionKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s core.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, &s)
}

// CurrentSession returns the session stored by WithSession, if any.
func CurrentSession(ctx context.Context) (*core.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*core.Session)
	return s, ok && s != nil
}
