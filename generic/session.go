package generic

import (
	"context"
	"strings"
)

// Session is the authenticated caller of a ledger operation. It is passed
// explicitly to every service call.
type Session struct {
	UserID UserID
}

// NewSession returns a session for user, or ErrNoSession if user is blank.
func NewSession(user string) (Session, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return Session{}, ErrNoSession
	}
	return Session{UserID: UserID(user)}, nil
}

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(Session)
	return sess, ok && sess.UserID != ""
}
