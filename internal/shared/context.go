package shared

import "context"

// sessionContextKey is unexported so only this package can plant a
// session in a context; everyone else goes through the accessors.
type sessionContextKey struct{}

// ContextWithSession returns ctx carrying sess. The session middleware
// is the only production caller; tests use it to fake a logged-in
// request.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the request's session, nil when the
// session middleware did not run.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
