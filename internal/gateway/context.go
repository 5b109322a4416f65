package gateway

import "context"

type sessionCtxKey struct{}

// withSession attaches the connection's session to ctx, mirroring the
// teacher's context.WithValue(ctx, roomIDCtxKey, ...) idiom for passing
// per-connection identity through a handler chain without widening every
// call signature.
func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

func sessionFromCtx(ctx context.Context) *session {
	s, _ := ctx.Value(sessionCtxKey{}).(*session)
	return s
}
