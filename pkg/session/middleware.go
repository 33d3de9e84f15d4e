package session

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

type ctxKey struct{}

// WithSession returns ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session VerifySession stored, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// VerifySession checks the request's session before calling next. Failures
// are answered by ErrorHandler. With opts.Optional a request without a
// session reaches next with no session in its context.
func (r *Recipe) VerifySession(opts VerifySessionOptions) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()

			s, err := r.APIs.VerifySession(ctx, opts, NewHTTPRequest(req), NewHTTPResponse(w))
			if err != nil {
				r.ErrorHandler(w, req, err)
				return
			}
			if s != nil {
				ctx = WithSession(ctx, s)
				ctx = slogx.WithContext(ctx, slogx.FromContext(ctx).With("session_handle", s.GetHandle()))
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
