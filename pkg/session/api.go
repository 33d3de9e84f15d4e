package session

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
	"github.com/aussiebroadwan/sessionkit/pkg/session/claims"
)

func (r *Recipe) defaultAPIs() APIInterface {
	return APIInterface{
		RefreshPOST: func(ctx context.Context, req Request, res Response) (*Session, error) {
			return r.RefreshSessionInRequest(ctx, req, res)
		},
		SignOutPOST: func(ctx context.Context, req Request, res Response) error {
			s, err := r.GetSessionFromRequest(ctx, req, res, VerifySessionOptions{
				Optional: true,
				OverrideGlobalClaimValidators: func(context.Context, []claims.Validator, *Session) ([]claims.Validator, error) {
					return nil, nil
				},
			})
			if err != nil || s == nil {
				return err
			}
			return s.RevokeSession(ctx)
		},
		VerifySession: func(ctx context.Context, opts VerifySessionOptions, req Request, res Response) (*Session, error) {
			return r.GetSessionFromRequest(ctx, req, res, opts)
		},
	}
}

// Handler serves the refresh and sign out routes under the API base path.
// Routes whose APIInterface field is nil are not registered.
func (r *Recipe) Handler() http.Handler {
	mux := http.NewServeMux()
	if r.APIs.RefreshPOST != nil {
		mux.HandleFunc("POST "+r.cfg.refreshPath, r.handleRefresh)
	}
	if r.APIs.SignOutPOST != nil {
		mux.HandleFunc("POST "+r.cfg.signOutPath, r.handleSignOut)
	}
	return mux
}

// RefreshPath and SignOutPath are the routes Handler serves.
func (r *Recipe) RefreshPath() string { return r.cfg.refreshPath }
func (r *Recipe) SignOutPath() string { return r.cfg.signOutPath }

func (r *Recipe) handleRefresh(w http.ResponseWriter, req *http.Request) {
	if _, err := r.APIs.RefreshPOST(req.Context(), NewHTTPRequest(req), NewHTTPResponse(w)); err != nil {
		r.ErrorHandler(w, req, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{})
}

func (r *Recipe) handleSignOut(w http.ResponseWriter, req *http.Request) {
	if err := r.APIs.SignOutPOST(req.Context(), NewHTTPRequest(req), NewHTTPResponse(w)); err != nil {
		r.ErrorHandler(w, req, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
