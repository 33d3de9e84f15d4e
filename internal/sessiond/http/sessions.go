package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// SessionsHandler serves session creation and introspection.
type SessionsHandler struct {
	Recipe *session.Recipe
}

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	TenantID           string         `json:"tenantId"`
	UserID             string         `json:"userId"`
	RecipeUserID       string         `json:"recipeUserId"`
	AccessTokenPayload map[string]any `json:"accessTokenPayload"`
	SessionData        map[string]any `json:"sessionData"`
}

// SessionResponse describes the session a request carries.
type SessionResponse struct {
	SessionHandle      string         `json:"sessionHandle"`
	UserID             string         `json:"userId"`
	RecipeUserID       string         `json:"recipeUserId"`
	TenantID           string         `json:"tenantId"`
	AccessTokenPayload map[string]any `json:"accessTokenPayload"`
}

// ErrorResponse is the body of a rejected request.
type ErrorResponse struct {
	Message string `json:"message"`
}

func sessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		SessionHandle:      s.GetHandle(),
		UserID:             s.GetUserID(),
		RecipeUserID:       s.GetRecipeUserID(),
		TenantID:           s.GetTenantID(),
		AccessTokenPayload: s.GetAccessTokenPayload(),
	}
}

// HandleCreate issues a session and writes its tokens using the transport
// the caller asked for with st-auth-mode.
//
//	@Summary		Issue a session
//	@Description	Create a session for a user and return its tokens as cookies or headers, per st-auth-mode. Only exposed when an issue token is configured.
//	@Tags			Sessions
//	@Accept			json
//	@Produce		json
//	@Param			st-auth-mode	header		string					false	"Token transport"	Enums(cookie, header)
//	@Param			body			body		CreateSessionRequest	true	"Session to create"
//	@Success		201				{object}	SessionResponse			"Session issued"
//	@Failure		400				{object}	ErrorResponse			"Bad Request"
//	@Failure		401				{object}	ErrorResponse			"Invalid issue token"
//	@Failure		429				{object}	ErrorResponse			"Too Many Requests"
//	@Failure		502				{object}	ErrorResponse			"Session authority unavailable"
//	@Security		IssueToken
//	@Router			/v1/sessions [post]
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionRequest
	if !httpx.DecodeJSON(w, r, &body) {
		return
	}
	if body.RecipeUserID == "" {
		httpx.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Message: "recipeUserId is required"})
		return
	}
	if err := session.CheckProtectedProperties(body.AccessTokenPayload); err != nil {
		h.Recipe.ErrorHandler(w, r, err)
		return
	}

	s, err := h.Recipe.CreateNewSessionInRequest(r.Context(),
		session.NewHTTPRequest(r), session.NewHTTPResponse(w),
		session.CreateNewSessionInput{
			TenantID:              body.TenantID,
			UserID:                body.UserID,
			RecipeUserID:          body.RecipeUserID,
			AccessTokenPayload:    body.AccessTokenPayload,
			SessionDataInDatabase: body.SessionData,
		},
	)
	if err != nil {
		h.Recipe.ErrorHandler(w, r, err)
		return
	}

	slogx.FromContext(r.Context()).Info("session issued",
		"session_handle", s.GetHandle(), "tenant_id", s.GetTenantID())
	httpx.WriteJSON(w, http.StatusCreated, sessionResponse(s))
}

// HandleGet returns the verified session. It runs behind VerifySession.
//
//	@Summary		Get the current session
//	@Description	Verify the access token carried by the request and describe its session.
//	@Tags			Sessions
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Failure		401	{object}	ErrorResponse	"Missing, expired or revoked session"
//	@Security		BearerAuth
//	@Router			/v1/session [get]
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	if s == nil {
		httpx.WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Message: "unauthorised"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessionResponse(s))
}

// IssueTokenHeader carries the shared secret POST /v1/sessions requires.
const IssueTokenHeader = "X-Issue-Token"

// RequireIssueToken rejects requests that do not present token in
// IssueTokenHeader. The Authorization header is left alone because it may
// carry a session.
func RequireIssueToken(token string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimSpace(r.Header.Get(IssueTokenHeader))
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				slogx.FromContext(r.Context()).Warn("session issue rejected", "reason", "bad issue token")
				httpx.WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Message: "invalid issue token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
