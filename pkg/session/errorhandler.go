package session

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
	"github.com/aussiebroadwan/sessionkit/pkg/querier"
	"github.com/aussiebroadwan/sessionkit/pkg/session/claims"
)

type errorBody struct {
	Message               string                `json:"message"`
	ClaimValidationErrors []claims.InvalidClaim `json:"claimValidationErrors,omitempty"`
}

// ErrorHandler answers a failed session operation. Session errors map to
// the configured status codes; tokens are cleared where the error says so.
func (r *Recipe) ErrorHandler(w http.ResponseWriter, req *http.Request, err error) {
	ctx := req.Context()
	log := r.logger(ctx)
	res := NewHTTPResponse(w)

	var se *Error
	var ppe *ProtectedPropertyError
	var ge *querier.GeneralError
	switch {
	case errors.As(err, &se):
		log.Debug("session: request rejected", "type", se.Type, "message", se.Message)
		switch se.Type {
		case Unauthorised:
			if se.ClearTokens {
				r.cfg.clearSessionFromAllTransferMethods(res)
			}
			httpx.WriteJSON(w, r.cfg.SessionExpiredStatusCode, errorBody{Message: "unauthorised"})
		case TryRefreshToken:
			httpx.WriteJSON(w, r.cfg.SessionExpiredStatusCode, errorBody{Message: "try refresh token"})
		case TokenTheftDetected:
			if se.Theft != nil {
				if _, rerr := r.Functions.RevokeSession(ctx, se.Theft.SessionHandle); rerr != nil {
					log.Error("session: failed to revoke session after token theft", "session_handle", se.Theft.SessionHandle, "error", rerr)
				}
			}
			r.cfg.clearSessionFromAllTransferMethods(res)
			httpx.WriteJSON(w, r.cfg.SessionExpiredStatusCode, errorBody{Message: "token theft detected"})
		case InvalidClaims:
			httpx.WriteJSON(w, r.cfg.InvalidClaimStatusCode, errorBody{
				Message:               "invalid claim",
				ClaimValidationErrors: se.InvalidClaims,
			})
		default:
			httpx.WriteJSON(w, http.StatusInternalServerError, errorBody{Message: "internal error"})
		}
	case errors.As(err, &ppe):
		httpx.WriteJSON(w, ppe.HTTPStatus(), errorBody{Message: ppe.Error()})
	case errors.As(err, &ge):
		log.Error("session: authority call failed", "error", err)
		httpx.WriteJSON(w, ge.HTTPStatus(), errorBody{Message: "session authority unavailable"})
	default:
		log.Error("session: unexpected error", "error", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, errorBody{Message: "internal error"})
	}
}
