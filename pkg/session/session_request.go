package session

import (
	"context"
	"errors"
	"net/http"
)

// GetSessionFromRequest verifies the session a request carries, runs the
// global claim validators and attaches the session to res. It returns a
// nil session when opts.Optional is set and no usable token was sent.
func (r *Recipe) GetSessionFromRequest(ctx context.Context, req Request, res Response, opts VerifySessionOptions) (*Session, error) {
	log := r.logger(ctx)

	allowed := r.cfg.GetTokenTransferMethod(req, false)
	var token string
	var method TokenTransferMethod
	for _, m := range transferMethods {
		if allowed != TransferAny && allowed != m {
			continue
		}
		candidate := getToken(req, accessToken, m)
		if candidate == "" {
			continue
		}
		if _, err := parseAccessToken(candidate); err != nil {
			log.Debug("session: ignoring unusable access token", "transfer_method", m, "error", err)
			continue
		}
		token, method = candidate, m
		break
	}
	if method == "" {
		if allowed == TransferAny {
			method = TransferCookie
		} else {
			method = allowed
		}
	}
	log.Debug("session: token transfer chosen", "allowed", allowed, "transfer_method", method, "token_present", token != "")

	if opts.AntiCSRFCheck != nil && !*opts.AntiCSRFCheck && r.cfg.AntiCSRF == AntiCSRFViaCustomHeader {
		return nil, invalidConfig("the anti-CSRF check cannot be turned off per call in VIA_CUSTOM_HEADER mode")
	}
	doAntiCSRF := req.Method() != http.MethodGet
	if opts.AntiCSRFCheck != nil {
		doAntiCSRF = *opts.AntiCSRFCheck
	}
	if method == TransferHeader || token == "" {
		doAntiCSRF = false
	}
	if doAntiCSRF && r.cfg.AntiCSRF == AntiCSRFViaCustomHeader {
		if req.Header(ridHeaderKey) == "" {
			return nil, unauthorised("anti-csrf check failed. Please pass 'rid: \"session\"' header in the request", false)
		}
		doAntiCSRF = false
	}

	lowLevel := opts
	lowLevel.AntiCSRFCheck = &doAntiCSRF
	s, err := r.Functions.GetSession(ctx, GetSessionInput{
		AccessToken:   token,
		AntiCSRFToken: req.Header(antiCSRFHeaderKey),
		Options:       lowLevel,
	})
	if err != nil || s == nil {
		return nil, err
	}

	validators, err := r.Functions.GetGlobalClaimValidators(ctx, s.tenantID, s.userID, r.registeredValidators())
	if err != nil {
		return nil, err
	}
	if opts.OverrideGlobalClaimValidators != nil {
		if validators, err = opts.OverrideGlobalClaimValidators(ctx, validators, s); err != nil {
			return nil, err
		}
	}
	if err := s.AssertClaims(ctx, validators); err != nil {
		return nil, err
	}

	s.AttachToRequestResponse(ReqResInfo{Req: req, Res: res, TransferMethod: method})
	return s, nil
}

// CreateNewSessionInRequest creates a session and writes its tokens using
// the transport the client asked for.
func (r *Recipe) CreateNewSessionInRequest(ctx context.Context, req Request, res Response, in CreateNewSessionInput) (*Session, error) {
	output := r.cfg.GetTokenTransferMethod(req, true)
	if output == TransferAny {
		if authModeFromHeader(req) == TransferCookie {
			output = TransferCookie
		} else {
			output = TransferHeader
		}
	}
	r.logger(ctx).Debug("session: creating session", "transfer_method", output)

	in.DisableAntiCSRF = output == TransferHeader
	s, err := r.Functions.CreateNewSession(ctx, in)
	if err != nil {
		return nil, err
	}

	for _, m := range transferMethods {
		if m != output && getToken(req, accessToken, m) != "" {
			r.cfg.clearSession(res, m)
		}
	}
	s.AttachToRequestResponse(ReqResInfo{Req: req, Res: res, TransferMethod: output})
	return s, nil
}

// RefreshSessionInRequest rotates the tokens a request carries.
func (r *Recipe) RefreshSessionInRequest(ctx context.Context, req Request, res Response) (*Session, error) {
	log := r.logger(ctx)

	allowed := r.cfg.GetTokenTransferMethod(req, false)
	present := map[TokenTransferMethod]string{}
	var token string
	var method TokenTransferMethod
	for _, m := range transferMethods {
		if allowed != TransferAny && allowed != m {
			continue
		}
		if t := getToken(req, refreshToken, m); t != "" {
			present[m] = t
			if method == "" {
				token, method = t, m
			}
		}
	}

	if token == "" {
		if req.Cookie(legacyIDRefreshTokenCookieKey) != "" {
			log.Debug("session: legacy session cookie found, asking client to refresh again")
			r.cfg.clearLegacyIDRefreshToken(res)
			return nil, tryRefresh("using legacy session, please call the refresh API", nil)
		}
		return nil, unauthorised("Refresh token not found. Are you sending the refresh token in the request?", false)
	}

	disableAntiCSRF := method == TransferHeader
	if r.cfg.AntiCSRF == AntiCSRFViaCustomHeader && !disableAntiCSRF {
		if req.Header(ridHeaderKey) == "" {
			return nil, unauthorised("anti-csrf check failed. Please pass 'rid: \"session\"' header in the request.", false)
		}
		disableAntiCSRF = true
	}

	s, err := r.Functions.RefreshSession(ctx, RefreshSessionInput{
		RefreshToken:    token,
		AntiCSRFToken:   req.Header(antiCSRFHeaderKey),
		DisableAntiCSRF: disableAntiCSRF,
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) && ((se.Type == Unauthorised && se.ClearTokens) || se.Type == TokenTheftDetected) {
			r.cfg.clearSessionFromAllTransferMethods(res)
			if req.Cookie(legacyIDRefreshTokenCookieKey) != "" {
				r.cfg.clearLegacyIDRefreshToken(res)
			}
		}
		return nil, err
	}

	for m := range present {
		if m != method {
			r.cfg.clearSession(res, m)
		}
	}
	s.AttachToRequestResponse(ReqResInfo{Req: req, Res: res, TransferMethod: method})
	log.Debug("session: refreshed", "session_handle", s.handle, "transfer_method", method)
	return s, nil
}
