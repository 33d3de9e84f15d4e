package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strconv"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
	"github.com/aussiebroadwan/sessionkit/pkg/querier"
	"github.com/aussiebroadwan/sessionkit/pkg/session/claims"
)

// Authority response statuses.
const (
	coreStatusOK                 = "OK"
	coreStatusUnauthorised       = "UNAUTHORISED"
	coreStatusTryRefreshToken    = "TRY_REFRESH_TOKEN"
	coreStatusTokenTheftDetected = "TOKEN_THEFT_DETECTED"
)

func (r *Recipe) defaultFunctions() RecipeInterface {
	return RecipeInterface{
		CreateNewSession:               r.createNewSession,
		GetSession:                     r.getSession,
		RefreshSession:                 r.refreshSession,
		RevokeSession:                  r.revokeSession,
		RevokeMultipleSessions:         r.revokeMultipleSessions,
		RevokeAllSessionsForUser:       r.revokeAllSessionsForUser,
		GetAllSessionHandlesForUser:    r.getAllSessionHandlesForUser,
		GetSessionInformation:          r.getSessionInformation,
		UpdateSessionDataInDatabase:    r.updateSessionDataInDatabase,
		MergeIntoAccessTokenPayload:    r.mergeIntoAccessTokenPayload,
		RegenerateAccessToken:          r.regenerateAccessToken,
		FetchAndSetClaim:               r.fetchAndSetClaim,
		SetClaimValue:                  r.setClaimValue,
		GetClaimValue:                  r.getClaimValue,
		RemoveClaim:                    r.removeClaim,
		ValidateClaims:                 r.validateClaims,
		ValidateClaimsForSessionHandle: r.validateClaimsForSessionHandle,
		GetGlobalClaimValidators:       r.getGlobalClaimValidators,
	}
}

type createSessionRequest struct {
	UserID               string         `json:"userId"`
	RecipeUserID         string         `json:"recipeUserId"`
	UserDataInJWT        map[string]any `json:"userDataInJWT"`
	UserDataInDatabase   map[string]any `json:"userDataInDatabase"`
	UseDynamicSigningKey bool           `json:"useDynamicSigningKey"`
	EnableAntiCSRF       bool           `json:"enableAntiCsrf"`
}

type tokensResponse struct {
	Status        string        `json:"status"`
	Message       string        `json:"message,omitempty"`
	Session       SessionRecord `json:"session"`
	AccessToken   *TokenInfo    `json:"accessToken,omitempty"`
	RefreshToken  *TokenInfo    `json:"refreshToken,omitempty"`
	AntiCSRFToken string        `json:"antiCsrfToken,omitempty"`
}

func (r *Recipe) createNewSession(ctx context.Context, in CreateNewSessionInput) (*Session, error) {
	if in.RecipeUserID == "" {
		return nil, errors.New("session: recipe user id is required")
	}
	userID := in.UserID
	if userID == "" {
		userID = in.RecipeUserID
	}
	tenantID := in.TenantID
	if tenantID == "" {
		tenantID = querier.DefaultTenantID
	}

	payload := jwtx.Payload(in.AccessTokenPayload).WithoutProtected()
	payload[jwtx.ClaimIssuer] = r.cfg.issuer
	for _, c := range r.registeredClaims() {
		patch, err := c.Build(ctx, userID, in.RecipeUserID, tenantID, payload)
		if err != nil {
			return nil, fmt.Errorf("session: build claim %q: %w", c.Key(), err)
		}
		maps.Copy(payload, patch)
	}

	dbData := in.SessionDataInDatabase
	if dbData == nil {
		dbData = map[string]any{}
	}

	var resp tokensResponse
	err := r.core.Post(ctx, querier.TenantPath(tenantID, "/recipe/session"), createSessionRequest{
		UserID:               userID,
		RecipeUserID:         in.RecipeUserID,
		UserDataInJWT:        payload,
		UserDataInDatabase:   dbData,
		UseDynamicSigningKey: r.cfg.useDynamicSigner,
		EnableAntiCSRF:       !in.DisableAntiCSRF && r.cfg.AntiCSRF == AntiCSRFViaToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != coreStatusOK || resp.AccessToken == nil {
		return nil, &querier.GeneralError{Method: "POST", Path: "/recipe/session", Body: resp.Status}
	}
	if resp.Session.TenantID == "" {
		resp.Session.TenantID = tenantID
	}

	r.logger(ctx).Debug("session: created", "session_handle", resp.Session.Handle, "tenant_id", tenantID)
	return r.sessionFromTokens(resp)
}

// sessionFromTokens builds a Pending session around freshly issued tokens.
func (r *Recipe) sessionFromTokens(resp tokensResponse) (*Session, error) {
	t, err := jwtx.Parse(resp.AccessToken.Token)
	if err != nil {
		return nil, fmt.Errorf("session: authority issued an unreadable access token: %w", err)
	}
	s := r.newSession(resp.Session, t, time.UnixMilli(resp.AccessToken.Expiry))
	s.refreshToken = resp.RefreshToken
	s.antiCSRFToken = resp.AntiCSRFToken
	s.accessTokenUpdated = true
	return s, nil
}

func (r *Recipe) newSession(rec SessionRecord, t *jwtx.ParsedToken, expiry time.Time) *Session {
	recipeUserID := rec.RecipeUserID
	if recipeUserID == "" {
		recipeUserID = rec.UserID
	}
	tenantID := rec.TenantID
	if tenantID == "" {
		tenantID = querier.DefaultTenantID
	}
	s := &Session{
		recipe:       r,
		accessToken:  t.Raw,
		handle:       rec.Handle,
		userID:       rec.UserID,
		recipeUserID: recipeUserID,
		tenantID:     tenantID,
		payload:      payloadFor(t, rec.UserDataInJWT),
		expiry:       expiry,
	}
	s.rebuildFrontToken()
	return s
}

type verifySessionRequest struct {
	AccessToken     string `json:"accessToken"`
	AntiCSRFToken   string `json:"antiCsrfToken,omitempty"`
	DoAntiCSRFCheck bool   `json:"doAntiCsrfCheck"`
	EnableAntiCSRF  bool   `json:"enableAntiCsrf"`
	CheckDatabase   bool   `json:"checkDatabase"`
}

func (r *Recipe) getSession(ctx context.Context, in GetSessionInput) (s *Session, err error) {
	opts := in.Options
	if r.cfg.AntiCSRF == AntiCSRFViaCustomHeader && (opts.AntiCSRFCheck == nil || *opts.AntiCSRFCheck) {
		return nil, invalidConfig("the anti-CSRF mode is VIA_CUSTOM_HEADER, so GetSession cannot check it: check the custom header and set AntiCSRFCheck to false")
	}
	doAntiCSRF := opts.AntiCSRFCheck == nil || *opts.AntiCSRFCheck

	outcome := outcomeLocal
	defer func() {
		if err != nil {
			outcome = outcomeOf(err)
		}
		if s != nil || err != nil {
			r.metrics.verify.WithLabelValues(outcome).Inc()
		}
	}()

	log := r.logger(ctx)
	if in.AccessToken == "" {
		if opts.Optional {
			return nil, nil
		}
		return nil, unauthorised("Session does not exist. Are you sending the session tokens in the request with the appropriate token transfer method?", false)
	}

	t, err := parseAccessToken(in.AccessToken)
	if err != nil {
		log.Debug("session: access token unusable", "error", err)
		if opts.Optional {
			return nil, nil
		}
		return nil, &Error{Type: Unauthorised, Message: "Token parsing failed", Err: err}
	}

	var info *accessTokenInfo
	var unknownKey bool
	if sigErr := r.verifySignature(ctx, t); sigErr != nil {
		if !IsTryRefreshToken(sigErr) || !r.mayAskCore(t) {
			return nil, sigErr
		}
		unknownKey = errors.Is(sigErr, jwtx.ErrNoKey)
		log.Debug("session: access token may be signed with a new key, asking the authority", "kid", t.KeyID)
	} else {
		info, err = r.checkAccessToken(t, doAntiCSRF)
		if err != nil {
			return nil, err
		}
		if t.Version >= jwtx.V3 && (jwtx.KeyIDKind(t.KeyID) == jwtx.KeyKindDynamic) != r.cfg.useDynamicSigner {
			return nil, tryRefresh("the access token doesn't match the signing key setting", nil)
		}
		if doAntiCSRF && r.cfg.AntiCSRF == AntiCSRFViaToken && in.AntiCSRFToken != info.antiCSRFToken {
			return nil, unauthorised("anti-csrf check failed", false)
		}
	}

	checkDatabase := opts.CheckDatabase || r.cfg.CheckDatabase
	askCore := info == nil || checkDatabase || info.parentRefreshTokenHash1 != ""
	if !askCore {
		hs, err := r.hs.get(ctx)
		if err != nil {
			return nil, err
		}
		askCore = hs.AccessTokenBlacklistingEnabled
	}

	if !askCore {
		s := &Session{
			recipe:       r,
			accessToken:  t.Raw,
			handle:       info.handle,
			userID:       info.userID,
			recipeUserID: info.recipeUserID,
			tenantID:     info.tenantID,
			payload:      info.payload,
			expiry:       info.expiry,
		}
		s.rebuildFrontToken()
		return s, nil
	}

	outcome = outcomeCore
	var resp tokensResponse
	err = r.core.Post(ctx, "/recipe/session/verify", verifySessionRequest{
		AccessToken:     in.AccessToken,
		AntiCSRFToken:   in.AntiCSRFToken,
		DoAntiCSRFCheck: doAntiCSRF,
		EnableAntiCSRF:  r.cfg.AntiCSRF == AntiCSRFViaToken,
		CheckDatabase:   checkDatabase,
	}, &resp)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case coreStatusOK:
	case coreStatusUnauthorised:
		return nil, unauthorised(resp.Message, true)
	default:
		return nil, tryRefresh(resp.Message, nil)
	}

	// The authority vouched for a key we do not hold yet: drop the cached
	// set so the next lookup fetches it regardless of the cooldown.
	if unknownKey {
		log.Debug("session: authority accepted a token signed with an unknown key, invalidating key cache", "kid", t.KeyID)
		r.keys.Invalidate()
	}

	if resp.AccessToken == nil {
		return r.newSession(resp.Session, t, t.ExpiryTime()), nil
	}
	nt, err := jwtx.Parse(resp.AccessToken.Token)
	if err != nil {
		return nil, fmt.Errorf("session: authority issued an unreadable access token: %w", err)
	}
	s = r.newSession(resp.Session, nt, time.UnixMilli(resp.AccessToken.Expiry))
	s.accessTokenUpdated = true
	log.Debug("session: authority rotated the access token", "session_handle", s.handle)
	return s, nil
}

type refreshSessionRequest struct {
	RefreshToken         string `json:"refreshToken"`
	AntiCSRFToken        string `json:"antiCsrfToken,omitempty"`
	EnableAntiCSRF       bool   `json:"enableAntiCsrf"`
	UseDynamicSigningKey bool   `json:"useDynamicSigningKey"`
}

func (r *Recipe) refreshSession(ctx context.Context, in RefreshSessionInput) (s *Session, err error) {
	if r.cfg.AntiCSRF == AntiCSRFViaCustomHeader && !in.DisableAntiCSRF {
		return nil, invalidConfig("the anti-CSRF mode is VIA_CUSTOM_HEADER, so RefreshSession cannot check it: check the custom header and set DisableAntiCSRF")
	}
	defer func() {
		outcome := outcomeOK
		if err != nil {
			outcome = outcomeOf(err)
		}
		r.metrics.refresh.WithLabelValues(outcome).Inc()
	}()

	var resp tokensResponse
	err = r.core.Post(ctx, "/recipe/session/refresh", refreshSessionRequest{
		RefreshToken:         in.RefreshToken,
		AntiCSRFToken:        in.AntiCSRFToken,
		EnableAntiCSRF:       !in.DisableAntiCSRF && r.cfg.AntiCSRF == AntiCSRFViaToken,
		UseDynamicSigningKey: r.cfg.useDynamicSigner,
	}, &resp)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case coreStatusOK:
	case coreStatusUnauthorised:
		return nil, unauthorised(resp.Message, true)
	case coreStatusTokenTheftDetected:
		r.logger(ctx).Warn("session: refresh token reuse detected",
			"session_handle", resp.Session.Handle,
			"user_id", resp.Session.UserID,
		)
		return nil, &Error{
			Type:    TokenTheftDetected,
			Message: "Token theft detected",
			Theft: &TheftInfo{
				UserID:        resp.Session.UserID,
				RecipeUserID:  resp.Session.RecipeUserID,
				SessionHandle: resp.Session.Handle,
			},
		}
	default:
		return nil, &querier.GeneralError{Method: "POST", Path: "/recipe/session/refresh", Body: resp.Status}
	}
	if resp.AccessToken == nil {
		return nil, &querier.GeneralError{Method: "POST", Path: "/recipe/session/refresh", Body: "missing access token"}
	}
	return r.sessionFromTokens(resp)
}

type removeSessionsResponse struct {
	Status                string   `json:"status"`
	SessionHandlesRevoked []string `json:"sessionHandlesRevoked"`
}

func (r *Recipe) revokeSession(ctx context.Context, handle string) (bool, error) {
	revoked, err := r.revokeMultipleSessions(ctx, []string{handle})
	if err != nil {
		return false, err
	}
	return len(revoked) == 1, nil
}

func (r *Recipe) revokeMultipleSessions(ctx context.Context, handles []string) ([]string, error) {
	var resp removeSessionsResponse
	err := r.core.Post(ctx, "/recipe/session/remove", map[string]any{"sessionHandles": handles}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.SessionHandlesRevoked, nil
}

func (r *Recipe) revokeAllSessionsForUser(ctx context.Context, in RevokeAllSessionsForUserInput) ([]string, error) {
	var resp removeSessionsResponse
	err := r.core.Post(ctx, querier.TenantPath(in.TenantID, "/recipe/session/remove"), map[string]any{
		"userId":                          in.UserID,
		"revokeSessionsForLinkedAccounts": in.RevokeSessionsForLinkedAccounts,
		"revokeAcrossAllTenants":          in.RevokeAcrossAllTenants,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.SessionHandlesRevoked, nil
}

func (r *Recipe) getAllSessionHandlesForUser(ctx context.Context, in GetAllSessionHandlesForUserInput) ([]string, error) {
	var resp struct {
		Status         string   `json:"status"`
		SessionHandles []string `json:"sessionHandles"`
	}
	params := url.Values{
		"userId":                            {in.UserID},
		"fetchSessionsForAllLinkedAccounts": {strconv.FormatBool(in.FetchSessionsForAllLinkedAccounts)},
		"fetchAcrossAllTenants":             {strconv.FormatBool(in.FetchAcrossAllTenants)},
	}
	if err := r.core.Get(ctx, querier.TenantPath(in.TenantID, "/recipe/session/user"), params, &resp); err != nil {
		return nil, err
	}
	return resp.SessionHandles, nil
}

type sessionInformationResponse struct {
	Status             string         `json:"status"`
	SessionHandle      string         `json:"sessionHandle"`
	UserID             string         `json:"userId"`
	RecipeUserID       string         `json:"recipeUserId"`
	TenantID           string         `json:"tenantId"`
	UserDataInDatabase map[string]any `json:"userDataInDatabase"`
	UserDataInJWT      map[string]any `json:"userDataInJWT"`
	Expiry             int64          `json:"expiry"`
	TimeCreated        int64          `json:"timeCreated"`
}

func (r *Recipe) getSessionInformation(ctx context.Context, handle string) (*SessionInformation, error) {
	var resp sessionInformationResponse
	if err := r.core.Get(ctx, "/recipe/session", url.Values{"sessionHandle": {handle}}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != coreStatusOK {
		return nil, nil
	}
	info := &SessionInformation{
		SessionHandle:                    resp.SessionHandle,
		UserID:                           resp.UserID,
		RecipeUserID:                     resp.RecipeUserID,
		TenantID:                         resp.TenantID,
		SessionDataInDatabase:            resp.UserDataInDatabase,
		CustomClaimsInAccessTokenPayload: jwtx.Payload(resp.UserDataInJWT),
		Expiry:                           resp.Expiry,
		TimeCreated:                      resp.TimeCreated,
	}
	if info.RecipeUserID == "" {
		info.RecipeUserID = info.UserID
	}
	if info.CustomClaimsInAccessTokenPayload == nil {
		info.CustomClaimsInAccessTokenPayload = jwtx.Payload{}
	}
	return info, nil
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (r *Recipe) updateSessionDataInDatabase(ctx context.Context, handle string, data map[string]any) (bool, error) {
	var resp statusResponse
	err := r.core.Put(ctx, "/recipe/session/data", map[string]any{
		"sessionHandle":      handle,
		"userDataInDatabase": data,
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Status == coreStatusOK, nil
}

// mergePayload strips reserved keys from both sides, applies update and
// drops keys the update sets to null. The issuer the engine stamped at
// creation is carried over.
func mergePayload(existing jwtx.Payload, update map[string]any) jwtx.Payload {
	out := existing.WithoutProtected()
	if iss, ok := existing[jwtx.ClaimIssuer]; ok {
		out[jwtx.ClaimIssuer] = iss
	}
	for k, v := range update {
		if jwtx.IsProtected(k) {
			continue
		}
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func (r *Recipe) mergeIntoAccessTokenPayload(ctx context.Context, handle string, update map[string]any) (bool, error) {
	info, err := r.Functions.GetSessionInformation(ctx, handle)
	if err != nil || info == nil {
		return false, err
	}

	var resp statusResponse
	err = r.core.Put(ctx, "/recipe/jwt/data", map[string]any{
		"sessionHandle": handle,
		"userDataInJWT": mergePayload(info.CustomClaimsInAccessTokenPayload, update),
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Status == coreStatusOK, nil
}

func (r *Recipe) regenerateAccessToken(ctx context.Context, accessToken string, payload map[string]any) (*RegeneratedToken, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	var resp tokensResponse
	err := r.core.Post(ctx, "/recipe/session/regenerate", map[string]any{
		"accessToken":   accessToken,
		"userDataInJWT": payload,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status == coreStatusUnauthorised {
		return nil, nil
	}
	return &RegeneratedToken{Session: resp.Session, AccessToken: resp.AccessToken}, nil
}

func (r *Recipe) fetchAndSetClaim(ctx context.Context, handle string, claim claims.Claim) (bool, error) {
	info, err := r.Functions.GetSessionInformation(ctx, handle)
	if err != nil || info == nil {
		return false, err
	}
	patch, err := claim.Build(ctx, info.UserID, info.RecipeUserID, info.TenantID, info.CustomClaimsInAccessTokenPayload)
	if err != nil {
		return false, fmt.Errorf("session: build claim %q: %w", claim.Key(), err)
	}
	return r.Functions.MergeIntoAccessTokenPayload(ctx, handle, patch)
}

func (r *Recipe) setClaimValue(ctx context.Context, handle string, claim claims.Claim, value any) (bool, error) {
	return r.Functions.MergeIntoAccessTokenPayload(ctx, handle, claim.AddToPayload(jwtx.Payload{}, value))
}

func (r *Recipe) getClaimValue(ctx context.Context, handle string, claim claims.Claim) (ClaimValueResult, error) {
	info, err := r.Functions.GetSessionInformation(ctx, handle)
	if err != nil {
		return ClaimValueResult{}, err
	}
	if info == nil {
		return ClaimValueResult{Status: StatusSessionDoesNotExistError}, nil
	}
	v, _ := claim.GetValueFromPayload(info.CustomClaimsInAccessTokenPayload)
	return ClaimValueResult{Status: StatusOK, Value: v}, nil
}

func (r *Recipe) removeClaim(ctx context.Context, handle string, claim claims.Claim) (bool, error) {
	return r.Functions.MergeIntoAccessTokenPayload(ctx, handle, claim.RemoveFromPayloadByMerge(jwtx.Payload{}))
}

func (r *Recipe) validateClaims(ctx context.Context, in ValidateClaimsInput) (claims.ValidationResult, error) {
	return claims.ValidateClaims(ctx, in.UserID, in.RecipeUserID, in.TenantID, in.AccessTokenPayload, in.Validators)
}

func (r *Recipe) validateClaimsForSessionHandle(
	ctx context.Context,
	handle string,
	override func(ctx context.Context, globals []claims.Validator, info *SessionInformation) ([]claims.Validator, error),
) (ValidateClaimsForSessionHandleResult, error) {
	info, err := r.Functions.GetSessionInformation(ctx, handle)
	if err != nil {
		return ValidateClaimsForSessionHandleResult{}, err
	}
	if info == nil {
		return ValidateClaimsForSessionHandleResult{Status: StatusSessionDoesNotExistError}, nil
	}

	validators, err := r.Functions.GetGlobalClaimValidators(ctx, info.TenantID, info.UserID, r.registeredValidators())
	if err != nil {
		return ValidateClaimsForSessionHandleResult{}, err
	}
	if override != nil {
		if validators, err = override(ctx, validators, info); err != nil {
			return ValidateClaimsForSessionHandleResult{}, err
		}
	}

	res, err := r.Functions.ValidateClaims(ctx, ValidateClaimsInput{
		UserID:             info.UserID,
		RecipeUserID:       info.RecipeUserID,
		TenantID:           info.TenantID,
		AccessTokenPayload: info.CustomClaimsInAccessTokenPayload,
		Validators:         validators,
	})
	if err != nil {
		return ValidateClaimsForSessionHandleResult{}, err
	}

	if res.PayloadUpdate != nil {
		ok, err := r.Functions.MergeIntoAccessTokenPayload(ctx, handle, res.PayloadUpdate)
		if err != nil {
			return ValidateClaimsForSessionHandleResult{}, err
		}
		if !ok {
			return ValidateClaimsForSessionHandleResult{Status: StatusSessionDoesNotExistError}, nil
		}
	}
	return ValidateClaimsForSessionHandleResult{Status: StatusOK, InvalidClaims: res.InvalidClaims}, nil
}

func (r *Recipe) getGlobalClaimValidators(ctx context.Context, tenantID, userID string, defaults []claims.Validator) ([]claims.Validator, error) {
	if r.cfg.GetGlobalClaimValidators != nil {
		return r.cfg.GetGlobalClaimValidators(ctx, tenantID, userID, defaults)
	}
	return defaults, nil
}
