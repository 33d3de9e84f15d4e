package session

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
	"github.com/aussiebroadwan/sessionkit/pkg/querier"
)

// accessTokenInfo is what a locally verified access token says.
type accessTokenInfo struct {
	handle                  string
	userID                  string
	recipeUserID            string
	tenantID                string
	refreshTokenHash1       string
	parentRefreshTokenHash1 string
	antiCSRFToken           string
	expiry                  time.Time
	timeCreated             time.Time
	payload                 jwtx.Payload
}

// parseAccessToken splits a token and checks its shape for its version.
func parseAccessToken(token string) (*jwtx.ParsedToken, error) {
	t, err := jwtx.Parse(token)
	if err != nil {
		return nil, err
	}
	if err := jwtx.ValidateStructure(t.Payload, t.Version); err != nil {
		return nil, err
	}
	return t, nil
}

func infoFromToken(t *jwtx.ParsedToken) *accessTokenInfo {
	p := t.Payload
	info := &accessTokenInfo{
		handle:                  p.OptionalString(jwtx.ClaimSessionHandle),
		userID:                  t.UserID(),
		refreshTokenHash1:       p.OptionalString(jwtx.ClaimRefreshTokenHash1),
		parentRefreshTokenHash1: p.OptionalString(jwtx.ClaimParentRefreshTokenHash1),
		antiCSRFToken:           p.OptionalString(jwtx.ClaimAntiCSRFToken),
		expiry:                  t.ExpiryTime(),
		timeCreated:             t.TimeCreated(),
		payload:                 t.UserData(),
	}
	info.recipeUserID = p.OptionalString(jwtx.ClaimRecipeUserID)
	if info.recipeUserID == "" {
		info.recipeUserID = info.userID
	}
	info.tenantID = p.OptionalString(jwtx.ClaimTenantID)
	if info.tenantID == "" {
		info.tenantID = querier.DefaultTenantID
	}
	return info
}

// payloadFor returns the application payload of t. v2 tokens nest it, so
// the authority's copy is used.
func payloadFor(t *jwtx.ParsedToken, userDataInJWT map[string]any) jwtx.Payload {
	if t.Version >= jwtx.V3 {
		return t.Payload
	}
	if userDataInJWT == nil {
		return jwtx.Payload{}
	}
	return jwtx.Payload(userDataInJWT)
}

// verifySignature checks t against the cached signing keys. A token we
// cannot check, including one whose key sources are all unreachable,
// yields TRY_REFRESH_TOKEN.
func (r *Recipe) verifySignature(ctx context.Context, t *jwtx.ParsedToken) error {
	if t.Version < jwtx.V3 {
		return r.verifyLegacySignature(ctx, t)
	}
	err := jwtx.Verify(ctx, t, r.keys)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return err
	case errors.Is(err, jwtx.ErrKeyFetch):
		r.logger(ctx).Debug("session: signing keys unavailable", "kid", t.KeyID, "error", err)
		return tryRefresh("signing keys could not be loaded", err)
	default:
		return tryRefresh("access token signature could not be verified", err)
	}
}

// verifyLegacySignature checks a v2 token against the handshake keys and
// the static JWKS keys, reloading the handshake once on failure.
func (r *Recipe) verifyLegacySignature(ctx context.Context, t *jwtx.ParsedToken) error {
	var lastErr error
	for attempt := range 2 {
		hs, err := r.hs.get(ctx)
		if err != nil {
			return err
		}
		static, err := r.keys.StaticKeys(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return tryRefresh("signing keys could not be loaded", err)
		}
		keys := append(slices.Clone(hs.LegacySigningKeys), static...)
		if lastErr = jwtx.VerifyLegacy(t, keys); lastErr == nil {
			return nil
		}
		if attempt == 0 {
			r.logger(ctx).Debug("session: legacy token failed verification, reloading handshake")
			r.hs.invalidate()
		}
	}
	return tryRefresh("access token signature could not be verified", lastErr)
}

// checkAccessToken applies the checks that follow a good signature.
func (r *Recipe) checkAccessToken(t *jwtx.ParsedToken, doAntiCSRF bool) (*accessTokenInfo, error) {
	info := infoFromToken(t)
	if doAntiCSRF && r.cfg.AntiCSRF == AntiCSRFViaToken && info.antiCSRFToken == "" {
		return nil, tryRefresh("access token does not contain the anti-csrf token", nil)
	}
	if !info.expiry.After(r.now()) {
		return nil, tryRefresh("access token expired", nil)
	}
	return info, nil
}

// mayAskCore reports whether a token that failed local verification could
// have been signed with a key newer than the cached set. Such tokens are
// not expired and were issued within the last cache lifetime.
func (r *Recipe) mayAskCore(t *jwtx.ParsedToken) bool {
	now := r.now()
	return t.ExpiryTime().After(now) && t.TimeCreated().After(now.Add(-r.keys.MaxAge()))
}
