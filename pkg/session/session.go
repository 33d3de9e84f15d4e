package session

import (
	"context"
	"maps"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
	"github.com/aussiebroadwan/sessionkit/pkg/session/claims"
)

// State is where a Session is in its request.
type State int

const (
	// Pending: built from an authority response, nothing written yet.
	Pending State = iota
	// Attached: bound to a response; token changes are written to it.
	Attached
	// Revoked: the session record was removed.
	Revoked
)

// ReqResInfo binds a Session to the request it came from and the response
// its tokens go to.
type ReqResInfo struct {
	Req            Request
	Res            Response
	TransferMethod TokenTransferMethod
}

// Session is one verified or newly created session. It belongs to the
// request that produced it and is not safe for concurrent use.
type Session struct {
	recipe *Recipe

	accessToken        string
	frontToken         string
	refreshToken       *TokenInfo
	antiCSRFToken      string
	handle             string
	userID             string
	recipeUserID       string
	tenantID           string
	payload            jwtx.Payload
	expiry             time.Time
	accessTokenUpdated bool

	reqRes *ReqResInfo
	state  State
}

// SessionTokens exposes every token of a session.
type SessionTokens struct {
	AccessToken                string
	RefreshToken               string
	AntiCSRFToken              string
	FrontToken                 string
	AccessAndFrontTokenUpdated bool
}

func (s *Session) GetHandle() string       { return s.handle }
func (s *Session) GetUserID() string       { return s.userID }
func (s *Session) GetRecipeUserID() string { return s.recipeUserID }
func (s *Session) GetTenantID() string     { return s.tenantID }
func (s *Session) GetAccessToken() string  { return s.accessToken }
func (s *Session) State() State            { return s.state }

// GetAccessTokenPayload returns a copy of the access-token payload.
func (s *Session) GetAccessTokenPayload() jwtx.Payload { return s.payload.Clone() }

// GetAllSessionTokensDangerously returns the raw tokens. They are secrets.
func (s *Session) GetAllSessionTokensDangerously() SessionTokens {
	t := SessionTokens{
		AccessToken:                s.accessToken,
		AntiCSRFToken:              s.antiCSRFToken,
		FrontToken:                 s.frontToken,
		AccessAndFrontTokenUpdated: s.accessTokenUpdated,
	}
	if s.refreshToken != nil {
		t.RefreshToken = s.refreshToken.Token
	}
	return t
}

func (s *Session) rebuildFrontToken() {
	s.frontToken = buildFrontToken(s.userID, s.expiry.UnixMilli(), s.payload)
}

// MergeIntoAccessTokenPayload patches the payload and has the authority
// issue a token carrying it. Reserved keys are dropped and null values
// delete their key. When the current token has already expired the patch
// is kept in memory and reaches the client with the next refresh.
func (s *Session) MergeIntoAccessTokenPayload(ctx context.Context, update map[string]any) error {
	newPayload := mergePayload(s.payload, update)

	res, err := s.recipe.Functions.RegenerateAccessToken(ctx, s.accessToken, newPayload)
	if err != nil {
		return err
	}
	if res == nil {
		return unauthorised("Session does not exist anymore", true)
	}

	if res.AccessToken == nil {
		reserved := maps.Clone(s.payload)
		maps.DeleteFunc(reserved, func(k string, _ any) bool { return !jwtx.IsProtected(k) })
		maps.Copy(reserved, res.Session.UserDataInJWT)
		s.payload = reserved
		s.rebuildFrontToken()
		return nil
	}

	t, err := jwtx.Parse(res.AccessToken.Token)
	if err != nil {
		return err
	}
	s.accessToken = t.Raw
	s.payload = payloadFor(t, res.Session.UserDataInJWT)
	s.expiry = time.UnixMilli(res.AccessToken.Expiry)
	s.rebuildFrontToken()
	s.accessTokenUpdated = true

	if s.reqRes != nil {
		s.recipe.cfg.setAccessToken(s.reqRes.Res, s.accessToken, s.frontToken, s.reqRes.TransferMethod, s.recipe.now())
	}
	return nil
}

// RevokeSession removes the session record and clears the tokens from
// the attached response, whether or not the record still existed.
func (s *Session) RevokeSession(ctx context.Context) error {
	if _, err := s.recipe.Functions.RevokeSession(ctx, s.handle); err != nil {
		return err
	}
	if s.reqRes != nil {
		s.recipe.cfg.clearSession(s.reqRes.Res, s.reqRes.TransferMethod)
	}
	s.state = Revoked
	return nil
}

// AssertClaims runs validators, persists any refetched values and fails
// with INVALID_CLAIMS when a validator does not pass.
func (s *Session) AssertClaims(ctx context.Context, validators []claims.Validator) error {
	res, err := s.recipe.Functions.ValidateClaims(ctx, ValidateClaimsInput{
		UserID:             s.userID,
		RecipeUserID:       s.recipeUserID,
		TenantID:           s.tenantID,
		AccessTokenPayload: s.payload,
		Validators:         validators,
	})
	if err != nil {
		return err
	}

	if res.PayloadUpdate != nil {
		if err := s.MergeIntoAccessTokenPayload(ctx, res.PayloadUpdate.WithoutProtected()); err != nil {
			return err
		}
	}
	if len(res.InvalidClaims) > 0 {
		return &Error{Type: InvalidClaims, Message: "INVALID_CLAIMS", InvalidClaims: res.InvalidClaims}
	}
	return nil
}

// FetchAndSetClaim loads the claim's current value into the payload.
func (s *Session) FetchAndSetClaim(ctx context.Context, claim claims.Claim) error {
	patch, err := claim.Build(ctx, s.userID, s.recipeUserID, s.tenantID, s.payload)
	if err != nil {
		return err
	}
	return s.MergeIntoAccessTokenPayload(ctx, patch)
}

func (s *Session) SetClaimValue(ctx context.Context, claim claims.Claim, value any) error {
	return s.MergeIntoAccessTokenPayload(ctx, claim.AddToPayload(jwtx.Payload{}, value))
}

// GetClaimValue reads the claim from the payload; ok is false when unset.
func (s *Session) GetClaimValue(claim claims.Claim) (value any, ok bool) {
	return claim.GetValueFromPayload(s.payload)
}

func (s *Session) RemoveClaim(ctx context.Context, claim claims.Claim) error {
	return s.MergeIntoAccessTokenPayload(ctx, claim.RemoveFromPayloadByMerge(jwtx.Payload{}))
}

func (s *Session) information(ctx context.Context) (*SessionInformation, error) {
	info, err := s.recipe.Functions.GetSessionInformation(ctx, s.handle)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, unauthorised("Session does not exist anymore", true)
	}
	return info, nil
}

func (s *Session) GetSessionDataFromDatabase(ctx context.Context) (map[string]any, error) {
	info, err := s.information(ctx)
	if err != nil {
		return nil, err
	}
	return info.SessionDataInDatabase, nil
}

func (s *Session) UpdateSessionDataInDatabase(ctx context.Context, data map[string]any) error {
	ok, err := s.recipe.Functions.UpdateSessionDataInDatabase(ctx, s.handle, data)
	if err != nil {
		return err
	}
	if !ok {
		return unauthorised("Session does not exist anymore", true)
	}
	return nil
}

func (s *Session) GetTimeCreated(ctx context.Context) (time.Time, error) {
	info, err := s.information(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(info.TimeCreated), nil
}

// GetExpiry returns when the session itself, not the access token, ends.
func (s *Session) GetExpiry(ctx context.Context) (time.Time, error) {
	info, err := s.information(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(info.Expiry), nil
}

// AttachToRequestResponse binds the session to a response and writes any
// tokens issued during this request.
func (s *Session) AttachToRequestResponse(info ReqResInfo) {
	s.reqRes = &info
	if s.state == Pending {
		s.state = Attached
	}
	if !s.accessTokenUpdated {
		return
	}

	cfg, now := s.recipe.cfg, s.recipe.now()
	cfg.setAccessToken(info.Res, s.accessToken, s.frontToken, info.TransferMethod, now)
	if s.refreshToken != nil {
		cfg.setToken(info.Res, refreshToken, s.refreshToken.Token, time.UnixMilli(s.refreshToken.Expiry), info.TransferMethod)
	}
	if s.antiCSRFToken != "" {
		setAntiCSRFHeader(info.Res, s.antiCSRFToken)
	}
}
