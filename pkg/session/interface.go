package session

import (
	"context"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
	"github.com/aussiebroadwan/sessionkit/pkg/session/claims"
)

// TokenInfo is a token as issued by the authority. Times are epoch ms.
type TokenInfo struct {
	Token       string `json:"token"`
	Expiry      int64  `json:"expiry"`
	CreatedTime int64  `json:"createdTime"`
}

// CreateNewSessionInput is the input of RecipeInterface.CreateNewSession.
type CreateNewSessionInput struct {
	TenantID string

	// UserID defaults to RecipeUserID.
	UserID       string
	RecipeUserID string

	AccessTokenPayload    map[string]any
	SessionDataInDatabase map[string]any
	DisableAntiCSRF       bool
}

// VerifySessionOptions tunes a session check.
type VerifySessionOptions struct {
	// AntiCSRFCheck overrides the default, which is on for every method
	// except GET. Turning it off is a config error in VIA_CUSTOM_HEADER mode.
	AntiCSRFCheck *bool

	// Optional returns a nil session instead of UNAUTHORISED when the
	// request carries no usable access token.
	Optional bool

	CheckDatabase bool

	// OverrideGlobalClaimValidators replaces the global validators for this
	// check.
	OverrideGlobalClaimValidators func(ctx context.Context, globals []claims.Validator, s *Session) ([]claims.Validator, error)
}

// GetSessionInput is the input of RecipeInterface.GetSession.
type GetSessionInput struct {
	AccessToken   string
	AntiCSRFToken string
	Options       VerifySessionOptions
}

// RefreshSessionInput is the input of RecipeInterface.RefreshSession.
type RefreshSessionInput struct {
	RefreshToken    string
	AntiCSRFToken   string
	DisableAntiCSRF bool
}

// RevokeAllSessionsForUserInput is the input of RevokeAllSessionsForUser.
type RevokeAllSessionsForUserInput struct {
	UserID                          string
	TenantID                        string
	RevokeSessionsForLinkedAccounts bool
	RevokeAcrossAllTenants          bool
}

// GetAllSessionHandlesForUserInput is the input of GetAllSessionHandlesForUser.
type GetAllSessionHandlesForUserInput struct {
	UserID                            string
	TenantID                          string
	FetchSessionsForAllLinkedAccounts bool
	FetchAcrossAllTenants             bool
}

// SessionInformation is the authority's record of a session.
type SessionInformation struct {
	SessionHandle                    string
	UserID                           string
	RecipeUserID                     string
	TenantID                         string
	SessionDataInDatabase            map[string]any
	CustomClaimsInAccessTokenPayload jwtx.Payload
	Expiry                           int64
	TimeCreated                      int64
}

// RegeneratedToken is the result of RegenerateAccessToken. AccessToken is
// nil when the current token has already expired.
type RegeneratedToken struct {
	Session     SessionRecord
	AccessToken *TokenInfo
}

// SessionRecord is the session summary the authority returns with tokens.
type SessionRecord struct {
	Handle        string         `json:"handle"`
	UserID        string         `json:"userId"`
	RecipeUserID  string         `json:"recipeUserId"`
	UserDataInJWT map[string]any `json:"userDataInJWT"`
	TenantID      string         `json:"tenantId"`
}

// Statuses of by-handle claim operations.
const (
	StatusOK                       = "OK"
	StatusSessionDoesNotExistError = "SESSION_DOES_NOT_EXIST_ERROR"
)

// ClaimValueResult is the result of reading a claim by session handle.
type ClaimValueResult struct {
	Status string
	Value  any
}

// ValidateClaimsForSessionHandleResult is the result of checking claims
// of a session by handle.
type ValidateClaimsForSessionHandleResult struct {
	Status        string
	InvalidClaims []claims.InvalidClaim
}

// ValidateClaimsInput is the input of RecipeInterface.ValidateClaims.
type ValidateClaimsInput struct {
	UserID             string
	RecipeUserID       string
	TenantID           string
	AccessTokenPayload jwtx.Payload
	Validators         []claims.Validator
}

// RecipeInterface is the set of engine operations. Config.Override.Functions
// receives the default implementation and returns the one the recipe uses,
// typically copying it and wrapping some fields.
type RecipeInterface struct {
	CreateNewSession func(ctx context.Context, in CreateNewSessionInput) (*Session, error)
	GetSession       func(ctx context.Context, in GetSessionInput) (*Session, error)
	RefreshSession   func(ctx context.Context, in RefreshSessionInput) (*Session, error)

	// RevokeSession reports whether a session was removed.
	RevokeSession               func(ctx context.Context, handle string) (bool, error)
	RevokeMultipleSessions      func(ctx context.Context, handles []string) ([]string, error)
	RevokeAllSessionsForUser    func(ctx context.Context, in RevokeAllSessionsForUserInput) ([]string, error)
	GetAllSessionHandlesForUser func(ctx context.Context, in GetAllSessionHandlesForUserInput) ([]string, error)

	// GetSessionInformation returns nil when the session does not exist.
	GetSessionInformation       func(ctx context.Context, handle string) (*SessionInformation, error)
	UpdateSessionDataInDatabase func(ctx context.Context, handle string, data map[string]any) (bool, error)
	MergeIntoAccessTokenPayload func(ctx context.Context, handle string, update map[string]any) (bool, error)

	// RegenerateAccessToken returns nil when the session does not exist.
	RegenerateAccessToken func(ctx context.Context, accessToken string, payload map[string]any) (*RegeneratedToken, error)

	FetchAndSetClaim func(ctx context.Context, handle string, claim claims.Claim) (bool, error)
	SetClaimValue    func(ctx context.Context, handle string, claim claims.Claim, value any) (bool, error)
	GetClaimValue    func(ctx context.Context, handle string, claim claims.Claim) (ClaimValueResult, error)
	RemoveClaim      func(ctx context.Context, handle string, claim claims.Claim) (bool, error)

	ValidateClaims                 func(ctx context.Context, in ValidateClaimsInput) (claims.ValidationResult, error)
	ValidateClaimsForSessionHandle func(ctx context.Context, handle string, override func(ctx context.Context, globals []claims.Validator, info *SessionInformation) ([]claims.Validator, error)) (ValidateClaimsForSessionHandleResult, error)

	// GetGlobalClaimValidators returns the validators every session check
	// runs. defaults holds the validators registered on the recipe.
	GetGlobalClaimValidators func(ctx context.Context, tenantID, userID string, defaults []claims.Validator) ([]claims.Validator, error)
}

// APIInterface is the set of HTTP-facing operations, overridable through
// Config.Override.APIs.
type APIInterface struct {
	// RefreshPOST rotates the tokens of the request. Nil disables the
	// refresh route.
	RefreshPOST func(ctx context.Context, req Request, res Response) (*Session, error)

	// SignOutPOST revokes the request's session, if any. Nil disables the
	// sign out route.
	SignOutPOST func(ctx context.Context, req Request, res Response) error

	// VerifySession is what the middleware runs.
	VerifySession func(ctx context.Context, opts VerifySessionOptions, req Request, res Response) (*Session, error)
}
