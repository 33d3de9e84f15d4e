package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
	"github.com/aussiebroadwan/sessionkit/pkg/session/claims"
)

// ErrorType classifies session failures.
type ErrorType string

const (
	// Unauthorised: no usable session. Tokens are cleared when ClearTokens
	// is set; the client must sign in again.
	Unauthorised ErrorType = "UNAUTHORISED"

	// TryRefreshToken: the access token may be expired or signed with a
	// key we cannot check yet. Tokens are kept; the client should refresh.
	TryRefreshToken ErrorType = "TRY_REFRESH_TOKEN"

	// TokenTheftDetected: a rotated refresh token was reused. Tokens are
	// cleared and the session revoked.
	TokenTheftDetected ErrorType = "TOKEN_THEFT_DETECTED"

	// InvalidClaims: the session is valid but claim requirements are unmet.
	InvalidClaims ErrorType = "INVALID_CLAIMS"
)

// ErrInvalidConfig wraps every configuration error, including unsafe
// per-call options.
var ErrInvalidConfig = errors.New("session: invalid config")

// TheftInfo identifies the session whose refresh token was reused.
type TheftInfo struct {
	UserID        string `json:"userId"`
	RecipeUserID  string `json:"recipeUserId"`
	SessionHandle string `json:"sessionHandle"`
}

// Error is a session failure the HTTP layer maps to a status code.
type Error struct {
	Type    ErrorType
	Message string

	// ClearTokens is only meaningful for Unauthorised.
	ClearTokens bool

	// InvalidClaims is set for the InvalidClaims type.
	InvalidClaims []claims.InvalidClaim

	// Theft is set for the TokenTheftDetected type.
	Theft *TheftInfo

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("session: %s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func unauthorised(msg string, clearTokens bool) *Error {
	return &Error{Type: Unauthorised, Message: msg, ClearTokens: clearTokens}
}

func tryRefresh(msg string, err error) *Error {
	return &Error{Type: TryRefreshToken, Message: msg, Err: err}
}

func errorOfType(err error, t ErrorType) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == t
}

func IsUnauthorised(err error) bool       { return errorOfType(err, Unauthorised) }
func IsTryRefreshToken(err error) bool    { return errorOfType(err, TryRefreshToken) }
func IsTokenTheftDetected(err error) bool { return errorOfType(err, TokenTheftDetected) }
func IsInvalidClaims(err error) bool      { return errorOfType(err, InvalidClaims) }

// ProtectedPropertyError is returned at the HTTP boundary when a caller
// tries to set a reserved payload key.
type ProtectedPropertyError struct {
	Field string
}

func (e *ProtectedPropertyError) Error() string {
	return fmt.Sprintf("session: %q is a protected property and cannot be set", e.Field)
}

// HTTPStatus is the status an HTTP layer should answer with.
func (e *ProtectedPropertyError) HTTPStatus() int { return http.StatusBadRequest }

// CheckProtectedProperties rejects payloads that set a reserved key. The
// engine itself drops such keys silently; this is for request handlers
// that accept payloads from clients.
func CheckProtectedProperties(payload map[string]any) error {
	for _, k := range jwtx.ProtectedProperties {
		if _, ok := payload[k]; ok {
			return &ProtectedPropertyError{Field: k}
		}
	}
	return nil
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
