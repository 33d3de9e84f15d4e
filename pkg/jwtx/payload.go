package jwtx

import (
	"maps"
	"math"

	"github.com/mohae/deepcopy"
)

// Reserved access-token payload keys. Only the engine and the authority
// write these; application code never sets them directly.
const (
	ClaimSub                     = "sub"
	ClaimIat                     = "iat"
	ClaimExp                     = "exp"
	ClaimSessionHandle           = "sessionHandle"
	ClaimRefreshTokenHash1       = "refreshTokenHash1"
	ClaimParentRefreshTokenHash1 = "parentRefreshTokenHash1"
	ClaimAntiCSRFToken           = "antiCsrfToken"
	ClaimTenantID                = "tId"
	ClaimRecipeUserID            = "rsub"
	ClaimIssuer                  = "iss"
	ClaimStaticKey               = "staticKey"
)

// Legacy (v2) payload keys.
const (
	legacyUserID      = "userId"
	legacyUserData    = "userData"
	legacyExpiryTime  = "expiryTime"
	legacyTimeCreated = "timeCreated"
)

// ProtectedProperties is the frozen list of reserved keys.
var ProtectedProperties = []string{
	ClaimSub,
	ClaimIat,
	ClaimExp,
	ClaimSessionHandle,
	ClaimRefreshTokenHash1,
	ClaimParentRefreshTokenHash1,
	ClaimAntiCSRFToken,
	ClaimTenantID,
	ClaimRecipeUserID,
	ClaimIssuer,
	ClaimStaticKey,
}

// IsProtected reports whether key is one of the reserved payload keys.
func IsProtected(key string) bool {
	for _, p := range ProtectedProperties {
		if p == key {
			return true
		}
	}
	return false
}

// Payload is the decoded JSON body of an access token. Reserved keys are
// listed in ProtectedProperties; every other top-level key belongs to either
// the application or exactly one session claim.
type Payload map[string]any

// Clone returns a deep copy so callers can patch it without touching the
// original token payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	return deepcopy.Copy(p).(Payload)
}

// WithoutProtected returns a shallow copy with every reserved key removed.
func (p Payload) WithoutProtected() Payload {
	out := maps.Clone(p)
	if out == nil {
		out = Payload{}
	}
	for _, k := range ProtectedProperties {
		delete(out, k)
	}
	return out
}

// String returns the value at key when it is a string.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Number returns the value at key when it is a JSON number.
func (p Payload) Number(key string) (float64, bool) {
	switch n := p[key].(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// OptionalString reads a nullable string key. Absent, null and values of a
// foreign type all read as "".
func (p Payload) OptionalString(key string) string {
	s, _ := p.String(key)
	return s
}

// numberMillis reads a number and returns it as integer milliseconds.
func (p Payload) numberMillis(key string, scale float64) int64 {
	n, ok := p.Number(key)
	if !ok {
		return 0
	}
	return int64(math.Floor(n * scale))
}
