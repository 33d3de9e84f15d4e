package jwtx

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Version identifies the access-token payload layout.
type Version int

const (
	V2 Version = 2
	V3 Version = 3
	V4 Version = 4
	V5 Version = 5

	// LatestVersion is the layout issued by current authority deployments.
	LatestVersion = V5
)

var (
	ErrMalformed        = errors.New("jwtx: malformed token")
	ErrInvalidStructure = errors.New("jwtx: invalid token structure")
)

// MalformedTokenError is returned when a token cannot be split or decoded.
type MalformedTokenError struct {
	Reason string
}

func (e *MalformedTokenError) Error() string {
	return "jwtx: malformed token: " + e.Reason
}

func (e *MalformedTokenError) Is(target error) bool { return target == ErrMalformed }

// ParsedToken is an access token split into its parts. Nothing in it has
// been signature-checked.
type ParsedToken struct {
	Raw        string
	Version    Version
	KeyID      string // empty for V2
	Header     string // raw header segment
	RawPayload string // raw payload segment
	Signature  string // raw signature segment
	Payload    Payload
}

// Legacy tokens were issued with one of two fixed, standard-base64 headers
// and carry no key id.
var legacyHeaders = map[string]struct{}{
	base64.StdEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT","version":"1"}`)): {},
	base64.StdEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT","version":"2"}`)): {},
}

// LegacyHeader is the header segment used for V2 tokens.
var LegacyHeader = base64.StdEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT","version":"2"}`))

// Parse splits and decodes token without verifying its signature.
func Parse(token string) (*ParsedToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, &MalformedTokenError{Reason: fmt.Sprintf("expected 3 segments, got %d", len(parts))}
	}

	payloadBytes, err := DecodeSegment(parts[1])
	if err != nil {
		return nil, &MalformedTokenError{Reason: "payload is not base64"}
	}
	var payload Payload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil || payload == nil {
		return nil, &MalformedTokenError{Reason: "payload is not a JSON object"}
	}

	version, kid, err := sniffVersion(parts[0], payload)
	if err != nil {
		return nil, err
	}

	return &ParsedToken{
		Raw:        token,
		Version:    version,
		KeyID:      kid,
		Header:     parts[0],
		RawPayload: parts[1],
		Signature:  parts[2],
		Payload:    payload,
	}, nil
}

// Serialize reassembles the token from its raw segments.
func Serialize(t *ParsedToken) string {
	return t.Header + "." + t.RawPayload + "." + t.Signature
}

// SigningInput is the "header.payload" string the signature covers.
func (t *ParsedToken) SigningInput() string {
	return t.Header + "." + t.RawPayload
}

// ExpiryTime returns the token expiry. V2 stores milliseconds under
// expiryTime, later versions store seconds under exp.
func (t *ParsedToken) ExpiryTime() time.Time {
	if t.Version < V3 {
		return time.UnixMilli(t.Payload.numberMillis(legacyExpiryTime, 1))
	}
	return time.UnixMilli(t.Payload.numberMillis(ClaimExp, 1000))
}

// TimeCreated returns the token issue time.
func (t *ParsedToken) TimeCreated() time.Time {
	if t.Version < V3 {
		return time.UnixMilli(t.Payload.numberMillis(legacyTimeCreated, 1))
	}
	return time.UnixMilli(t.Payload.numberMillis(ClaimIat, 1000))
}

// UserID returns the session's user id for any version.
func (t *ParsedToken) UserID() string {
	if t.Version < V3 {
		return t.Payload.OptionalString(legacyUserID)
	}
	return t.Payload.OptionalString(ClaimSub)
}

// UserData returns the application-visible payload. For V2 this is the
// nested userData object, for later versions the whole payload.
func (t *ParsedToken) UserData() Payload {
	if t.Version >= V3 {
		return t.Payload
	}
	if m, ok := t.Payload[legacyUserData].(map[string]any); ok {
		return Payload(m)
	}
	return Payload{}
}

// DecodeSegment decodes a token segment in either base64 alphabet, with or
// without padding. V2 tokens use standard base64, later ones base64url.
func DecodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	seg = strings.NewReplacer("+", "-", "/", "_").Replace(seg)
	return base64.RawURLEncoding.DecodeString(seg)
}

// headerMatcher inspects a token's header (and, for headers that predate an
// explicit version marker, its payload) and reports the layout version.
type headerMatcher func(rawHeader string, header map[string]any, payload Payload) (v Version, kid string, matched bool, err error)

// Version sniffing is a compatibility shim for tokens issued by older
// deployments. Matchers run in order; the first match wins.
var headerMatchers = []headerMatcher{
	matchVersionedHeader,
	matchKeyIDHeader,
}

func sniffVersion(rawHeader string, payload Payload) (Version, string, error) {
	if _, ok := legacyHeaders[rawHeader]; ok {
		return V2, "", nil
	}

	headerBytes, err := DecodeSegment(rawHeader)
	if err != nil {
		return 0, "", &MalformedTokenError{Reason: "header is not base64"}
	}
	var header map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil || header == nil {
		return 0, "", &MalformedTokenError{Reason: "header is not a JSON object"}
	}

	for _, m := range headerMatchers {
		v, kid, ok, err := m(rawHeader, header, payload)
		if err != nil {
			return 0, "", err
		}
		if ok {
			return v, kid, nil
		}
	}
	return 0, "", &MalformedTokenError{Reason: "JWT header mismatch"}
}

// matchVersionedHeader handles V3+ headers that carry "version".
func matchVersionedHeader(_ string, header map[string]any, _ Payload) (Version, string, bool, error) {
	raw, present := header["version"]
	if !present {
		return 0, "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, "", false, &MalformedTokenError{Reason: "JWT header mismatch"}
	}
	n, err := strconv.Atoi(s)
	typ, _ := header["typ"].(string)
	kid, _ := header["kid"].(string)
	if err != nil || typ != "JWT" || n < int(V3) || kid == "" {
		return 0, "", false, &MalformedTokenError{Reason: "JWT header mismatch"}
	}
	return Version(n), kid, true, nil
}

// matchKeyIDHeader handles kid-only headers by looking at the payload shape.
func matchKeyIDHeader(_ string, header map[string]any, payload Payload) (Version, string, bool, error) {
	kid, _ := header["kid"].(string)
	if kid == "" {
		return 0, "", false, nil
	}
	switch {
	case payload[ClaimRecipeUserID] != nil:
		return V5, kid, true, nil
	case payload[ClaimTenantID] != nil:
		return V4, kid, true, nil
	default:
		return V3, kid, true, nil
	}
}

// KeyKind classifies signing keys by their id prefix.
type KeyKind int

const (
	KeyKindUnknown KeyKind = iota
	KeyKindStatic
	KeyKindDynamic
)

// KeyIDKind reports whether kid names a static ("s-") or dynamic ("d-") key.
func KeyIDKind(kid string) KeyKind {
	switch {
	case strings.HasPrefix(kid, "s-"):
		return KeyKindStatic
	case strings.HasPrefix(kid, "d-"):
		return KeyKindDynamic
	default:
		return KeyKindUnknown
	}
}
