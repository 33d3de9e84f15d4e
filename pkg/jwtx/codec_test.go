package jwtx_test

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

func newTestKeyManager(t *testing.T) *jwtx.KeyManager {
	t.Helper()
	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{})
	require.NoError(t, err)
	return km
}

func payloadFor(version jwtx.Version) jwtx.Payload {
	now := time.Now()
	if version == jwtx.V2 {
		return jwtx.Payload{
			"sessionHandle":     "handle-1",
			"userId":            "user-1",
			"refreshTokenHash1": "hash-1",
			"userData":          map[string]any{"role": "admin"},
			"expiryTime":        float64(now.Add(time.Hour).UnixMilli()),
			"timeCreated":       float64(now.UnixMilli()),
		}
	}
	p := jwtx.Payload{
		"sub":               "user-1",
		"exp":               float64(now.Add(time.Hour).Unix()),
		"iat":               float64(now.Unix()),
		"sessionHandle":     "handle-1",
		"refreshTokenHash1": "hash-1",
		"role":              "admin",
	}
	if version >= jwtx.V4 {
		p["tId"] = "public"
	}
	if version >= jwtx.V5 {
		p["rsub"] = "user-1"
	}
	return p
}

func signFor(t *testing.T, km *jwtx.KeyManager, version jwtx.Version, p jwtx.Payload) string {
	t.Helper()
	var (
		tok string
		err error
	)
	if version == jwtx.V2 {
		tok, err = km.GetSigner(true).SignLegacy(p)
	} else {
		tok, err = km.GetSigner(false).Sign(p, version)
	}
	require.NoError(t, err)
	return tok
}

func TestParse_RoundTripAllVersions(t *testing.T) {
	km := newTestKeyManager(t)

	for _, v := range []jwtx.Version{jwtx.V2, jwtx.V3, jwtx.V4, jwtx.V5} {
		t.Run(fmt.Sprintf("v%d", v), func(t *testing.T) {
			tok := signFor(t, km, v, payloadFor(v))

			parsed, err := jwtx.Parse(tok)
			require.NoError(t, err)
			require.Equal(t, v, parsed.Version)
			require.Equal(t, tok, jwtx.Serialize(parsed))

			again, err := jwtx.Parse(jwtx.Serialize(parsed))
			require.NoError(t, err)
			require.Equal(t, parsed, again)

			require.NoError(t, jwtx.ValidateStructure(parsed.Payload, parsed.Version))
			require.Equal(t, "user-1", parsed.UserID())
			require.Equal(t, "admin", parsed.UserData()["role"])
		})
	}
}

func TestParse_KeyIDOnlyHeaderSniffsPayload(t *testing.T) {
	km := newTestKeyManager(t)

	tests := []struct {
		name string
		from jwtx.Version
		want jwtx.Version
	}{
		{"plain payload is v3", jwtx.V3, jwtx.V3},
		{"tId means v4", jwtx.V4, jwtx.V4},
		{"rsub means v5", jwtx.V5, jwtx.V5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := km.GetSigner(false).Sign(payloadFor(tt.from), 0)
			require.NoError(t, err)

			parsed, err := jwtx.Parse(tok)
			require.NoError(t, err)
			require.Equal(t, tt.want, parsed.Version)
			require.Equal(t, km.GetSigner(false).KID(), parsed.KeyID)
		})
	}
}

func rawSegment(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(b)
}

func TestParse_Malformed(t *testing.T) {
	payload := rawSegment(t, map[string]any{"sub": "u"})

	tests := []struct {
		name  string
		token string
	}{
		{"two segments", "a.b"},
		{"four segments", "a.b.c.d"},
		{"payload not base64", rawSegment(t, map[string]any{"kid": "d-1"}) + ".!!!.sig"},
		{"payload not json", rawSegment(t, map[string]any{"kid": "d-1"}) + "." + base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".sig"},
		{"header not json", base64.RawURLEncoding.EncodeToString([]byte("nope")) + "." + payload + ".sig"},
		{"no kid no version", rawSegment(t, map[string]any{"alg": "RS256", "typ": "JWT"}) + "." + payload + ".sig"},
		{"version below 3", rawSegment(t, map[string]any{"alg": "RS256", "typ": "JWT", "kid": "d-1", "version": "2"}) + "." + payload + ".sig"},
		{"numeric version", rawSegment(t, map[string]any{"alg": "RS256", "typ": "JWT", "kid": "d-1", "version": 3}) + "." + payload + ".sig"},
		{"wrong typ", rawSegment(t, map[string]any{"alg": "RS256", "typ": "JWS", "kid": "d-1", "version": "3"}) + "." + payload + ".sig"},
		{"version without kid", rawSegment(t, map[string]any{"alg": "RS256", "typ": "JWT", "version": "3"}) + "." + payload + ".sig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jwtx.Parse(tt.token)
			require.ErrorIs(t, err, jwtx.ErrMalformed)

			var me *jwtx.MalformedTokenError
			require.ErrorAs(t, err, &me)
		})
	}
}

func TestParsedToken_Times(t *testing.T) {
	km := newTestKeyManager(t)

	for _, v := range []jwtx.Version{jwtx.V2, jwtx.V5} {
		p := payloadFor(v)
		parsed, err := jwtx.Parse(signFor(t, km, v, p))
		require.NoError(t, err)

		require.WithinDuration(t, time.Now().Add(time.Hour), parsed.ExpiryTime(), 2*time.Second)
		require.WithinDuration(t, time.Now(), parsed.TimeCreated(), 2*time.Second)
	}
}

func TestKeyIDKind(t *testing.T) {
	require.Equal(t, jwtx.KeyKindStatic, jwtx.KeyIDKind("s-abc"))
	require.Equal(t, jwtx.KeyKindDynamic, jwtx.KeyIDKind("d-abc"))
	require.Equal(t, jwtx.KeyKindUnknown, jwtx.KeyIDKind("abc"))
}
