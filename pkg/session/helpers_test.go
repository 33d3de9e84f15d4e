package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionkit/internal/coretest"
	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

func newTestRecipe(t *testing.T, core *coretest.Core, mutate ...func(*Config)) *Recipe {
	t.Helper()
	cfg := Config{
		AppInfo: AppInfo{
			AppName:       "sessionkit",
			APIDomain:     "http://localhost:8080",
			WebsiteDomain: "http://localhost:3000",
		},
		CoreHosts: []string{core.URL()},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		TestMode:  true,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func createSession(t *testing.T, r *Recipe, userID string, payload map[string]any) *Session {
	t.Helper()
	s, err := r.Functions.CreateNewSession(context.Background(), CreateNewSessionInput{
		RecipeUserID:       userID,
		AccessTokenPayload: payload,
	})
	require.NoError(t, err)
	return s
}

func getSession(r *Recipe, token string, opts VerifySessionOptions) (*Session, error) {
	return r.Functions.GetSession(context.Background(), GetSessionInput{AccessToken: token, Options: opts})
}

func refreshWith(r *Recipe, token string) (*Session, error) {
	return r.Functions.RefreshSession(context.Background(), RefreshSessionInput{RefreshToken: token})
}

func boolPtr(b bool) *bool { return &b }

func requireErrorType(t *testing.T, err error, want ErrorType) *Error {
	t.Helper()
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, want, se.Type, se.Error())
	return se
}

// cookieFrom returns the named cookie set on rec, or nil.
func cookieFrom(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	// Result snapshots the headers once, so read them directly.
	for _, c := range (&http.Response{Header: rec.Header()}).Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// forgeKeyID rewrites the kid in t's header, leaving payload and signature.
func forgeKeyID(t *testing.T, parsed *jwtx.ParsedToken, kid string) string {
	t.Helper()
	raw, err := jwtx.DecodeSegment(parsed.Header)
	require.NoError(t, err)
	var header map[string]any
	require.NoError(t, json.Unmarshal(raw, &header))
	header["kid"] = kid
	raw, err = json.Marshal(header)
	require.NoError(t, err)

	forged := *parsed
	forged.Header = base64.RawURLEncoding.EncodeToString(raw)
	return jwtx.Serialize(&forged)
}
