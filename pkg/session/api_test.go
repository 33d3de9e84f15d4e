package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionkit/internal/coretest"
	"github.com/aussiebroadwan/sessionkit/pkg/querier"
	"github.com/aussiebroadwan/sessionkit/pkg/session/claims"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandler_Refresh(t *testing.T) {
	core := coretest.New(t, coretest.Options{})
	r := newTestRecipe(t, core)
	s := createSession(t, r, "user-1", nil)
	h := r.Handler()

	req := httptest.NewRequest(http.MethodPost, r.RefreshPath(), nil)
	req.AddCookie(&http.Cookie{Name: "sRefreshToken", Value: s.GetAllSessionTokensDangerously().RefreshToken})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeBody(t, rec))
	require.NotEmpty(t, cookieFrom(rec, "sAccessToken").Value)
	require.NotEmpty(t, rec.Header().Get("front-token"))

	// Replaying the first refresh token after the rotated one was used.
	next := httptest.NewRequest(http.MethodPost, r.RefreshPath(), nil)
	next.AddCookie(&http.Cookie{Name: "sRefreshToken", Value: cookieFrom(rec, "sRefreshToken").Value})
	h.ServeHTTP(httptest.NewRecorder(), next)

	replay := httptest.NewRequest(http.MethodPost, r.RefreshPath(), nil)
	replay.AddCookie(&http.Cookie{Name: "sRefreshToken", Value: s.GetAllSessionTokensDangerously().RefreshToken})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, replay)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "token theft detected", decodeBody(t, rec)["message"])
	require.Empty(t, cookieFrom(rec, "sRefreshToken").Value)
	require.False(t, core.SessionExists(s.GetHandle()))
}

func TestHandler_SignOut(t *testing.T) {
	core := coretest.New(t, coretest.Options{})
	r := newTestRecipe(t, core)
	s := createSession(t, r, "user-1", nil)
	h := r.Handler()

	req := httptest.NewRequest(http.MethodPost, r.SignOutPath(), nil)
	req.Header.Set("Authorization", "Bearer "+s.GetAccessToken())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", decodeBody(t, rec)["status"])
	require.Equal(t, "remove", rec.Header().Get("front-token"))
	require.False(t, core.SessionExists(s.GetHandle()))

	// Signing out without a session still succeeds.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, r.SignOutPath(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_SignOutIgnoresClaims(t *testing.T) {
	core := coretest.New(t, coretest.Options{})
	r := newTestRecipe(t, core)
	r.AddClaimValidator(claims.Validator{
		ID:       "never",
		Validate: func(context.Context, claims.Payload) claims.Result { return claims.Invalid(nil) },
	})
	s := createSession(t, r, "user-1", nil)

	req := httptest.NewRequest(http.MethodPost, r.SignOutPath(), nil)
	req.Header.Set("Authorization", "Bearer "+s.GetAccessToken())
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_DisabledRoute(t *testing.T) {
	core := coretest.New(t, coretest.Options{})
	r := newTestRecipe(t, core, func(c *Config) {
		c.Override.APIs = func(original APIInterface) APIInterface {
			original.SignOutPOST = nil
			return original
		}
	})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/signout", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifySessionMiddleware(t *testing.T) {
	core := coretest.New(t, coretest.Options{})
	r := newTestRecipe(t, core)
	s := createSession(t, r, "user-1", nil)

	var seen *Session
	next := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen = FromContext(req.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+s.GetAccessToken())
	rec := httptest.NewRecorder()
	r.VerifySession(VerifySessionOptions{})(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "user-1", seen.GetUserID())

	seen = nil
	rec = httptest.NewRecorder()
	r.VerifySession(VerifySessionOptions{})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorised", decodeBody(t, rec)["message"])
	require.Nil(t, seen)

	rec = httptest.NewRecorder()
	r.VerifySession(VerifySessionOptions{Optional: true})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, seen)
}

func TestErrorHandler(t *testing.T) {
	core := coretest.New(t, coretest.Options{})
	r := newTestRecipe(t, core)

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
		wantCleared bool
	}{
		{
			name:        "unauthorised keeps tokens",
			err:         unauthorised("no session", false),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "unauthorised",
		},
		{
			name:        "unauthorised clears tokens",
			err:         unauthorised("revoked", true),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "unauthorised",
			wantCleared: true,
		},
		{
			name:        "try refresh",
			err:         tryRefresh("expired", nil),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "try refresh token",
		},
		{
			name:        "theft",
			err:         &Error{Type: TokenTheftDetected, Theft: &TheftInfo{SessionHandle: "gone"}},
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "token theft detected",
			wantCleared: true,
		},
		{
			name:        "invalid claims",
			err:         &Error{Type: InvalidClaims, InvalidClaims: []claims.InvalidClaim{{ID: "isAdmin"}}},
			wantStatus:  http.StatusForbidden,
			wantMessage: "invalid claim",
		},
		{
			name:        "protected property",
			err:         CheckProtectedProperties(map[string]any{"sub": "x"}),
			wantStatus:  http.StatusBadRequest,
			wantMessage: `session: "sub" is a protected property and cannot be set`,
		},
		{
			name:        "authority failure",
			err:         &querier.GeneralError{Method: "POST", Path: "/recipe/session", StatusCode: 500},
			wantStatus:  http.StatusBadGateway,
			wantMessage: "session authority unavailable",
		},
		{
			name:        "unknown",
			err:         errors.New("boom"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ErrorHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			require.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			require.Equal(t, tt.wantMessage, body["message"])
			if tt.wantCleared {
				require.Equal(t, "remove", rec.Header().Get("front-token"))
				require.NotNil(t, cookieFrom(rec, "sAccessToken"))
			} else {
				require.Empty(t, rec.Header().Get("front-token"))
			}
		})
	}
}

func TestErrorHandler_InvalidClaimBody(t *testing.T) {
	core := coretest.New(t, coretest.Options{})
	r := newTestRecipe(t, core, func(c *Config) { c.InvalidClaimStatusCode = http.StatusTeapot })

	rec := httptest.NewRecorder()
	r.ErrorHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil), &Error{
		Type:          InvalidClaims,
		InvalidClaims: []claims.InvalidClaim{{ID: "isAdmin", Reason: map[string]any{"message": "wrong value"}}},
	})

	require.Equal(t, http.StatusTeapot, rec.Code)
	var body struct {
		Message               string                `json:"message"`
		ClaimValidationErrors []claims.InvalidClaim `json:"claimValidationErrors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid claim", body.Message)
	require.Len(t, body.ClaimValidationErrors, 1)
	require.Equal(t, "isAdmin", body.ClaimValidationErrors[0].ID)
	require.Equal(t, "wrong value", body.ClaimValidationErrors[0].Reason["message"])
}

func TestCheckProtectedProperties(t *testing.T) {
	require.NoError(t, CheckProtectedProperties(map[string]any{"role": "admin"}))

	err := CheckProtectedProperties(map[string]any{"role": "admin", "sub": "x"})
	var ppe *ProtectedPropertyError
	require.ErrorAs(t, err, &ppe)
	require.Equal(t, "sub", ppe.Field)
	require.Equal(t, http.StatusBadRequest, ppe.HTTPStatus())
}

func TestMetrics(t *testing.T) {
	core := coretest.New(t, coretest.Options{})
	reg := prometheus.NewRegistry()
	r := newTestRecipe(t, core, func(c *Config) { c.MetricsRegisterer = reg })

	s := createSession(t, r, "user-1", nil)
	_, err := getSession(r, s.GetAccessToken(), VerifySessionOptions{})
	require.NoError(t, err)
	_, err = getSession(r, "", VerifySessionOptions{})
	require.Error(t, err)
	_, err = refreshWith(r, "unknown")
	require.Error(t, err)

	counts := map[string]float64{}
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "/" + l.GetValue()
			}
			counts[key] = m.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(1), counts["sessionkit_jwks_fetch_total/ok"])
	require.Equal(t, float64(1), counts["sessionkit_verify_total/local"])
	require.Equal(t, float64(1), counts["sessionkit_verify_total/unauthorised"])
	require.Equal(t, float64(1), counts["sessionkit_refresh_total/unauthorised"])

	// A second recipe on the same registry is a registration conflict.
	_, err = New(Config{
		AppInfo:           AppInfo{APIDomain: "http://localhost:8080"},
		CoreHosts:         []string{core.URL()},
		MetricsRegisterer: reg,
	})
	require.Error(t, err)
}
