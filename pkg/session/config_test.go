package session

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigNormalise(t *testing.T) {
	t.Parallel()

	insecure := false
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		check   func(t *testing.T, n *normalisedConfig)
	}{
		{
			name:    "api domain required",
			cfg:     Config{CoreHosts: []string{"http://core"}},
			wantErr: true,
		},
		{
			name:    "core host required",
			cfg:     Config{AppInfo: AppInfo{APIDomain: "https://api.example.com"}},
			wantErr: true,
		},
		{
			name: "same site defaults",
			cfg: Config{
				AppInfo:   AppInfo{APIDomain: "https://api.example.com", WebsiteDomain: "https://example.com", APIBasePath: "auth/"},
				CoreHosts: []string{"http://core"},
			},
			check: func(t *testing.T, n *normalisedConfig) {
				require.Equal(t, "lax", n.sameSiteName)
				require.Equal(t, http.SameSiteLaxMode, n.sameSite)
				require.Equal(t, AntiCSRFNone, n.AntiCSRF)
				require.True(t, n.cookieSecure)
				require.Equal(t, "/auth", n.apiBasePath)
				require.Equal(t, "/auth/session/refresh", n.refreshPath)
				require.Equal(t, "/auth/signout", n.signOutPath)
				require.Equal(t, "https://api.example.com/auth", n.issuer)
				require.Equal(t, http.StatusUnauthorized, n.SessionExpiredStatusCode)
				require.Equal(t, http.StatusForbidden, n.InvalidClaimStatusCode)
				require.True(t, n.useDynamicSigner)
				require.NotNil(t, n.Logger)
				require.NotNil(t, n.GetTokenTransferMethod)
			},
		},
		{
			name: "cross site defaults",
			cfg: Config{
				AppInfo:   AppInfo{APIDomain: "https://api.example.com", WebsiteDomain: "https://example.org"},
				CoreHosts: []string{"http://core"},
			},
			check: func(t *testing.T, n *normalisedConfig) {
				require.Equal(t, "none", n.sameSiteName)
				require.Equal(t, AntiCSRFViaCustomHeader, n.AntiCSRF)
			},
		},
		{
			name: "public suffix sites differ",
			cfg: Config{
				AppInfo:   AppInfo{APIDomain: "https://app-a.github.io", WebsiteDomain: "https://app-b.github.io"},
				CoreHosts: []string{"http://core"},
			},
			check: func(t *testing.T, n *normalisedConfig) {
				require.Equal(t, "none", n.sameSiteName)
			},
		},
		{
			name: "scheme mismatch is cross site",
			cfg: Config{
				AppInfo:             AppInfo{APIDomain: "https://api.example.com", WebsiteDomain: "http://example.com"},
				CoreHosts:           []string{"http://core"},
				UseStaticSigningKey: true,
			},
			check: func(t *testing.T, n *normalisedConfig) {
				require.Equal(t, "none", n.sameSiteName)
				require.False(t, n.useDynamicSigner)
			},
		},
		{
			name: "none needs secure cookies",
			cfg: Config{
				AppInfo:        AppInfo{APIDomain: "https://api.example.com"},
				CoreHosts:      []string{"http://core"},
				CookieSecure:   &insecure,
				CookieSameSite: "none",
			},
			wantErr: true,
		},
		{
			name: "localhost may use insecure none",
			cfg: Config{
				AppInfo:        AppInfo{APIDomain: "http://localhost:8080", WebsiteDomain: "http://127.0.0.1:3000"},
				CoreHosts:      []string{"http://core"},
				CookieSameSite: "None",
			},
			check: func(t *testing.T, n *normalisedConfig) {
				require.False(t, n.cookieSecure)
				require.Equal(t, http.SameSiteNoneMode, n.sameSite)
			},
		},
		{
			name: "unknown same site",
			cfg: Config{
				AppInfo:        AppInfo{APIDomain: "https://api.example.com"},
				CoreHosts:      []string{"http://core"},
				CookieSameSite: "sometimes",
			},
			wantErr: true,
		},
		{
			name: "unknown anti csrf mode",
			cfg: Config{
				AppInfo:   AppInfo{APIDomain: "https://api.example.com"},
				CoreHosts: []string{"http://core"},
				AntiCSRF:  "SOMETIMES",
			},
			wantErr: true,
		},
		{
			name: "status codes must differ",
			cfg: Config{
				AppInfo:                  AppInfo{APIDomain: "https://api.example.com"},
				CoreHosts:                []string{"http://core"},
				SessionExpiredStatusCode: http.StatusForbidden,
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n, err := tt.cfg.normalise()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			tt.check(t, n)
		})
	}
}

func TestNew_InvalidCoreHost(t *testing.T) {
	_, err := New(Config{
		AppInfo:   AppInfo{APIDomain: "https://api.example.com"},
		CoreHosts: []string{"::not a url"},
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
