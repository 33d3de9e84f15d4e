package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionkit/internal/coretest"
)

func TestNew_WiresRoutes(t *testing.T) {
	core := coretest.New(t, coretest.Options{})

	application, err := New(Config{
		LogLevel:   "error",
		Port:       0,
		APIDomain:  "http://localhost:8080",
		CoreHosts:  core.URL(),
		IssueToken: "issue-token-for-tests",
	})
	require.NoError(t, err)

	for _, path := range []string{"/livez", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestNew_InvalidSessionConfig(t *testing.T) {
	_, err := New(Config{
		LogLevel:       "error",
		APIDomain:      "http://localhost:8080",
		CoreHosts:      "http://core:3567",
		CookieSameSite: "sideways",
	})
	require.ErrorContains(t, err, "failed to initialize session recipe")
}
