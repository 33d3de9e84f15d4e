package querier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionkit/pkg/querier"
)

type echoServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newEchoServer(t *testing.T, name string) *echoServer {
	t.Helper()
	s := &echoServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"host":    name,
			"path":    r.URL.Path,
			"query":   r.URL.RawQuery,
			"method":  r.Method,
			"apiKey":  r.Header.Get("api-key"),
			"cdi":     r.Header.Get("cdi-version"),
			"rid":     r.Header.Get("rid"),
			"payload": body,
		})
	}))
	t.Cleanup(s.Close)
	return s
}

type echo struct {
	Host    string         `json:"host"`
	Path    string         `json:"path"`
	Query   string         `json:"query"`
	Method  string         `json:"method"`
	APIKey  string         `json:"apiKey"`
	CDI     string         `json:"cdi"`
	RID     string         `json:"rid"`
	Payload map[string]any `json:"payload"`
}

func TestQuerier_HeadersAndBody(t *testing.T) {
	srv := newEchoServer(t, "a")
	q, err := querier.New(querier.Config{Hosts: []string{srv.URL + "/"}, APIKey: "secret"})
	require.NoError(t, err)

	var out echo
	err = q.Post(context.Background(), "/recipe/session", map[string]any{"userId": "u1"}, &out)
	require.NoError(t, err)
	require.Equal(t, "/recipe/session", out.Path)
	require.Equal(t, http.MethodPost, out.Method)
	require.Equal(t, "secret", out.APIKey)
	require.Equal(t, querier.CDIVersion, out.CDI)
	require.Equal(t, "session", out.RID)
	require.Equal(t, "u1", out.Payload["userId"])

	err = q.Get(context.Background(), "/recipe/session", url.Values{"sessionHandle": {"h1"}}, &out)
	require.NoError(t, err)
	require.Equal(t, "sessionHandle=h1", out.Query)
	require.Equal(t, http.MethodGet, out.Method)

	err = q.Put(context.Background(), "/recipe/session/data", map[string]any{"k": "v"}, &out)
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, out.Method)
}

func TestQuerier_RoundRobin(t *testing.T) {
	a := newEchoServer(t, "a")
	b := newEchoServer(t, "b")
	q, err := querier.New(querier.Config{Hosts: []string{a.URL, b.URL}})
	require.NoError(t, err)

	for range 4 {
		require.NoError(t, q.Get(context.Background(), "/hello", nil, nil))
	}
	require.Equal(t, int32(2), a.hits.Load())
	require.Equal(t, int32(2), b.hits.Load())
}

func TestQuerier_SkipsUnreachableHost(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	live := newEchoServer(t, "live")

	q, err := querier.New(querier.Config{Hosts: []string{deadURL, live.URL}})
	require.NoError(t, err)

	for range 3 {
		var out echo
		require.NoError(t, q.Get(context.Background(), "/hello", nil, &out))
		require.Equal(t, "live", out.Host)
	}
}

func TestQuerier_AllHostsUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	q, err := querier.New(querier.Config{Hosts: []string{deadURL}})
	require.NoError(t, err)

	err = q.Get(context.Background(), "/hello", nil, nil)
	require.ErrorIs(t, err, querier.ErrGeneral)

	var ge *querier.GeneralError
	require.ErrorAs(t, err, &ge)
	require.Zero(t, ge.StatusCode)
	require.Equal(t, http.StatusBadGateway, ge.HTTPStatus())
}

func TestQuerier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	q, err := querier.New(querier.Config{Hosts: []string{srv.URL}})
	require.NoError(t, err)

	err = q.Post(context.Background(), "/recipe/session", map[string]any{}, nil)
	var ge *querier.GeneralError
	require.ErrorAs(t, err, &ge)
	require.Equal(t, http.StatusInternalServerError, ge.StatusCode)
	require.Equal(t, "boom", ge.Body)
}

func TestNew_Validation(t *testing.T) {
	_, err := querier.New(querier.Config{})
	require.ErrorIs(t, err, querier.ErrNoHosts)

	_, err = querier.New(querier.Config{Hosts: []string{"not a url"}})
	require.Error(t, err)
}

func TestTenantPath(t *testing.T) {
	require.Equal(t, "/recipe/session", querier.TenantPath("public", "/recipe/session"))
	require.Equal(t, "/recipe/session", querier.TenantPath("", "/recipe/session"))
	require.Equal(t, "/acme/recipe/session", querier.TenantPath("acme", "/recipe/session"))
}

func TestJWKSURLs(t *testing.T) {
	q, err := querier.New(querier.Config{Hosts: []string{"http://a:1", "http://b:2/"}})
	require.NoError(t, err)
	require.Equal(t, []string{"http://a:1/.well-known/jwks.json", "http://b:2/.well-known/jwks.json"}, q.JWKSURLs())
}
