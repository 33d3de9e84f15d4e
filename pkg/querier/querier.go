// Package querier is the HTTP JSON client for the session authority
// ("core"). It spreads calls over every configured core instance and moves
// on to the next one when an instance cannot be reached.
package querier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// CDIVersion is the core driver interface version sent with every call.
const CDIVersion = "5.0"

// DefaultTenantID is the tenant whose paths carry no prefix.
const DefaultTenantID = "public"

var ErrNoHosts = errors.New("querier: no core hosts configured")

// Config configures a Querier.
type Config struct {
	// Hosts are core base URLs, e.g. "https://core-1.internal:3567".
	Hosts []string

	// APIKey is sent as the api-key header when set.
	APIKey string

	// RecipeID is sent as the rid header. Defaults to "session".
	RecipeID string

	// HTTPClient bounds every call. Defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// Querier issues JSON requests against the core.
type Querier struct {
	hosts    []string
	apiKey   string
	rid      string
	client   *http.Client
	mu       sync.Mutex
	nextHost int
}

// New validates cfg and returns a Querier.
func New(cfg Config) (*Querier, error) {
	hosts := make([]string, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		h = strings.TrimRight(strings.TrimSpace(h), "/")
		if h == "" {
			continue
		}
		if _, err := url.ParseRequestURI(h); err != nil {
			return nil, fmt.Errorf("querier: invalid host %q: %w", h, err)
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	rid := cfg.RecipeID
	if rid == "" {
		rid = "session"
	}

	return &Querier{hosts: hosts, apiKey: cfg.APIKey, rid: rid, client: client}, nil
}

// Hosts returns the configured core base URLs.
func (q *Querier) Hosts() []string {
	return append([]string(nil), q.hosts...)
}

// JWKSURLs returns one JWKS endpoint per core instance.
func (q *Querier) JWKSURLs() []string {
	out := make([]string, len(q.hosts))
	for i, h := range q.hosts {
		out[i] = h + "/.well-known/jwks.json"
	}
	return out
}

// TenantPath prefixes path with the tenant unless it is the default one.
func TenantPath(tenantID, path string) string {
	if tenantID == "" || tenantID == DefaultTenantID {
		return path
	}
	return "/" + url.PathEscape(tenantID) + path
}

// Get issues a GET with query params and decodes the response into out.
func (q *Querier) Get(ctx context.Context, path string, params url.Values, out any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return q.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (q *Querier) Post(ctx context.Context, path string, body, out any) error {
	return q.do(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT with a JSON body and decodes the response into out.
func (q *Querier) Put(ctx context.Context, path string, body, out any) error {
	return q.do(ctx, http.MethodPut, path, body, out)
}

// do sends the request to one host after another, starting at the next
// host in rotation, until one answers. Only transport failures move on to
// the next host; an HTTP error status is returned as a GeneralError.
func (q *Querier) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("querier: encode request: %w", err)
		}
		payload = b
	}

	log := slogx.FromContext(ctx)

	q.mu.Lock()
	start := q.nextHost
	q.nextHost = (q.nextHost + 1) % len(q.hosts)
	q.mu.Unlock()

	var lastErr error
	for i := range len(q.hosts) {
		host := q.hosts[(start+i)%len(q.hosts)]

		resp, err := q.send(ctx, method, host+path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug("querier: core unreachable", "host", host, "path", path, "error", err)
			lastErr = err
			continue
		}

		log.Debug("querier: core call", "method", method, "host", host, "path", path, "status", resp.StatusCode)
		return decodeJSON(resp, method, path, out)
	}
	return &GeneralError{Method: method, Path: path, Err: lastErr}
}

func (q *Querier) send(ctx context.Context, method, target string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("cdi-version", CDIVersion)
	req.Header.Set("rid", q.rid)
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// decodeJSON reads the body once, maps non-2xx to GeneralError and decodes
// the rest into target.
func decodeJSON(resp *http.Response, method, path string, target any) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("querier: failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &GeneralError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(bodyBytes)),
		}
	}

	if target == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("querier: failed to decode response from %s: %w", path, err)
	}
	return nil
}
