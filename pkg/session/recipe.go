// Package session issues, verifies, refreshes and revokes user sessions
// backed by a remote session authority ("core").
//
// A Recipe is built once at startup with New and shared by every request.
// Access tokens are verified locally against the authority's published
// signing keys; the authority is only called when local verification is
// not enough.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
	"github.com/aussiebroadwan/sessionkit/pkg/querier"
	"github.com/aussiebroadwan/sessionkit/pkg/session/claims"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// Recipe is the session engine.
type Recipe struct {
	cfg     *normalisedConfig
	core    *querier.Querier
	keys    *jwtx.RemoteKeySet
	hs      *handshakeCache
	metrics *metrics
	now     func() time.Time

	mu         sync.RWMutex
	claims     []claims.Claim
	validators []claims.Validator

	// Functions and APIs are the implementations in use, after overrides.
	Functions RecipeInterface
	APIs      APIInterface
}

// New validates cfg and builds a Recipe.
func New(cfg Config) (*Recipe, error) {
	n, err := cfg.normalise()
	if err != nil {
		return nil, err
	}

	core, err := querier.New(querier.Config{
		Hosts:      n.CoreHosts,
		APIKey:     n.CoreAPIKey,
		HTTPClient: n.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	m, err := newMetrics(n.MetricsRegisterer)
	if err != nil {
		return nil, fmt.Errorf("session: register metrics: %w", err)
	}

	r := &Recipe{cfg: n, core: core, metrics: m, now: time.Now}
	r.keys = jwtx.NewRemoteKeySet(jwtx.RemoteKeySetOptions{
		URLs:       core.JWKSURLs(),
		HTTPClient: n.HTTPClient,
		Cooldown:   n.JWKSCooldown,
		MaxAge:     n.JWKSMaxAge,
		OnFetch: func(url string, err error) {
			m.jwksFetched(url, err)
			if err != nil {
				n.Logger.Warn("session: JWKS fetch failed", "url", url, "error", err)
			}
		},
	})
	r.hs = &handshakeCache{fetch: r.fetchHandshake}

	r.Functions = r.defaultFunctions()
	if n.Override.Functions != nil {
		r.Functions = n.Override.Functions(r.Functions)
	}
	r.APIs = r.defaultAPIs()
	if n.Override.APIs != nil {
		r.APIs = n.Override.APIs(r.APIs)
	}

	n.Logger.Info("session: recipe ready",
		"api_domain", n.AppInfo.APIDomain,
		"base_path", n.apiBasePath,
		"anti_csrf", n.AntiCSRF,
		"same_site", n.sameSiteName,
		"core_hosts", len(core.Hosts()),
	)
	return r, nil
}

// AddClaim registers a claim whose value is built into every new session.
func (r *Recipe) AddClaim(c claims.Claim) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims = append(r.claims, c)
}

// AddClaimValidator registers a validator every session check runs.
func (r *Recipe) AddClaimValidator(v claims.Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators = append(r.validators, v)
}

func (r *Recipe) registeredClaims() []claims.Claim {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.claims)
}

func (r *Recipe) registeredValidators() []claims.Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.validators)
}

var errNotTestMode = errors.New("session: ResetForTesting requires Config.TestMode")

// ResetForTesting drops cached keys, the handshake and every registered
// claim and validator.
func (r *Recipe) ResetForTesting() error {
	if !r.cfg.TestMode {
		return errNotTestMode
	}
	r.keys.Invalidate()
	r.hs.invalidate()
	r.mu.Lock()
	r.claims, r.validators = nil, nil
	r.mu.Unlock()
	return nil
}

// Ready reports whether the authority's signing keys can be loaded. The
// cached set answers without a fetch while it is fresh.
func (r *Recipe) Ready(ctx context.Context) error {
	_, err := r.keys.StaticKeys(ctx)
	return err
}

// Config returns the normalised configuration.
func (r *Recipe) Config() Config { return r.cfg.Config }

func (r *Recipe) logger(ctx context.Context) *slog.Logger {
	if l, ok := slogx.LoggerFromContext(ctx); ok {
		return l
	}
	return r.cfg.Logger
}
