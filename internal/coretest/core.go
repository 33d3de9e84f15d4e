// Package coretest runs an in-process session authority for tests. It
// signs real RS256 tokens, publishes its keys as JWKS, rotates refresh
// tokens and detects their reuse.
package coretest

import (
	"context"
	"crypto/rsa"
	"maps"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

// Options configures a Core.
type Options struct {
	// AccessTokenValidity defaults to one hour. A negative value issues
	// tokens that are already expired.
	AccessTokenValidity  time.Duration
	RefreshTokenValidity time.Duration

	AccessTokenBlacklisting bool

	// APIKey, when set, is required on every call.
	APIKey string
}

// Core is the authority double.
type Core struct {
	Server *httptest.Server
	Keys   *jwtx.KeyManager

	mu        sync.Mutex
	opts      Options
	now       func() time.Time
	sessions  map[string]*record
	refreshes map[string]*refreshEntry
	calls     map[string]int

	jwksHits      atomic.Int64
	jwksDown      atomic.Bool
	handshakeDown atomic.Bool
}

type record struct {
	handle        string
	userID        string
	recipeUserID  string
	tenantID      string
	userDataInJWT map[string]any
	userDataInDB  map[string]any
	timeCreated   int64
	expiry        int64
	antiCSRFToken string
	useStatic     bool
	legacy        bool
	refreshHash   string
}

// refreshEntry tracks one issued refresh token. A token is dead once its
// child has been used, and presenting a dead token is theft.
type refreshEntry struct {
	handle string
	parent string
	dead   bool
}

// New starts a Core that is closed with the test.
func New(t testing.TB, opts Options) *Core {
	t.Helper()
	if opts.AccessTokenValidity == 0 {
		opts.AccessTokenValidity = time.Hour
	}
	if opts.RefreshTokenValidity == 0 {
		opts.RefreshTokenValidity = 100 * 24 * time.Hour
	}

	keys, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{})
	if err != nil {
		t.Fatalf("coretest: key manager: %v", err)
	}

	c := &Core{
		Keys:      keys,
		opts:      opts,
		now:       time.Now,
		sessions:  map[string]*record{},
		refreshes: map[string]*refreshEntry{},
		calls:     map[string]int{},
	}
	c.Server = httptest.NewServer(c.routes())
	t.Cleanup(c.Server.Close)
	return c
}

// URL is the base URL to configure as a core host.
func (c *Core) URL() string { return c.Server.URL }

// SetAccessTokenValidity changes the lifetime of tokens issued from now on.
func (c *Core) SetAccessTokenValidity(d time.Duration) {
	c.mu.Lock()
	c.opts.AccessTokenValidity = d
	c.mu.Unlock()
}

// SetClock overrides the authority's time source.
func (c *Core) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// SetJWKSDown makes the JWKS endpoint answer 503.
func (c *Core) SetJWKSDown(down bool) { c.jwksDown.Store(down) }

// SetHandshakeDown makes the handshake endpoint answer 503.
func (c *Core) SetHandshakeDown(down bool) { c.handshakeDown.Store(down) }

// JWKSHits counts JWKS requests, failed ones included.
func (c *Core) JWKSHits() int { return int(c.jwksHits.Load()) }

// Calls counts requests to path, ignoring the tenant prefix and method.
func (c *Core) Calls(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[path]
}

// SessionExists reports whether the authority still holds handle.
func (c *Core) SessionExists(handle string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[handle]
	return ok
}

// SessionData returns a copy of a session's database data.
func (c *Core) SessionData(handle string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.sessions[handle]; ok {
		return maps.Clone(rec.userDataInDB)
	}
	return nil
}

// IssueLegacySession creates a session whose access token uses the v2
// layout, the way deployments predating key ids issued them.
func (c *Core) IssueLegacySession(userID string, userData map[string]any) (accessToken, refreshToken, handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	rec := &record{
		handle:        uuid.NewString(),
		userID:        userID,
		recipeUserID:  userID,
		tenantID:      "public",
		userDataInJWT: maps.Clone(userData),
		userDataInDB:  map[string]any{},
		timeCreated:   now.UnixMilli(),
		expiry:        now.Add(c.opts.RefreshTokenValidity).UnixMilli(),
		legacy:        true,
	}
	if rec.userDataInJWT == nil {
		rec.userDataInJWT = map[string]any{}
	}
	c.sessions[rec.handle] = rec

	refresh := c.newRefreshToken(rec, "")
	access := c.mint(rec, "", now.Add(c.opts.AccessTokenValidity))
	return access.Token, refresh.Token, rec.handle
}

// LegacyPublicKey is the key v2 tokens are signed with.
func (c *Core) LegacyPublicKey() *rsa.PublicKey {
	pub, _ := jwtx.ParseLegacyPublicKey(c.Keys.LegacyPublicKeys()[0])
	return pub
}

type tokenInfo struct {
	Token       string `json:"token"`
	Expiry      int64  `json:"expiry"`
	CreatedTime int64  `json:"createdTime"`
}

// newRefreshToken rotates rec onto a fresh refresh token whose parent is
// the fingerprint of the token it replaces. Callers hold mu.
func (c *Core) newRefreshToken(rec *record, parent string) tokenInfo {
	token := cryptox.MustGenerateToken(cryptox.TokenSize256)
	rec.refreshHash = cryptox.FingerprintToken(token)
	c.refreshes[rec.refreshHash] = &refreshEntry{handle: rec.handle, parent: parent}
	return tokenInfo{Token: token, Expiry: rec.expiry, CreatedTime: c.now().UnixMilli()}
}

// mint signs an access token for rec. Callers hold mu.
func (c *Core) mint(rec *record, parentHash string, expiry time.Time) tokenInfo {
	now := c.now()
	var token string
	var err error

	if rec.legacy {
		p := jwtx.Payload{
			"sessionHandle":     rec.handle,
			"userId":            rec.userID,
			"refreshTokenHash1": rec.refreshHash,
			"userData":          maps.Clone(rec.userDataInJWT),
			"expiryTime":        expiry.UnixMilli(),
			"timeCreated":       now.UnixMilli(),
		}
		if parentHash != "" {
			p["parentRefreshTokenHash1"] = parentHash
		}
		if rec.antiCSRFToken != "" {
			p["antiCsrfToken"] = rec.antiCSRFToken
		}
		token, err = c.Keys.GetSigner(true).SignLegacy(p)
	} else {
		p := jwtx.Payload(maps.Clone(rec.userDataInJWT))
		if p == nil {
			p = jwtx.Payload{}
		}
		p[jwtx.ClaimSub] = rec.userID
		p[jwtx.ClaimRecipeUserID] = rec.recipeUserID
		p[jwtx.ClaimTenantID] = rec.tenantID
		p[jwtx.ClaimExp] = expiry.Unix()
		p[jwtx.ClaimIat] = now.Unix()
		p[jwtx.ClaimSessionHandle] = rec.handle
		p[jwtx.ClaimRefreshTokenHash1] = rec.refreshHash
		if parentHash != "" {
			p[jwtx.ClaimParentRefreshTokenHash1] = parentHash
		}
		if rec.antiCSRFToken != "" {
			p[jwtx.ClaimAntiCSRFToken] = rec.antiCSRFToken
		}
		token, err = c.Keys.GetSigner(rec.useStatic).Sign(p, jwtx.V5)
	}
	if err != nil {
		panic("coretest: sign access token: " + err.Error())
	}
	return tokenInfo{Token: token, Expiry: expiry.UnixMilli(), CreatedTime: now.UnixMilli()}
}

func (c *Core) sessionBody(rec *record) map[string]any {
	return map[string]any{
		"handle":        rec.handle,
		"userId":        rec.userID,
		"recipeUserId":  rec.recipeUserID,
		"userDataInJWT": maps.Clone(rec.userDataInJWT),
		"tenantId":      rec.tenantID,
	}
}

func (c *Core) handlesFor(userID, tenantID string, allTenants bool) []string {
	var out []string
	for h, rec := range c.sessions {
		if rec.userID != userID && rec.recipeUserID != userID {
			continue
		}
		if !allTenants && rec.tenantID != tenantID {
			continue
		}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// keyLookup adapts the key ring to jwtx.Verify.
type keyLookup struct{ keys *jwtx.KeySet }

func (k keyLookup) Get(_ context.Context, kid string) (*rsa.PublicKey, error) {
	return k.keys.Get(kid)
}

// verify checks a token the authority issued.
func (c *Core) verify(t *jwtx.ParsedToken) bool {
	if t.Version < jwtx.V3 {
		return jwtx.VerifyLegacy(t, []*rsa.PublicKey{c.LegacyPublicKey()}) == nil
	}
	return jwtx.Verify(context.Background(), t, keyLookup{c.Keys.KeySet}) == nil
}

// retire kills the refresh token with fingerprint hash. Callers hold mu.
func (c *Core) retire(hash string) {
	if e, ok := c.refreshes[hash]; ok {
		e.dead = true
	}
}

func (c *Core) count(r *http.Request) {
	path := r.URL.Path
	if i := strings.Index(path, "/recipe/"); i > 0 {
		path = path[i:]
	}
	c.mu.Lock()
	c.calls[path]++
	c.mu.Unlock()
}
