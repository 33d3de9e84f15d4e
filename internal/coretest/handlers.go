package coretest

import (
	"encoding/json"
	"maps"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

func (c *Core) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", c.handleJWKS)
	mux.HandleFunc("POST /recipe/handshake", c.handleHandshake)
	mux.HandleFunc("POST /recipe/session", c.handleCreate)
	mux.HandleFunc("POST /{tenant}/recipe/session", c.handleCreate)
	mux.HandleFunc("POST /recipe/session/verify", c.handleVerify)
	mux.HandleFunc("POST /recipe/session/refresh", c.handleRefresh)
	mux.HandleFunc("POST /recipe/session/regenerate", c.handleRegenerate)
	mux.HandleFunc("POST /recipe/session/remove", c.handleRemove)
	mux.HandleFunc("POST /{tenant}/recipe/session/remove", c.handleRemove)
	mux.HandleFunc("GET /recipe/session", c.handleGetSession)
	mux.HandleFunc("GET /recipe/session/user", c.handleUserSessions)
	mux.HandleFunc("GET /{tenant}/recipe/session/user", c.handleUserSessions)
	mux.HandleFunc("PUT /recipe/session/data", c.handleSessionData)
	mux.HandleFunc("PUT /recipe/jwt/data", c.handleJWTData)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.count(r)
		if c.opts.APIKey != "" && r.Header.Get("api-key") != c.opts.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	body["status"] = "OK"
	writeJSON(w, http.StatusOK, body)
}

func status(w http.ResponseWriter, s, msg string) {
	writeJSON(w, http.StatusOK, map[string]any{"status": s, "message": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return false
	}
	return true
}

func tenantOf(r *http.Request) string {
	if t := r.PathValue("tenant"); t != "" {
		return t
	}
	return "public"
}

func (c *Core) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	c.jwksHits.Add(1)
	if c.jwksDown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, c.Keys.KeySet.PublicJWKS())
}

func (c *Core) handleHandshake(w http.ResponseWriter, _ *http.Request) {
	if c.handshakeDown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "unavailable"})
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []map[string]any
	for _, k := range c.Keys.LegacyPublicKeys() {
		keys = append(keys, map[string]any{
			"publicKey":  k,
			"expiryTime": c.now().Add(24 * time.Hour).UnixMilli(),
			"createdAt":  c.now().UnixMilli(),
		})
	}
	ok(w, map[string]any{
		"jwtSigningPublicKeyList":        keys,
		"accessTokenBlacklistingEnabled": c.opts.AccessTokenBlacklisting,
		"accessTokenValidity":            c.opts.AccessTokenValidity.Milliseconds(),
		"refreshTokenValidity":           c.opts.RefreshTokenValidity.Milliseconds(),
	})
}

func (c *Core) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID               string         `json:"userId"`
		RecipeUserID         string         `json:"recipeUserId"`
		UserDataInJWT        map[string]any `json:"userDataInJWT"`
		UserDataInDatabase   map[string]any `json:"userDataInDatabase"`
		UseDynamicSigningKey bool           `json:"useDynamicSigningKey"`
		EnableAntiCSRF       bool           `json:"enableAntiCsrf"`
	}
	if !decode(w, r, &in) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	rec := &record{
		handle:        uuid.NewString(),
		userID:        in.UserID,
		recipeUserID:  in.RecipeUserID,
		tenantID:      tenantOf(r),
		userDataInJWT: in.UserDataInJWT,
		userDataInDB:  in.UserDataInDatabase,
		timeCreated:   now.UnixMilli(),
		expiry:        now.Add(c.opts.RefreshTokenValidity).UnixMilli(),
		useStatic:     !in.UseDynamicSigningKey,
	}
	if rec.userDataInJWT == nil {
		rec.userDataInJWT = map[string]any{}
	}
	if rec.userDataInDB == nil {
		rec.userDataInDB = map[string]any{}
	}
	if in.EnableAntiCSRF {
		rec.antiCSRFToken = cryptox.MustGenerateToken(cryptox.TokenSize256)
	}
	c.sessions[rec.handle] = rec

	refresh := c.newRefreshToken(rec, "")
	access := c.mint(rec, "", now.Add(c.opts.AccessTokenValidity))
	body := map[string]any{
		"session":      c.sessionBody(rec),
		"accessToken":  access,
		"refreshToken": refresh,
	}
	if rec.antiCSRFToken != "" {
		body["antiCsrfToken"] = rec.antiCSRFToken
	}
	ok(w, body)
}

func (c *Core) handleVerify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AccessToken     string `json:"accessToken"`
		AntiCSRFToken   string `json:"antiCsrfToken"`
		DoAntiCSRFCheck bool   `json:"doAntiCsrfCheck"`
		EnableAntiCSRF  bool   `json:"enableAntiCsrf"`
		CheckDatabase   bool   `json:"checkDatabase"`
	}
	if !decode(w, r, &in) {
		return
	}

	t, err := jwtx.Parse(in.AccessToken)
	if err != nil || !c.verify(t) {
		status(w, "TRY_REFRESH_TOKEN", "invalid access token")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !t.ExpiryTime().After(c.now()) {
		status(w, "TRY_REFRESH_TOKEN", "access token expired")
		return
	}
	handle := t.Payload.OptionalString(jwtx.ClaimSessionHandle)
	rec, found := c.sessions[handle]
	if !found {
		status(w, "UNAUTHORISED", "Either the session has ended or has been blacklisted")
		return
	}
	if in.DoAntiCSRFCheck && in.EnableAntiCSRF && rec.antiCSRFToken != "" && in.AntiCSRFToken != rec.antiCSRFToken {
		status(w, "TRY_REFRESH_TOKEN", "anti-csrf check failed")
		return
	}

	body := map[string]any{"session": c.sessionBody(rec)}
	parent := t.Payload.OptionalString(jwtx.ClaimParentRefreshTokenHash1)
	if parent != "" {
		// The client holds the child token now.
		c.retire(parent)
		body["accessToken"] = c.mint(rec, "", t.ExpiryTime())
	}
	ok(w, body)
}

func (c *Core) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken         string `json:"refreshToken"`
		AntiCSRFToken        string `json:"antiCsrfToken"`
		EnableAntiCSRF       bool   `json:"enableAntiCsrf"`
		UseDynamicSigningKey bool   `json:"useDynamicSigningKey"`
	}
	if !decode(w, r, &in) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := cryptox.FingerprintToken(in.RefreshToken)
	entry, found := c.refreshes[hash]
	if !found {
		status(w, "UNAUTHORISED", "Refresh token not found")
		return
	}
	rec, live := c.sessions[entry.handle]
	if !live {
		status(w, "UNAUTHORISED", "Session has been revoked")
		return
	}
	if entry.dead {
		delete(c.sessions, rec.handle)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "TOKEN_THEFT_DETECTED",
			"session": c.sessionBody(rec),
		})
		return
	}
	if in.EnableAntiCSRF && rec.antiCSRFToken != "" && in.AntiCSRFToken != rec.antiCSRFToken {
		status(w, "UNAUTHORISED", "anti-csrf check failed")
		return
	}

	// Using a child token retires its parent. A token whose child was
	// never used may be refreshed again.
	if entry.parent != "" {
		c.retire(entry.parent)
	}
	rec.legacy = false
	rec.useStatic = !in.UseDynamicSigningKey
	now := c.now()
	refresh := c.newRefreshToken(rec, hash)
	access := c.mint(rec, hash, now.Add(c.opts.AccessTokenValidity))
	body := map[string]any{
		"session":      c.sessionBody(rec),
		"accessToken":  access,
		"refreshToken": refresh,
	}
	if rec.antiCSRFToken != "" {
		body["antiCsrfToken"] = rec.antiCSRFToken
	}
	ok(w, body)
}

func (c *Core) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AccessToken   string         `json:"accessToken"`
		UserDataInJWT map[string]any `json:"userDataInJWT"`
	}
	if !decode(w, r, &in) {
		return
	}

	t, err := jwtx.Parse(in.AccessToken)
	if err != nil || !c.verify(t) {
		status(w, "UNAUTHORISED", "invalid access token")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, found := c.sessions[t.Payload.OptionalString(jwtx.ClaimSessionHandle)]
	if !found {
		status(w, "UNAUTHORISED", "Session does not exist")
		return
	}
	rec.userDataInJWT = in.UserDataInJWT
	if rec.userDataInJWT == nil {
		rec.userDataInJWT = map[string]any{}
	}

	body := map[string]any{"session": c.sessionBody(rec)}
	if t.ExpiryTime().After(c.now()) {
		body["accessToken"] = c.mint(rec, t.Payload.OptionalString(jwtx.ClaimParentRefreshTokenHash1), t.ExpiryTime())
	}
	ok(w, body)
}

func (c *Core) handleRemove(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SessionHandles                  []string `json:"sessionHandles"`
		UserID                          string   `json:"userId"`
		RevokeSessionsForLinkedAccounts bool     `json:"revokeSessionsForLinkedAccounts"`
		RevokeAcrossAllTenants          bool     `json:"revokeAcrossAllTenants"`
	}
	if !decode(w, r, &in) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	handles := in.SessionHandles
	if in.UserID != "" {
		handles = c.handlesFor(in.UserID, tenantOf(r), in.RevokeAcrossAllTenants)
	}
	revoked := []string{}
	for _, h := range handles {
		if _, found := c.sessions[h]; found {
			delete(c.sessions, h)
			revoked = append(revoked, h)
		}
	}
	ok(w, map[string]any{"sessionHandlesRevoked": revoked})
}

func (c *Core) handleGetSession(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, found := c.sessions[r.URL.Query().Get("sessionHandle")]
	if !found {
		status(w, "UNAUTHORISED", "Session does not exist")
		return
	}
	ok(w, map[string]any{
		"sessionHandle":      rec.handle,
		"userId":             rec.userID,
		"recipeUserId":       rec.recipeUserID,
		"tenantId":           rec.tenantID,
		"userDataInDatabase": maps.Clone(rec.userDataInDB),
		"userDataInJWT":      maps.Clone(rec.userDataInJWT),
		"expiry":             rec.expiry,
		"timeCreated":        rec.timeCreated,
	})
}

func (c *Core) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	all, _ := strconv.ParseBool(q.Get("fetchAcrossAllTenants"))

	c.mu.Lock()
	defer c.mu.Unlock()

	handles := c.handlesFor(q.Get("userId"), tenantOf(r), all)
	if handles == nil {
		handles = []string{}
	}
	ok(w, map[string]any{"sessionHandles": handles})
}

func (c *Core) handleSessionData(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SessionHandle      string         `json:"sessionHandle"`
		UserDataInDatabase map[string]any `json:"userDataInDatabase"`
	}
	if !decode(w, r, &in) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, found := c.sessions[in.SessionHandle]
	if !found {
		status(w, "UNAUTHORISED", "Session does not exist")
		return
	}
	rec.userDataInDB = in.UserDataInDatabase
	ok(w, nil)
}

func (c *Core) handleJWTData(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SessionHandle string         `json:"sessionHandle"`
		UserDataInJWT map[string]any `json:"userDataInJWT"`
	}
	if !decode(w, r, &in) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, found := c.sessions[in.SessionHandle]
	if !found {
		status(w, "UNAUTHORISED", "Session does not exist")
		return
	}
	rec.userDataInJWT = in.UserDataInJWT
	ok(w, nil)
}
