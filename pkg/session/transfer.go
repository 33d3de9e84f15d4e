package session

import (
	"net/http"
	"strings"
	"time"
)

// Wire names shared with existing clients.
const (
	accessTokenCookieKey          = "sAccessToken"
	refreshTokenCookieKey         = "sRefreshToken"
	legacyIDRefreshTokenCookieKey = "sIdRefreshToken"

	accessTokenHeaderKey  = "st-access-token"
	refreshTokenHeaderKey = "st-refresh-token"
	frontTokenHeaderKey   = "front-token"
	antiCSRFHeaderKey     = "anti-csrf"
	authModeHeaderKey     = "st-auth-mode"
	ridHeaderKey          = "rid"
	authorizationHeader   = "Authorization"
	exposeHeadersKey      = "Access-Control-Expose-Headers"
)

// accessCookieLifetime keeps the access cookie around for as long as the
// session lives; the token's own exp is what counts.
const accessCookieLifetime = 100 * 365 * 24 * time.Hour

type tokenType int

const (
	accessToken tokenType = iota
	refreshToken
)

func (t tokenType) cookieName() string {
	if t == accessToken {
		return accessTokenCookieKey
	}
	return refreshTokenCookieKey
}

func (t tokenType) headerName() string {
	if t == accessToken {
		return accessTokenHeaderKey
	}
	return refreshTokenHeaderKey
}

// getToken reads one token from the request. Header transport sends both
// tokens as "Authorization: Bearer", one per endpoint.
func getToken(req Request, tt tokenType, m TokenTransferMethod) string {
	if m == TransferCookie {
		return req.Cookie(tt.cookieName())
	}
	auth := req.Header(authorizationHeader)
	scheme, value, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

func (c *normalisedConfig) cookiePath(tt tokenType) string {
	if tt == accessToken {
		return "/"
	}
	return c.refreshPath
}

func (c *normalisedConfig) setCookie(res Response, name, value, path string, expires time.Time) {
	res.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.CookieDomain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.cookieSecure,
		SameSite: c.sameSite,
	})
}

// setToken writes one token. An empty value with a zero expiry clears it.
func (c *normalisedConfig) setToken(res Response, tt tokenType, value string, expires time.Time, m TokenTransferMethod) {
	if m == TransferCookie {
		c.setCookie(res, tt.cookieName(), value, c.cookiePath(tt), expires)
		return
	}
	res.SetHeader(tt.headerName(), value, false)
	res.SetHeader(exposeHeadersKey, tt.headerName(), true)
}

func setFrontTokenHeader(res Response, frontToken string) {
	res.SetHeader(frontTokenHeaderKey, frontToken, false)
	res.SetHeader(exposeHeadersKey, frontTokenHeaderKey, true)
}

func setAntiCSRFHeader(res Response, token string) {
	res.SetHeader(antiCSRFHeaderKey, token, false)
	res.SetHeader(exposeHeadersKey, antiCSRFHeaderKey, true)
}

// setAccessToken writes the access token and its front token.
func (c *normalisedConfig) setAccessToken(res Response, token, frontToken string, m TokenTransferMethod, now time.Time) {
	setFrontTokenHeader(res, frontToken)
	c.setToken(res, accessToken, token, now.Add(accessCookieLifetime), m)
	if c.ExposeAccessTokenToFrontendInCookieBasedAuth && m == TransferCookie {
		c.setToken(res, accessToken, token, now.Add(accessCookieLifetime), TransferHeader)
	}
}

// clearSession wipes every session token for one transfer method.
func (c *normalisedConfig) clearSession(res Response, m TokenTransferMethod) {
	epoch := time.Unix(0, 0)
	c.setToken(res, accessToken, "", epoch, m)
	c.setToken(res, refreshToken, "", epoch, m)
	res.RemoveHeader(antiCSRFHeaderKey)
	setFrontTokenHeader(res, "remove")
}

func (c *normalisedConfig) clearSessionFromAllTransferMethods(res Response) {
	for _, m := range transferMethods {
		c.clearSession(res, m)
	}
}

func (c *normalisedConfig) clearLegacyIDRefreshToken(res Response) {
	c.setCookie(res, legacyIDRefreshTokenCookieKey, "", c.refreshPath, time.Unix(0, 0))
}

// authModeFromHeader reads the transport a client asked for at sign in.
func authModeFromHeader(req Request) TokenTransferMethod {
	return TokenTransferMethod(strings.ToLower(req.Header(authModeHeaderKey)))
}
