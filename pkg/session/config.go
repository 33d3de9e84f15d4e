package session

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/publicsuffix"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
	"github.com/aussiebroadwan/sessionkit/pkg/session/claims"
)

// TokenTransferMethod is how tokens travel between client and API.
type TokenTransferMethod string

const (
	TransferCookie TokenTransferMethod = "cookie"
	TransferHeader TokenTransferMethod = "header"
	TransferAny    TokenTransferMethod = "any"
)

// transferMethods lists the concrete methods in preference order.
var transferMethods = []TokenTransferMethod{TransferHeader, TransferCookie}

// AntiCSRFMode selects the CSRF defence for cookie-based requests.
type AntiCSRFMode string

const (
	AntiCSRFViaToken        AntiCSRFMode = "VIA_TOKEN"
	AntiCSRFViaCustomHeader AntiCSRFMode = "VIA_CUSTOM_HEADER"
	AntiCSRFNone            AntiCSRFMode = "NONE"
)

// AppInfo describes where the API and the website are served.
type AppInfo struct {
	AppName       string
	APIDomain     string // e.g. "https://api.example.com"
	WebsiteDomain string // e.g. "https://example.com"
	APIBasePath   string // defaults to "/auth"
}

// Override decorates the default implementations.
type Override struct {
	Functions func(original RecipeInterface) RecipeInterface
	APIs      func(original APIInterface) APIInterface
}

// Config configures a Recipe. Zero values pick the documented defaults.
type Config struct {
	AppInfo AppInfo

	// CoreHosts are authority base URLs; calls fail over between them.
	CoreHosts  []string
	CoreAPIKey string
	HTTPClient *http.Client

	CookieDomain string
	// CookieSecure defaults to true when APIDomain is https.
	CookieSecure *bool
	// CookieSameSite is "lax", "strict" or "none". Defaults to "none" when
	// API and website are on different sites, else "lax".
	CookieSameSite string

	// AntiCSRF defaults to VIA_CUSTOM_HEADER when CookieSameSite is "none",
	// else NONE.
	AntiCSRF AntiCSRFMode

	// GetTokenTransferMethod picks the allowed transfer method per request.
	// Defaults to TransferAny.
	GetTokenTransferMethod func(req Request, forCreateNewSession bool) TokenTransferMethod

	SessionExpiredStatusCode int // defaults to 401
	InvalidClaimStatusCode   int // defaults to 403

	ExposeAccessTokenToFrontendInCookieBasedAuth bool

	// CheckDatabase makes every GetSession confirm with the authority that
	// the session has not been revoked.
	CheckDatabase bool

	// UseStaticSigningKey asks the authority to sign with its static key
	// instead of the rotating dynamic ones.
	UseStaticSigningKey bool

	// JWKSCooldown and JWKSMaxAge tune the signing-key cache.
	JWKSCooldown time.Duration
	JWKSMaxAge   time.Duration

	Override Override

	// GetGlobalClaimValidators returns the validators every session check
	// runs. It receives the validators registered on the recipe.
	GetGlobalClaimValidators func(ctx context.Context, tenantID, userID string, defaults []claims.Validator) ([]claims.Validator, error)

	Logger            *slog.Logger
	MetricsRegisterer prometheus.Registerer

	// TestMode enables Recipe.ResetForTesting.
	TestMode bool
}

type normalisedConfig struct {
	Config

	apiDomain        *url.URL
	apiBasePath      string
	refreshPath      string
	signOutPath      string
	issuer           string
	cookieSecure     bool
	sameSite         http.SameSite
	sameSiteName     string
	useDynamicSigner bool
}

func (c Config) normalise() (*normalisedConfig, error) {
	n := &normalisedConfig{Config: c}

	if c.AppInfo.APIDomain == "" {
		return nil, invalidConfig("AppInfo.APIDomain is required")
	}
	api, err := parseDomain(c.AppInfo.APIDomain)
	if err != nil {
		return nil, invalidConfig("AppInfo.APIDomain: %v", err)
	}
	n.apiDomain = api

	website := api
	if c.AppInfo.WebsiteDomain != "" {
		website, err = parseDomain(c.AppInfo.WebsiteDomain)
		if err != nil {
			return nil, invalidConfig("AppInfo.WebsiteDomain: %v", err)
		}
	}

	n.apiBasePath = normalisePath(c.AppInfo.APIBasePath, "/auth")
	n.refreshPath = n.apiBasePath + "/session/refresh"
	n.signOutPath = n.apiBasePath + "/signout"
	n.issuer = api.Scheme + "://" + api.Host + n.apiBasePath

	if len(c.CoreHosts) == 0 {
		return nil, invalidConfig("at least one core host is required")
	}

	if c.CookieSecure != nil {
		n.cookieSecure = *c.CookieSecure
	} else {
		n.cookieSecure = api.Scheme == "https"
	}

	crossSite := siteOf(api) != siteOf(website) || api.Scheme != website.Scheme
	switch strings.ToLower(c.CookieSameSite) {
	case "":
		if crossSite {
			n.sameSiteName, n.sameSite = "none", http.SameSiteNoneMode
		} else {
			n.sameSiteName, n.sameSite = "lax", http.SameSiteLaxMode
		}
	case "lax":
		n.sameSiteName, n.sameSite = "lax", http.SameSiteLaxMode
	case "strict":
		n.sameSiteName, n.sameSite = "strict", http.SameSiteStrictMode
	case "none":
		n.sameSiteName, n.sameSite = "none", http.SameSiteNoneMode
	default:
		return nil, invalidConfig("cookie same site must be one of lax, strict or none, got %q", c.CookieSameSite)
	}

	if n.sameSiteName == "none" && !n.cookieSecure && !(isLocal(api) && isLocal(website)) {
		return nil, invalidConfig("since your API and website domain are different, for sessions to work, please use https on your apiDomain and do not set CookieSecure to false")
	}

	switch c.AntiCSRF {
	case "":
		if n.sameSiteName == "none" {
			n.AntiCSRF = AntiCSRFViaCustomHeader
		} else {
			n.AntiCSRF = AntiCSRFNone
		}
	case AntiCSRFViaToken, AntiCSRFViaCustomHeader, AntiCSRFNone:
	default:
		return nil, invalidConfig("anti-CSRF mode must be one of VIA_TOKEN, VIA_CUSTOM_HEADER or NONE, got %q", c.AntiCSRF)
	}

	if n.GetTokenTransferMethod == nil {
		n.GetTokenTransferMethod = func(Request, bool) TokenTransferMethod { return TransferAny }
	}
	if n.SessionExpiredStatusCode == 0 {
		n.SessionExpiredStatusCode = http.StatusUnauthorized
	}
	if n.InvalidClaimStatusCode == 0 {
		n.InvalidClaimStatusCode = http.StatusForbidden
	}
	if n.SessionExpiredStatusCode == n.InvalidClaimStatusCode {
		return nil, invalidConfig("SessionExpiredStatusCode and InvalidClaimStatusCode cannot be the same (%d)", n.SessionExpiredStatusCode)
	}
	if n.JWKSCooldown <= 0 {
		n.JWKSCooldown = jwtx.DefaultJWKSCooldown
	}
	if n.JWKSMaxAge <= 0 {
		n.JWKSMaxAge = jwtx.DefaultJWKSMaxAge
	}
	if n.Logger == nil {
		n.Logger = slog.Default()
	}
	n.useDynamicSigner = !c.UseStaticSigningKey

	return n, nil
}

func parseDomain(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, invalidConfig("missing host in %q", raw)
	}
	return u, nil
}

func normalisePath(p, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = def
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	return p
}

func isLocal(u *url.URL) bool {
	host := u.Hostname()
	return host == "localhost" || net.ParseIP(host) != nil
}

// siteOf returns the registrable domain used for same-site decisions.
func siteOf(u *url.URL) string {
	host := u.Hostname()
	if isLocal(u) {
		return host
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}
