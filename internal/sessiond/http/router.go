package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"

	_ "github.com/aussiebroadwan/sessionkit/api/sessiond" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	recipe       *session.Recipe
	gatherer     prometheus.Gatherer
	issueToken   string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
}

func NewRouter(
	recipe *session.Recipe,
	gatherer prometheus.Gatherer,
	issueToken, buildVersion string,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		recipe:       recipe,
		gatherer:     gatherer,
		issueToken:   issueToken,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSession()
	r.registerSessions()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Session Daemon API
//	@version		0.1.0
//	@description	Issues, verifies, refreshes and revokes sessions against the session authority.
//	@description
//	@description				Access tokens are RS256 JWTs checked against the authority's JWKS.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/sessionkit
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Access token. Format: "Bearer {token}".
//
//	@securityDefinitions.apikey	IssueToken
//	@in							header
//	@name						X-Issue-Token
//	@description				Shared secret for trusted backends issuing sessions.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSession() {
	// Refresh is limited per credential so one replaying client cannot
	// starve others behind the same address.
	r.Mux.Handle("POST "+r.recipe.RefreshPath(),
		httpx.Chain(r.recipe.Handler(),
			httpx.RateLimitByCredential(httpx.RefreshLimit, "sRefreshToken"),
		),
	)
	r.Mux.Handle("POST "+r.recipe.SignOutPath(),
		httpx.Chain(r.recipe.Handler(),
			httpx.RateLimitByIP(httpx.SignOutLimit),
		),
	)
}

func (r *Router) registerSessions() {
	h := &SessionsHandler{Recipe: r.recipe}

	r.Mux.Handle("GET /v1/session",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			r.recipe.VerifySession(session.VerifySessionOptions{}),
		),
	)

	// Issuing is only exposed to trusted backends holding the issue token.
	if r.issueToken == "" {
		return
	}
	r.Mux.Handle("POST /v1/sessions",
		httpx.Chain(http.HandlerFunc(h.HandleCreate),
			httpx.RateLimitByIP(httpx.SignOutLimit),
			RequireIssueToken(r.issueToken),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.recipe))
	r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
}
