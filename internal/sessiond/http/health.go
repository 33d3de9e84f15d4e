package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
)

// HealthResponse is the body of /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the dependencies /readyz probes.
type HealthChecks struct {
	SigningKeys string `json:"signing_keys"`
}

// ReadinessChecker reports whether the session authority is usable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// LivezHandler always answers 200 while the process is up.
//
//	@Summary		Liveness check
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse	"Process is running"
//	@Router			/livez [get]
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler answers 503 while the authority's signing keys cannot be
// loaded.
//
//	@Summary		Readiness check
//	@Description	Reports whether the session authority's signing keys can be loaded.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse	"Ready"
//	@Failure		503	{object}	HealthResponse	"Signing keys unavailable"
//	@Router			/readyz [get]
func ReadyzHandler(startTime time.Time, version string, rc ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{SigningKeys: "ok"}
		overallStatus := "ok"
		statusCode := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rc.Ready(ctx); err != nil {
			checks.SigningKeys = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
