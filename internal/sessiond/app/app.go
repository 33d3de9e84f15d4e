package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/aussiebroadwan/sessionkit/internal/sessiond/http"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application is the session daemon with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	registry *prometheus.Registry
	recipe   *session.Recipe

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "sessiond",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := app.initRecipe(); err != nil {
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler returns the root handler, for tests and embedding.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.logger.Info("session daemon starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down session daemon...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
			return err
		}
	}

	app.logger.Info("session daemon stopped")
	return nil
}

func (app *Application) initRecipe() error {
	recipe, err := session.New(session.Config{
		AppInfo: session.AppInfo{
			AppName:       app.cfg.AppName,
			APIDomain:     app.cfg.APIDomain,
			WebsiteDomain: app.cfg.WebsiteDomain,
			APIBasePath:   app.cfg.APIBasePath,
		},
		CoreHosts:           app.cfg.CoreHostList(),
		CoreAPIKey:          app.cfg.CoreAPIKey,
		HTTPClient:          &http.Client{Timeout: 10 * time.Second},
		CookieDomain:        app.cfg.CookieDomain,
		CookieSameSite:      app.cfg.CookieSameSite,
		AntiCSRF:            session.AntiCSRFMode(app.cfg.AntiCSRF),
		CheckDatabase:       app.cfg.CheckDatabase,
		UseStaticSigningKey: app.cfg.UseStaticSigningKey,
		JWKSCooldown:        app.cfg.JWKSCooldown,
		JWKSMaxAge:          app.cfg.JWKSMaxAge,
		Logger:              app.logger,
		MetricsRegisterer:   app.registry,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session recipe: %w", err)
	}
	app.recipe = recipe
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.recipe,
		app.registry,
		app.cfg.IssueToken,
		BuildVersion,
		app.logger,
	)
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
