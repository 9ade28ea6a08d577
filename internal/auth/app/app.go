// Package app wires the auth service together: config, logging, the key
// store and its directory watch, the Redis registry, the token service, and
// the HTTP server lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dss-platform/auth/internal/auth/directory"
	httpapi "github.com/dss-platform/auth/internal/auth/http"
	"github.com/dss-platform/auth/internal/auth/ratelimit"
	"github.com/dss-platform/auth/internal/auth/service"
	"github.com/dss-platform/auth/internal/auth/store"
	redisstore "github.com/dss-platform/auth/internal/auth/store/drivers/redis"
	"github.com/dss-platform/auth/pkg/httpx"
	"github.com/dss-platform/auth/pkg/jwtx"
	"github.com/dss-platform/auth/pkg/keystore"
	"github.com/dss-platform/auth/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	keys     *keystore.Store
	registry store.Registry
	codec    *jwtx.Codec

	tokenService *service.TokenService

	server *http.Server

	watchCancel context.CancelFunc
}

// New creates an Application with all dependencies initialized. The key
// directory must already hold a usable active key; provisioning is the
// authkeys CLI's job.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "auth-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initKeys(); err != nil {
		return nil, err
	}
	if err := app.initRegistry(); err != nil {
		return nil, err
	}
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	// The directory watch picks up key rotations done by the CLI without a
	// restart.
	watchCtx, cancel := context.WithCancel(context.Background())
	app.watchCancel = cancel
	go func() {
		if err := app.keys.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error("key directory watch failed", "error", err)
		}
	}()

	app.logger.Info("auth service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"active_kid", app.keys.ActiveKid(),
	)

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

// Shutdown gracefully stops the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.watchCancel != nil {
		app.watchCancel()
	}

	if err := app.registry.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) initKeys() error {
	keys, err := keystore.Open(app.cfg.KeysDir, keystore.Options{
		ActiveKid: app.cfg.ActiveKid,
	})
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	app.keys = keys

	app.codec = &jwtx.Codec{
		Keys:       keys,
		Issuer:     app.cfg.Issuer,
		Audience:   app.cfg.Audience,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
		ServiceTTL: app.cfg.ServiceTTL,
		Leeway:     app.cfg.ClockTolerance,
	}

	app.logger.Info("key store loaded",
		"dir", app.cfg.KeysDir,
		"active_kid", keys.ActiveKid(),
		"kids", keys.Kids(),
	)
	return nil
}

func (app *Application) initRegistry() error {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", app.cfg.RedisAddr, err)
	}

	app.registry = redisstore.New(rdb)
	app.logger.Info("connected to shared store", "addr", app.cfg.RedisAddr)
	return nil
}

func (app *Application) initServices() {
	limits := ratelimit.NewLimiters(app.registry.Counters(), ratelimit.Config{
		LoginIPLimit:       int64(app.cfg.LoginIPLimit),
		LoginIPWindow:      app.cfg.LoginIPWindow,
		LoginAccountLimit:  int64(app.cfg.LoginAccountLimit),
		LoginAccountWindow: app.cfg.LoginAccountWindow,
		ResetLimit:         int64(app.cfg.ResetLimit),
		ResetWindow:        app.cfg.ResetWindow,
		RefreshLimit:       int64(app.cfg.RefreshLimit),
		RefreshWindow:      app.cfg.RefreshWindow,
	})

	dir := directory.New(app.cfg.DirectoryURL, app.cfg.DirectoryAudience, app.codec)

	app.tokenService = service.NewTokenService(
		app.codec,
		app.registry,
		limits,
		dir,
		service.TokenConfig{
			RevocationFailOpen: app.cfg.RevocationFailOpen,
			ResetTTL:           app.cfg.ResetTTL,
		},
		app.logger,
	)
}

func (app *Application) initHTTP() {
	handler := httpapi.New(
		app.tokenService,
		app.keys,
		app.registry,
		httpapi.Config{
			CookieSecure: app.cfg.CookieSecure,
			CookieDomain: app.cfg.CookieDomain,
			RefreshTTL:   app.cfg.RefreshTTL,
			JWKSCacheTTL: app.cfg.JWKSCacheTTL,
		},
		app.logger,
	)

	// A coarse in-process limit sits outside the store-backed limiters as a
	// per-instance safety net: it keeps a single address from flooding this
	// replica even when the shared store is degraded.
	limit := httpx.RateLimitByIP(httpx.RateLimitConfig{
		RequestsPerWindow: 300,
		Window:            time.Minute,
		Burst:             50,
	})

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           slogx.HTTPMiddleware(app.logger)(limit(handler.Routes())),
		ReadHeaderTimeout: 3 * time.Second,
	}
}
